package main

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tbalsam/ripple/internal/api"
	"github.com/tbalsam/ripple/internal/api/handlers"
	"github.com/tbalsam/ripple/internal/api/middleware"
	"github.com/tbalsam/ripple/internal/config"
	"github.com/tbalsam/ripple/internal/crypto"
	"github.com/tbalsam/ripple/internal/database"
	"github.com/tbalsam/ripple/internal/logger"
	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/pubsub"
	"github.com/tbalsam/ripple/internal/session"
	"github.com/tbalsam/ripple/internal/socket"
)

func main() {
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	jwtManager, err := crypto.NewJWTManager(cfg.MasterSecret)
	if err != nil {
		logger.Errorf("Failed to create JWT manager: %v", err)
		os.Exit(1)
	}

	queries := models.New(db.DB)
	sessions := session.NewManager(queries)

	// Cross-process fan-out needs Redis; a single process runs fine on
	// the in-memory bus.
	var bus pubsub.Bus
	if cfg.RedisAddr != "" {
		logger.Infof("Using Redis fan-out at %s", cfg.RedisAddr)
		bus = pubsub.NewRedisBus(cfg.RedisAddr)
	} else {
		logger.Infof("Using in-process fan-out")
		bus = pubsub.NewMemoryBus()
	}

	registry := api.NewDefaultRegistry(api.Endpoints{
		Sessions: sessions,
		Queries:  queries,
		Cookies:  queries,
		Bus:      bus,
	})

	socketServer := socket.NewServer(socket.Deps{
		Sessions:  sessions,
		Cookies:   queries,
		Bus:       bus,
		Endpoints: registry,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	router.Use(middleware.LoggingMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.String(200, "Welcome to Ripple Server!")
	})

	authHandler := handlers.NewAuthHandler(db.DB, jwtManager)
	endpointHandler := handlers.NewEndpointHandler(registry, queries)

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/register", authHandler.PostRegister)
		v1.POST("/auth/login", authHandler.PostLogin)
		v1.POST("/auth/anonymous", authHandler.PostAnonymous)
	}

	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(jwtManager))
	{
		protected.POST("/api/:endpoint", endpointHandler.PostEndpoint)
	}

	// The socket carries credentials in its INITIAL frame, so the upgrade
	// itself is unauthenticated.
	router.GET("/ws", socketServer.HandleWebSocket)

	logger.Infof("Ripple Server starting on %s", cfg.Addr)
	if err := router.Run(cfg.Addr); err != nil {
		logger.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
