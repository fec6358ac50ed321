package socket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbalsam/ripple/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Credentials travel inside the INITIAL frame, not in browser
		// cookies, so cross-origin upgrades carry no ambient authority.
		return true
	},
}

// Server upgrades HTTP requests and hands each connection to Serve.
type Server struct {
	deps Deps
}

// NewServer builds the WebSocket endpoint handler.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// HandleWebSocket is the gin handler for the /ws route.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("websocket upgrade: %v", err)
		return
	}
	logger.Debugf("websocket connected: %s", c.Request.RemoteAddr)
	Serve(s.deps, conn)
	logger.Debugf("websocket disconnected: %s", c.Request.RemoteAddr)
}
