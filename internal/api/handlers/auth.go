// Package handlers holds the REST responders that sit outside the socket
// protocol: account creation and credential issuance.
package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbalsam/ripple/internal/crypto"
	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/session"
	"github.com/tbalsam/ripple/internal/wire"
)

// cookieSecretBytes matches the socket credential format: "<id>:<secret>".
const cookieSecretBytes = 32

type AuthHandler struct {
	db         *sql.DB
	queries    *models.Queries
	jwtManager *crypto.JWTManager
}

func NewAuthHandler(db *sql.DB, jwtManager *crypto.JWTManager) *AuthHandler {
	return &AuthHandler{
		db:         db,
		queries:    models.New(db),
		jwtManager: jwtManager,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Platform string `json:"platform"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Platform string `json:"platform"`
}

type anonymousRequest struct {
	Platform string `json:"platform"`
}

type authResponse struct {
	Token           string               `json:"token"`
	Cookie          string               `json:"cookie"`
	CurrentUserInfo wire.CurrentUserInfo `json:"currentUserInfo"`
}

// PostRegister creates an account and issues its first credential.
// POST /v1/auth/register
func (h *AuthHandler) PostRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, err := h.queries.GetUserByUsername(c.Request.Context(), req.Username)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
		return
	}
	if !errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	passwordHash, err := crypto.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}

	userID := uuid.NewString()
	now := time.Now()
	if err := h.queries.CreateUser(c.Request.Context(), models.CreateUserParams{
		ID:           userID,
		Username:     req.Username,
		PasswordHash: passwordHash,
		CreatedAt:    now.UnixMilli(),
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	h.issueCredential(c, userID, req.Username, req.Platform)
}

// PostLogin verifies a password and issues a fresh credential.
// POST /v1/auth/login
func (h *AuthHandler) PostLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.queries.GetUserByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if !crypto.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.issueCredential(c, user.ID, user.Username, req.Platform)
}

// PostAnonymous issues an anonymous credential for first contact.
// POST /v1/auth/anonymous
func (h *AuthHandler) PostAnonymous(c *gin.Context) {
	var req anonymousRequest
	// The body is optional for anonymous issuance.
	_ = c.ShouldBindJSON(&req)

	credential, err := session.IssueAnonymousCookie(c.Request.Context(), h.queries, req.Platform, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue credential"})
		return
	}

	token, err := h.jwtManager.CreateToken(credential.CurrentUserInfo.ID, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}

	c.JSON(http.StatusOK, authResponse{
		Token:           token,
		Cookie:          credential.Cookie,
		CurrentUserInfo: credential.CurrentUserInfo,
	})
}

func (h *AuthHandler) issueCredential(c *gin.Context, userID, username, platform string) {
	secretBytes, err := crypto.RandBytes(make([]byte, cookieSecretBytes))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate secret"})
		return
	}
	secret := crypto.BytesToBase64(secretBytes)
	cookieID := uuid.NewString()
	if err := h.queries.CreateCookie(c.Request.Context(), models.CreateCookieParams{
		ID:        cookieID,
		UserID:    userID,
		Secret:    secret,
		Platform:  platform,
		CreatedAt: time.Now().UnixMilli(),
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create cookie"})
		return
	}

	token, err := h.jwtManager.CreateToken(userID, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}

	c.JSON(http.StatusOK, authResponse{
		Token:           token,
		Cookie:          session.CookiePair(cookieID, secret),
		CurrentUserInfo: wire.CurrentUserInfo{ID: userID, Username: username},
	})
}
