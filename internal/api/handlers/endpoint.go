package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbalsam/ripple/internal/api"
	"github.com/tbalsam/ripple/internal/logger"
	"github.com/tbalsam/ripple/internal/session"
	"github.com/tbalsam/ripple/internal/wire"
)

// EndpointHandler exposes registered endpoints over HTTP. Unlike the socket
// tunnel it runs endpoints regardless of socket safety; this is where
// credential-swapping endpoints like log_out belong.
type EndpointHandler struct {
	registry *api.Registry
	cookies  session.CookieStore
}

func NewEndpointHandler(registry *api.Registry, cookies session.CookieStore) *EndpointHandler {
	return &EndpointHandler{registry: registry, cookies: cookies}
}

type endpointRequest struct {
	Cookie    string          `json:"cookie" binding:"required"`
	SessionID string          `json:"sessionID"`
	Input     json.RawMessage `json:"input"`
}

// PostEndpoint runs one endpoint call.
// POST /v1/api/:endpoint
func (h *EndpointHandler) PostEndpoint(c *gin.Context) {
	name := c.Param("endpoint")
	endpoint, ok := h.registry.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown endpoint"})
		return
	}

	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	viewer, err := session.FetchViewer(c.Request.Context(), h.cookies, wire.SessionIdentification{
		Cookie:    req.Cookie,
		SessionID: req.SessionID,
	}, time.Now())
	if errors.Is(err, session.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	response, err := endpoint.Responder(c.Request.Context(), viewer, req.Input)
	if errors.Is(err, session.ErrNotLoggedIn) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not logged in"})
		return
	}
	if err != nil {
		logger.Warnf("endpoint %s: %v", name, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payload": response})
}
