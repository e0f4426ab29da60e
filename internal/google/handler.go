package google

import (
	"net/http"

	"leadflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const connectedPage = "<!DOCTYPE html><html><body><script>window.close();</script><p>Google connected. You may close this tab.</p></body></html>"

// Handler serves the Google connection endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Google handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// HandleStart returns the consent URL for the caller.
// GET /api/v1/google/oauth/start
func (h *Handler) HandleStart(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	url, err := h.svc.AuthURL(id.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"url": url})
}

// HandleCallback finishes the OAuth flow.
// GET /oauth/google/callback
func (h *Handler) HandleCallback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		httpkit.Error(c, http.StatusBadRequest, "google authorization failed", reason)
		return
	}
	if _, err := h.svc.Exchange(c.Request.Context(), c.Query("state"), c.Query("code")); httpkit.HandleError(c, err) {
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(connectedPage))
}

// HandleStatus reports whether the caller connected an account.
// GET /api/v1/google/status
func (h *Handler) HandleStatus(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	email, connected, err := h.svc.Status(c.Request.Context(), id.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"connected": connected, "email": email, "enabled": h.svc.Enabled()})
}

// HandleDisconnect forgets the caller's tokens.
// DELETE /api/v1/google/connection
func (h *Handler) HandleDisconnect(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	if httpkit.HandleError(c, h.svc.Disconnect(c.Request.Context(), id.UserID())) {
		return
	}
	httpkit.Accepted(c)
}
