// Package handler provides HTTP handlers for the leads API.
package handler

import (
	"io"
	"net/http"
	"time"

	"leadflow_backend/internal/leads/intake"
	"leadflow_backend/internal/leads/management"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest = "invalid request body"
	msgInvalidLeadID  = "invalid lead id"
	msgInvalidSince   = "since must be an RFC3339 timestamp"
	maxAcceptBytes    = 5 << 20
)

// Handler handles HTTP requests for leads.
type Handler struct {
	intake     *intake.Service
	management *management.Service
}

// New creates a new leads handler.
func New(intakeSvc *intake.Service, mgmt *management.Service) *Handler {
	return &Handler{intake: intakeSvc, management: mgmt}
}

// Accept saves a batch of leads and schedules contact.
// POST /api/v1/leads/accept
func (h *Handler) Accept(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAcceptBytes))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	batch, err := transport.ParseAcceptBody(raw)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	resp, err := h.intake.Accept(c.Request.Context(), id.UserID(), batch)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GetByID returns a lead with its delivery state.
// GET /api/v1/leads/:id
func (h *Handler) GetByID(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}

	lead, err := h.management.GetByID(c.Request.Context(), identity.UserID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

// Activity returns the call and email history of a lead.
// GET /api/v1/leads/:id/activity?since=<RFC3339>
func (h *Handler) Activity(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidSince, nil)
			return
		}
		t = t.UTC()
		since = &t
	}

	resp, err := h.management.Activity(c.Request.Context(), identity.UserID(), id, since)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}
