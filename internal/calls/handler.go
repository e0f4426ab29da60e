package calls

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
	maxWebhookBody    = 1 << 20
)

// Handler serves the calls endpoints.
type Handler struct {
	svc *Service
	val *validator.Validator
	log *logger.Logger
}

// TestCallRequest is the body of POST /api/v1/calls/test.
type TestCallRequest struct {
	LeadID string `json:"leadId" validate:"required,uuid"`
}

// InstructionsRequest is the body of POST /vapi/campaign-instructions. Both
// key spellings are accepted.
type InstructionsRequest struct {
	CampaignID      string `json:"campaign_id"`
	CampaignIDCamel string `json:"campaignId"`
}

// InstructionsResponse carries the rendered assistant prompt.
type InstructionsResponse struct {
	Instructions string `json:"instructions"`
}

// NewHandler creates a new calls handler.
func NewHandler(svc *Service, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, log: log}
}

// HandleWebhook reconciles a voice provider event. The provider always gets
// a 200 so it does not retry events we could not use.
// POST /vapi/webhook
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.log.Warn("voice webhook body unreadable", "error", err)
		httpkit.Accepted(c)
		return
	}
	if err := h.svc.HandleWebhook(c.Request.Context(), body); err != nil {
		h.log.Error("voice webhook reconcile failed", "error", err)
	}
	httpkit.Accepted(c)
}

// HandleTestCall runs one of the caller's leads through the gate now.
// POST /api/v1/calls/test
func (h *Handler) HandleTestCall(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req TestCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Fields(err))
		return
	}

	lead, err := h.svc.leadForUser(c.Request.Context(), uuid.MustParse(req.LeadID), id.UserID())
	if errors.Is(err, repository.ErrLeadNotFound) {
		httpkit.HandleError(c, apperr.NotFound("lead not found"))
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}

	result, err := h.svc.AttemptCall(c.Request.Context(), lead)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// HandleCampaignInstructions returns the assistant prompt for a campaign.
// GET /vapi/campaign-instructions?campaign_id=
// POST /vapi/campaign-instructions
func (h *Handler) HandleCampaignInstructions(c *gin.Context) {
	raw := c.Query("campaign_id")
	if c.Request.Method == http.MethodPost {
		var req InstructionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
			return
		}
		raw = req.CampaignID
		if raw == "" {
			raw = req.CampaignIDCamel
		}
	}

	var campaignID *uuid.UUID
	if raw = strings.TrimSpace(raw); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpkit.HandleError(c, apperr.Validation("campaign_id must be a uuid"))
			return
		}
		campaignID = &id
	}
	httpkit.OK(c, InstructionsResponse{Instructions: h.svc.CampaignInstructions(c.Request.Context(), campaignID)})
}
