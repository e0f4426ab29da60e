package notification

import (
	"net/http"

	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// TestEmailRequest is the body of POST /api/v1/emails/test.
type TestEmailRequest struct {
	To              string  `json:"to" validate:"required,email"`
	EmailTemplateID *string `json:"emailTemplateId" validate:"omitempty,uuid"`
}

// Handler serves the email endpoints.
type Handler struct {
	svc *Service
	val *validator.Validator
	log *logger.Logger
}

// NewHandler creates a new notification handler.
func NewHandler(svc *Service, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, log: log}
}

// HandleTestEmail sends a rendered template to an address of the caller's choice.
// POST /api/v1/emails/test
func (h *Handler) HandleTestEmail(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req TestEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Fields(err))
		return
	}

	var templateID *uuid.UUID
	if req.EmailTemplateID != nil {
		parsed := uuid.MustParse(*req.EmailTemplateID)
		templateID = &parsed
	}

	result, err := h.svc.SendTest(c.Request.Context(), id.UserID(), req.To, templateID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
