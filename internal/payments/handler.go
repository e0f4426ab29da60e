package payments

import (
	"errors"
	"io"
	"net/http"

	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
	signatureHeader   = "Stripe-Signature"
	maxWebhookBytes   = 65536
)

// CheckoutRequest is the body of POST /api/v1/billing/checkout.
type CheckoutRequest struct {
	AmountCents int64  `json:"amountCents" validate:"required,gte=100,lte=10000000"`
	ReturnTo    string `json:"returnTo" validate:"omitempty,url"`
}

// Handler serves the billing endpoints.
type Handler struct {
	svc *Service
	val *validator.Validator
	log *logger.Logger
}

// NewHandler creates a new payments handler.
func NewHandler(svc *Service, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, log: log}
}

// HandleCheckout opens a checkout session for the caller's organization.
// POST /api/v1/billing/checkout
func (h *Handler) HandleCheckout(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Fields(err))
		return
	}

	result, err := h.svc.CreateCheckout(c.Request.Context(), id.UserID(), req.AmountCents, req.ReturnTo)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// HandleWebhook receives Stripe events.
// POST /stripe/webhook
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}

	result, err := h.svc.HandleWebhook(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	switch {
	case errors.Is(err, ErrWebhookNotConfigured):
		h.log.Error("stripe webhook received but STRIPE_WEBHOOK_SECRET is not set")
		httpkit.Error(c, http.StatusServiceUnavailable, "webhook not configured", nil)
		return
	case errors.Is(err, ErrInvalidSignature):
		h.log.Warn("stripe webhook signature rejected", "error", err)
		httpkit.Error(c, http.StatusBadRequest, "invalid signature", nil)
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "type": result.Type, "applied": result.Applied})
}
