package credits

import (
	"net/http"
	"strings"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// Handler serves the credits endpoints.
type Handler struct {
	svc *Service
	cfg config.BillingConfig
	val *validator.Validator
}

// NewHandler creates a new credits handler.
func NewHandler(svc *Service, cfg config.BillingConfig, val *validator.Validator) *Handler {
	return &Handler{svc: svc, cfg: cfg, val: val}
}

// BalanceResponse is returned by GET /api/v1/credits.
type BalanceResponse struct {
	Domain              string `json:"domain"`
	Balance             int64  `json:"balance"`
	PriceCentsPerMinute int64  `json:"priceCentsPerMinute"`
	MinRequired         int64  `json:"minRequired"`
}

// GrantRequest is the admin top-up body.
type GrantRequest struct {
	Domain string `json:"domain" validate:"required,fqdn"`
	Amount int64  `json:"amount" validate:"required,gt=0,lte=1000000"`
	Note   string `json:"note" validate:"max=500"`
}

// HandleGetBalance returns the balance of the caller's organization.
// GET /api/v1/credits
func (h *Handler) HandleGetBalance(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	domain, err := h.svc.ResolveDomain(c.Request.Context(), id.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	if domain == "" {
		httpkit.HandleError(c, apperr.NotFound("no billing organization for this account"))
		return
	}

	balance, err := h.svc.Balance(c.Request.Context(), domain)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, BalanceResponse{
		Domain:              domain,
		Balance:             balance,
		PriceCentsPerMinute: h.cfg.GetPriceCentsPerMinute(),
		MinRequired:         h.svc.MinRequiredCredits(),
	})
}

// HandleGrant adds credits to a domain.
// POST /api/v1/admin/credits/grant
func (h *Handler) HandleGrant(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Fields(err))
		return
	}

	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	balance, err := h.svc.Add(c.Request.Context(), domain, req.Amount, ReasonManualGrant, map[string]any{
		"granted_by": id.UserID().String(),
		"note":       req.Note,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"domain": domain, "balance": balance})
}
