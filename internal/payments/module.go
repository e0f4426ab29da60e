package payments

import (
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the payments module implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
}

// NewModule wires checkout and the Stripe webhook onto the credit ledger.
func NewModule(cfg config.StripeConfig, ledger CreditLedger, val *validator.Validator, log *logger.Logger) *Module {
	svc := NewService(nil, ledger, cfg, log)
	if cfg.GetStripeSecretKey() == "" {
		log.Warn("STRIPE_SECRET_KEY not set, checkout is disabled")
	}
	if cfg.GetStripeWebhookSecret() == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET not set, stripe webhook will answer 503")
	}
	return &Module{service: svc, handler: NewHandler(svc, val, log)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "payments"
}

// RegisterRoutes mounts the checkout and webhook routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/billing/checkout", m.handler.HandleCheckout)
	ctx.Engine.POST("/stripe/webhook", ctx.WebhookLimiter.RateLimit(), m.handler.HandleWebhook)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
