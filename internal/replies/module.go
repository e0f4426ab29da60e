package replies

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
)

const inboundSecretHeader = "X-Inbound-Secret"

// ModuleConfig combines the settings the replies module reads.
type ModuleConfig interface {
	config.ReplyConfig
	config.IMAPConfig
}

// Module is the replies module implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
	gmail   *GmailPoller
	imap    *IMAPPoller
	secret  string
}

// NewModule wires the reconciler, both pollers and the inbound webhook.
// accounts may be nil when Google is not configured.
func NewModule(cfg ModuleConfig, leads LeadStore, logs LogStore, accounts GmailAccounts, bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Module {
	svc := NewService(leads, logs, bus, m, log)
	if cfg.GetInboundEmailSecret() == "" {
		log.Warn("INBOUND_EMAIL_SECRET not set, inbound email webhooks will be refused")
	}
	return &Module{
		service: svc,
		handler: NewHandler(svc, log),
		gmail:   NewGmailPoller(accounts, svc, log),
		imap:    NewIMAPPoller(DialerFromConfig(cfg), svc, log),
		secret:  cfg.GetInboundEmailSecret(),
	}
}

// Service exposes the reconciler.
func (m *Module) Service() *Service {
	return m.service
}

// GmailPoller is run by the scheduler.
func (m *Module) GmailPoller() *GmailPoller {
	return m.gmail
}

// IMAPPoller is run by the scheduler.
func (m *Module) IMAPPoller() *IMAPPoller {
	return m.imap
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "replies"
}

// RegisterRoutes mounts the inbound email webhook.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Webhooks.POST("/webhooks/inbound-email", httpkit.SharedSecret(inboundSecretHeader, m.secret), m.handler.HandleInbound)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
