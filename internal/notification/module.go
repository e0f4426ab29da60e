// Package notification sends outreach email: the initial email at lead
// acceptance, queued follow-up steps and test sends. Every path ends in the
// email_logs record so replies and activity views can see what went out.
package notification

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/notification/emaillog"
	"leadflow_backend/internal/notification/outbox"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the notification module implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
	logs    *emaillog.Repository
}

// NewModule wires the outbox, the email log and the service, and subscribes
// to the events that produce email.
func NewModule(pool *pgxpool.Pool, cfg config.EmailConfig, leads LeadStore, camps CampaignSource, mailer Mailer, bus events.Bus, m *metrics.Metrics, val *validator.Validator, log *logger.Logger) *Module {
	logs := emaillog.New(pool)
	svc := NewService(leads, camps, outbox.New(pool), logs, mailer, cfg, val, m, log)
	svc.RegisterHandlers(bus)

	if !cfg.GetEmailSendingEnabled() {
		log.Warn("email sending disabled, direct sends will be declined")
	}

	return &Module{
		service: svc,
		handler: NewHandler(svc, val, log),
		logs:    logs,
	}
}

// Service exposes the email service to lead acceptance and the workers.
func (m *Module) Service() *Service {
	return m.service
}

// Logs exposes the email log for activity views and reply ingestion.
func (m *Module) Logs() *emaillog.Repository {
	return m.logs
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// RegisterRoutes mounts email routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/emails/test", m.handler.HandleTestEmail)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
