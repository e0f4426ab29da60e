package calls

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/voice"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const webhookSecretHeader = "X-Vapi-Secret"

// ModuleConfig is the configuration the calls module reads.
type ModuleConfig interface {
	config.VoiceConfig
	config.CallPolicyConfig
}

// Module is the calls bounded context module implementing http.Module.
type Module struct {
	service       *Service
	handler       *Handler
	logs          *Repository
	webhookSecret string
}

// NewModule wires the voice client, gate, dispatcher and reconciler.
func NewModule(pool *pgxpool.Pool, cfg ModuleConfig, leads LeadStore, rules RulesSource, credits CreditChecker, bus events.Bus, m *metrics.Metrics, val *validator.Validator, log *logger.Logger) *Module {
	logs := NewRepository(pool)
	client := voice.NewClient(cfg, log)
	gate := NewGate(credits, cfg.GetDefaultPhoneRegion(), cfg.GetAllowCallsWithoutDomain())
	dispatcher := NewDispatcher(client, SettingsFromConfig(cfg), leads, logs, m, log)
	svc := NewService(leads, logs, rules, gate, dispatcher, bus, m, log)

	if !client.Configured() {
		log.Warn("voice provider not configured, calls will not be placed")
	}
	if cfg.GetVapiWebhookSecret() == "" {
		log.Warn("VAPI_WEBHOOK_SECRET not set, voice webhooks will be refused")
	}

	return &Module{
		service:       svc,
		handler:       NewHandler(svc, val, log),
		logs:          logs,
		webhookSecret: cfg.GetVapiWebhookSecret(),
	}
}

// Service exposes the calls service for lead acceptance and the workers.
func (m *Module) Service() *Service {
	return m.service
}

// Logs exposes the call log repository for lead activity views.
func (m *Module) Logs() *Repository {
	return m.logs
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "calls"
}

// RegisterRoutes mounts calls routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	secret := httpkit.SharedSecret(webhookSecretHeader, m.webhookSecret)
	ctx.Webhooks.POST("/vapi/webhook", secret, m.handler.HandleWebhook)
	ctx.Webhooks.GET("/vapi/campaign-instructions", secret, m.handler.HandleCampaignInstructions)
	ctx.Webhooks.POST("/vapi/campaign-instructions", secret, m.handler.HandleCampaignInstructions)
	ctx.Protected.POST("/calls/test", m.handler.HandleTestCall)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
