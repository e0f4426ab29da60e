package credits

import (
	"context"

	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the credits bounded context module implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
}

// NewModule wires the credits repository, service and handler, and subscribes
// billing to completed calls.
func NewModule(pool *pgxpool.Pool, cfg config.BillingConfig, bus events.Bus, m *metrics.Metrics, val *validator.Validator, log *logger.Logger) *Module {
	svc := NewService(NewRepository(pool), cfg, bus, m, log)
	mod := &Module{
		service: svc,
		handler: NewHandler(svc, cfg, val),
	}
	mod.RegisterHandlers(bus, log)
	return mod
}

// RegisterHandlers subscribes to the events that drive billing.
func (m *Module) RegisterHandlers(bus events.Bus, log *logger.Logger) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.CallCompleted{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.CallCompleted)
		if !ok {
			return nil
		}
		_, err := m.service.BillCall(ctx, BillCallParams{
			ExternalCallID:  e.ExternalCallID,
			LeadID:          e.LeadID,
			UserID:          e.UserID,
			DurationSeconds: e.DurationSeconds,
		})
		return err
	}))
	bus.Subscribe(events.CreditsAdded{}.EventName(), events.HandlerFunc(func(_ context.Context, event events.Event) error {
		if e, ok := event.(events.CreditsAdded); ok {
			log.Info("credits added", "domain", e.Domain, "delta", e.Delta, "reason", e.Reason)
		}
		return nil
	}))
}

// Service exposes the credits service for other modules.
func (m *Module) Service() *Service {
	return m.service
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "credits"
}

// RegisterRoutes mounts credits routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/credits", m.handler.HandleGetBalance)
	ctx.Admin.POST("/credits/grant", m.handler.HandleGrant)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
