package google

import (
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the Google connection module implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
}

// NewModule wires the token repository, service and handler.
func NewModule(pool *pgxpool.Pool, cfg config.GoogleConfig, stateSecret string, log *logger.Logger) *Module {
	svc := NewService(NewRepository(pool), cfg, stateSecret, log)
	return &Module{service: svc, handler: NewHandler(svc)}
}

// Service exposes token sources to email sending and reply polling.
func (m *Module) Service() *Service {
	return m.service
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "google"
}

// RegisterRoutes mounts the OAuth routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Engine.GET("/oauth/google/callback", m.handler.HandleCallback)
	ctx.Protected.GET("/google/oauth/start", m.handler.HandleStart)
	ctx.Protected.GET("/google/status", m.handler.HandleStatus)
	ctx.Protected.DELETE("/google/connection", m.handler.HandleDisconnect)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
