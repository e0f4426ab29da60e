// Package leads provides the lead intake bounded context module.
// This file defines the module that encapsulates leads setup and route registration.
package leads

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/handler"
	"leadflow_backend/internal/leads/intake"
	"leadflow_backend/internal/leads/management"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler    *handler.Handler
	intake     *intake.Service
	management *management.Service
}

// NewModule wires intake onto the call and email channels and the read side
// onto the call and email logs.
func NewModule(
	repo *repository.Repository,
	cfg config.OutreachConfig,
	callSvc intake.CallAttempter,
	email intake.InitialSender,
	rules intake.RulesSource,
	callHistory management.CallHistory,
	emailHistory management.EmailHistory,
	bus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	intakeSvc := intake.New(repo, callSvc, email, rules, cfg, bus, val, log)
	mgmtSvc := management.New(repo, callHistory, emailHistory)
	return &Module{
		handler:    handler.New(intakeSvc, mgmtSvc),
		intake:     intakeSvc,
		management: mgmtSvc,
	}
}

// Intake exposes the intake service, mainly so shutdown can wait for it.
func (m *Module) Intake() *intake.Service {
	return m.intake
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// RegisterRoutes mounts lead routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	leads := ctx.Protected.Group("/leads")
	leads.POST("/accept", m.handler.Accept)
	leads.GET("/:id", m.handler.GetByID)
	leads.GET("/:id/activity", m.handler.Activity)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
