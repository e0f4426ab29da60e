// Package bootstrap is the composition root shared by the API and scheduler
// binaries. It wires every bounded context onto one pool, one event bus and
// one metrics registry.
package bootstrap

import (
	"context"
	"fmt"

	"leadflow_backend/internal/calls"
	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/credits"
	"leadflow_backend/internal/email"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/google"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads"
	leadrepo "leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/payments"
	"leadflow_backend/internal/replies"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Components holds the wired modules.
type Components struct {
	Bus          events.Bus
	Campaigns    *campaigns.Service
	Credits      *credits.Module
	Google       *google.Module
	Notification *notification.Module
	Calls        *calls.Module
	Replies      *replies.Module
	Payments     *payments.Module
	Leads        *leads.Module

	tasks *scheduler.Client
	redis *redis.Client
	cfg   *config.Config
	m     *metrics.Metrics
	log   *logger.Logger
}

// Build wires all modules. Redis is optional: without it claimed outbox rows
// are sent inline and the job leases are skipped.
func Build(cfg *config.Config, pool *pgxpool.Pool, m *metrics.Metrics, log *logger.Logger) (*Components, error) {
	bus := events.NewInMemoryBus(log)
	val := validator.New()

	leadRepo := leadrepo.New(pool)
	campaignSvc := campaigns.NewService(campaigns.NewRepository(pool), log)
	creditsModule := credits.NewModule(pool, cfg, bus, m, val, log)
	googleModule := google.NewModule(pool, cfg, cfg.GetJWTAccessSecret(), log)

	// Interface values stay nil rather than holding nil pointers.
	var tokens email.TokenSources
	var accounts replies.GmailAccounts
	if cfg.IsGoogleEnabled() {
		tokens = googleModule.Service()
		accounts = googleModule.Service()
	} else {
		log.Warn("google oauth not configured, per-user gmail sending and polling disabled")
	}
	var smtp email.Sender
	if s := email.NewSMTPSenderFromConfig(cfg); s != nil {
		smtp = s
	}
	mailer := email.NewRouter(cfg, tokens, smtp, log)

	notificationModule := notification.NewModule(pool, cfg, leadRepo, campaignSvc, mailer, bus, m, val, log)
	callsModule := calls.NewModule(pool, cfg, leadRepo, campaignSvc, creditsModule.Service(), bus, m, val, log)
	repliesModule := replies.NewModule(cfg, leadRepo, notificationModule.Logs(), accounts, bus, m, log)
	paymentsModule := payments.NewModule(cfg, creditsModule.Service(), val, log)
	leadsModule := leads.NewModule(
		leadRepo,
		cfg,
		callsModule.Service(),
		notificationModule.Service(),
		campaignSvc,
		callsModule.Logs(),
		notificationModule.Logs(),
		bus,
		val,
		log,
	)

	c := &Components{
		Bus:          bus,
		Campaigns:    campaignSvc,
		Credits:      creditsModule,
		Google:       googleModule,
		Notification: notificationModule,
		Calls:        callsModule,
		Replies:      repliesModule,
		Payments:     paymentsModule,
		Leads:        leadsModule,
		cfg:          cfg,
		m:            m,
		log:          log,
	}

	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; outbox rows are sent inline and job leases are disabled")
		return c, nil
	}

	tasks, err := scheduler.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("init task client: %w", err)
	}
	rdb, err := scheduler.NewRedis(cfg)
	if err != nil {
		_ = tasks.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}
	notificationModule.Service().SetTaskEnqueuer(tasks)
	c.tasks = tasks
	c.redis = rdb
	return c, nil
}

// HTTPModules lists the modules that serve routes.
func (c *Components) HTTPModules() []apphttp.Module {
	return []apphttp.Module{
		c.Credits,
		c.Google,
		c.Notification,
		c.Calls,
		c.Replies,
		c.Payments,
		c.Leads,
	}
}

// Jobs lists the periodic jobs for the worker role.
func (c *Components) Jobs() []scheduler.Job {
	deps := scheduler.Deps{
		Calls:    c.Calls.Service(),
		Sequence: c.Notification.Service(),
		Outbox:   c.Notification.Service(),
	}
	if c.cfg.IsGoogleEnabled() {
		deps.Gmail = c.Replies.GmailPoller()
	}
	if c.cfg.IsIMAPEnabled() {
		deps.IMAP = c.Replies.IMAPPoller()
	}
	return scheduler.Jobs(c.cfg, deps)
}

// RunWorkers runs the periodic jobs, and the outbox task worker when Redis is
// configured, until ctx is cancelled.
func (c *Components) RunWorkers(ctx context.Context) error {
	runner := scheduler.NewRunner(c.Jobs(), scheduler.NewLeaser(c.redis), c.m, c.log)
	if err := runner.Start(); err != nil {
		return err
	}
	defer runner.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if c.redis != nil {
		worker, err := scheduler.NewWorker(c.cfg, c.Notification.Service(), c.log)
		if err != nil {
			return fmt.Errorf("init outbox worker: %w", err)
		}
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// Close drains in-flight lead contact work and releases Redis clients.
func (c *Components) Close() {
	c.Leads.Intake().Close()
	if c.tasks != nil {
		_ = c.tasks.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}
