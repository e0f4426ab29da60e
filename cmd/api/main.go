package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow_backend/internal/bootstrap"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/router"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "role", cfg.ProcessRole)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := db.Migrate(ctx, cfg, log); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	pool, err := db.Connect(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	m := metrics.Default()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	components, err := bootstrap.Build(cfg, pool, m, log)
	if err != nil {
		log.Error("failed to wire modules", "error", err)
		panic("failed to wire modules: " + err.Error())
	}
	defer components.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RunsHTTP() {
		app := &apphttp.App{
			Config:  cfg,
			Logger:  log,
			Metrics: m,
			Health:  db.NewPinger(pool),
			Modules: components.HTTPModules(),
		}
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router.New(app),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info("server listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutdown signal received, gracefully shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.RunsWorkers() {
		g.Go(func() error {
			return components.RunWorkers(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
