package http

import (
	"context"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
)

type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs /api/health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is what the router needs from the composition root.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Metrics may be nil, in which case no request metrics are recorded.
	Metrics *metrics.Metrics
	Health  HealthChecker
	Modules []Module
}
