// Package http defines how feature modules plug their routes into the API.
package http

import (
	"leadflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module is implemented by every feature package that serves HTTP.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext hands modules the pre-built route groups.
type RouterContext struct {
	Engine *gin.Engine
	// Protected is /api/v1 behind bearer auth.
	Protected *gin.RouterGroup
	// Admin is /api/v1/admin, restricted to the admin role.
	Admin *gin.RouterGroup
	// Webhooks is the unauthenticated root group for provider callbacks.
	Webhooks       *gin.RouterGroup
	WebhookLimiter *httpkit.IPRateLimiter
}
