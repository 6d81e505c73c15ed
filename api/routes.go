package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/worksphere/mailsync/api/handlers"
	"github.com/worksphere/mailsync/api/middleware"
	"github.com/worksphere/mailsync/internal/repository"
	"github.com/worksphere/mailsync/internal/tracing"
	"github.com/worksphere/mailsync/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// setup handlers
	apiHandlers := handlers.InitHandlers(repos, s.SyncService)

	// Health check endpoint (no auth needed)
	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILSYNC-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		accounts := api.Group("/accounts")
		{
			accounts.POST("", apiHandlers.Accounts.Create())
			accounts.GET("/:id", apiHandlers.Accounts.Get())
			accounts.GET("/:id/sync/progress", apiHandlers.Accounts.SyncProgress())
			accounts.POST("/:id/sync/continue", apiHandlers.Accounts.ContinueSync())
			accounts.POST("/:id/sync/fetch", apiHandlers.Accounts.FetchNewEmails())
			accounts.GET("/:id/sync/logs", apiHandlers.Accounts.SyncLogs())
			accounts.GET("/:id/emails", apiHandlers.Emails.List())
		}
	}
}
