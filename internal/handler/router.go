package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the optional pieces of the router.
type RouterConfig struct {
	Logger *slog.Logger
	// Metrics serves /metrics when set.
	Metrics     http.Handler
	HTTPMetrics *HTTPMetrics
	// RateLimiter guards every API route when set.
	RateLimiter *RateLimiter
}

// NewRouter builds the HTTP API.
func NewRouter(campaigns *CampaignHandler, work *WorkHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	if cfg.Logger != nil {
		r.Use(Logger(cfg.Logger)) // structured access log
	}
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Middleware)
	}
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", campaigns.CreateCampaign)
			r.Get("/", campaigns.ListCampaigns)
			r.Get("/{id}", campaigns.GetCampaign)
			r.Patch("/{id}", campaigns.UpdateCampaign)
			r.Delete("/{id}", campaigns.DeleteCampaign)
			r.Post("/{id}/applications", campaigns.Apply)
			r.Get("/{id}/applications", campaigns.ListApplications)
			r.Post("/{id}/approvals", campaigns.BatchApprove)
		})

		r.Route("/applications/{id}", func(r chi.Router) {
			r.Post("/approve", campaigns.Approve)
			r.Post("/reject", campaigns.Reject)
			r.Post("/withdraw", campaigns.Withdraw)
		})

		r.Route("/queues/{queue}", func(r chi.Router) {
			r.Post("/items", work.Enqueue)
			r.Get("/items", work.ListItems)
			r.Post("/claim", work.Claim)
		})

		r.Route("/work/{id}", func(r chi.Router) {
			r.Post("/complete", work.Complete)
			r.Post("/fail", work.Fail)
		})
	})

	return r
}
