package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/admission"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/database"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/dispatch"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/handler"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/service"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), migrateFirst)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving (postgres only)")
	return cmd
}

func (a *app) serve(parent context.Context, migrateFirst bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	tp, err := telemetry.NewProvider(ctx, a.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracing shutdown", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ── 2. Storage ───────────────────────────────────────────────────────
	if migrateFirst && a.cfg.Store == "postgres" {
		if err := database.Migrate(a.cfg.DB.URL("pgx5"), database.Up, a.logger); err != nil {
			return err
		}
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()

	// ── 3. Wire up layers ────────────────────────────────────────────────
	ctrl := admission.New(store,
		admission.WithLockTimeout(a.cfg.Admission.LockTimeout),
		admission.WithLogger(a.logger.With("component", "admission")),
		admission.WithMetrics(admission.NewMetrics(reg)),
		admission.WithTracer(tp.Tracer()),
	)
	dispatcher := dispatch.New(store,
		dispatch.WithMaxAttempts(a.cfg.Dispatch.MaxAttempts),
		dispatch.WithLockTimeout(a.cfg.Admission.LockTimeout),
		dispatch.WithLogger(a.logger.With("component", "dispatch")),
		dispatch.WithMetrics(dispatch.NewMetrics(reg)),
		dispatch.WithTracer(tp.Tracer()),
	)
	svc := service.NewCampaignService(store, ctrl, a.cfg.Report.CacheTTL, a.logger.With("component", "service"))

	routerCfg := handler.RouterConfig{
		Logger:      a.logger.With("component", "http"),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		HTTPMetrics: handler.NewHTTPMetrics(reg),
	}
	if rl := a.cfg.HTTP.RateLimit; rl.RPS > 0 {
		limiter := handler.NewRateLimiter(rl.RPS, rl.Burst)
		limiter.StartJanitor(ctx, 2*time.Minute)
		routerCfg.RateLimiter = limiter
	}
	router := handler.NewRouter(
		handler.NewCampaignHandler(svc, routerCfg.Logger),
		handler.NewWorkHandler(dispatcher, routerCfg.Logger),
		routerCfg,
	)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + a.cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", srv.Addr, "store", a.cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
