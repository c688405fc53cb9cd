package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fax/internal/bootstrap"
	"fax/internal/config"
	"fax/internal/httpserver"
	"fax/internal/logging"
	"fax/internal/observability"
)

// webhook receives Telnyx callbacks only. Status transitions go through the
// dispatcher, so it needs the store and notifier but never calls the provider.
func main() {
	cfg := config.LoadWebhook()
	log := logging.Init("webhook", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observability.Register(prometheus.DefaultRegisterer)

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.DBConfig, log)
	if err != nil {
		slog.Error("webhook db connect failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	limiter, closeLimiter, err := bootstrap.NewLimiter(ctx, cfg.RateLimitConfig)
	if err != nil {
		slog.Error("webhook rate limiter init failed", "err", err)
		os.Exit(1)
	}
	defer closeLimiter()

	dispatcher := bootstrap.NewDispatcher(store, nil, bootstrap.NewNotifier(cfg.NotifyConfig, log), cfg.TelnyxConfig, log)
	guard, err := bootstrap.NewGuard(store, dispatcher, cfg.TelnyxConfig, log)
	if err != nil {
		slog.Error("webhook verifier init failed", "err", err)
		os.Exit(1)
	}

	s := httpserver.New()
	(&httpserver.Webhook{
		Guard:             guard,
		Limiter:           limiter,
		PerIPPerMinute:    cfg.WebhooksPerIPMinute,
		TrustForwardedFor: cfg.TrustForwardedFor,
	}).Register(s.Mux)
	s.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, store.Ping)).Methods(http.MethodGet)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("webhook metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webhook metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("webhook shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("webhook listening", "port", cfg.Port, "signature_check", guard.Verifier != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("webhook server failed", "err", err)
		closeLimiter()
		closeStore()
		os.Exit(1)
	}
}
