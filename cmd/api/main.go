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

	"fax/internal/awsutil"
	"fax/internal/bootstrap"
	"fax/internal/config"
	"fax/internal/httpserver"
	"fax/internal/logging"
	"fax/internal/observability"
	sqsqueue "fax/internal/queue/sqs"
	"fax/internal/service"
)

func main() {
	cfg := config.LoadAPI()
	log := logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observability.Register(prometheus.DefaultRegisterer)

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.DBConfig, log)
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	limiter, closeLimiter, err := bootstrap.NewLimiter(ctx, cfg.RateLimitConfig)
	if err != nil {
		slog.Error("api rate limiter init failed", "err", err)
		os.Exit(1)
	}
	defer closeLimiter()

	backend, err := bootstrap.NewMedia(ctx, cfg.MediaConfig)
	if err != nil {
		slog.Error("api media backend init failed", "err", err)
		os.Exit(1)
	}

	provider, err := bootstrap.NewProvider(cfg.TelnyxConfig)
	if err != nil {
		slog.Error("api provider init failed", "err", err)
		os.Exit(1)
	}
	dispatcher := bootstrap.NewDispatcher(store, provider, bootstrap.NewNotifier(cfg.NotifyConfig, log), cfg.TelnyxConfig, log)

	svc := &service.FaxService{
		Store:              store,
		Dispatcher:         dispatcher,
		Media:              backend,
		Limiter:            limiter,
		Log:                log,
		SupportedCountries: cfg.SupportedCountries,
		JobsPerIPHour:      cfg.JobsPerIPHour,
		PresignTTL:         cfg.PresignTTL,
	}
	// with a queue the worker owns provider calls; without one the API sends inline
	if cfg.SQSQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("api sqs client init failed", "err", err)
			os.Exit(1)
		}
		svc.Queue = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSQueueURL}
	}

	s := httpserver.New()
	(&httpserver.API{Svc: svc, TrustForwardedFor: cfg.TrustForwardedFor}).Register(s.Mux)
	(&httpserver.Media{Backend: backend, PresignTTL: cfg.PresignTTL, RequireSignature: cfg.IsProduction()}).Register(s.Mux)
	if cfg.ServeWebhooks {
		guard, err := bootstrap.NewGuard(store, dispatcher, cfg.TelnyxConfig, log)
		if err != nil {
			slog.Error("api webhook verifier init failed", "err", err)
			os.Exit(1)
		}
		(&httpserver.Webhook{
			Guard:             guard,
			Limiter:           limiter,
			PerIPPerMinute:    cfg.WebhooksPerIPMinute,
			TrustForwardedFor: cfg.TrustForwardedFor,
		}).Register(s.Mux)
	}

	s.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, store.Ping)).Methods(http.MethodGet)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}

	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()
	srvErrCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "port", cfg.Port, "inline_dispatch", svc.Queue == nil, "mock_provider", cfg.MockProviders)
		srvErrCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-srvErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server failed", "err", err)
			exitCode = 1
		}
	case err := <-metricsErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api metrics server failed", "err", err)
			exitCode = 1
		}
	case sig := <-sigCh:
		slog.Info("api shutdown", "signal", sig.String())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	if exitCode != 0 {
		closeLimiter()
		closeStore()
		os.Exit(exitCode)
	}
}
