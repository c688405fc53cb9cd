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

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"fax/internal/awsutil"
	"fax/internal/bootstrap"
	"fax/internal/config"
	"fax/internal/httpserver"
	"fax/internal/logging"
	"fax/internal/observability"
	sqsqueue "fax/internal/queue/sqs"
	"fax/internal/service"
	workerproc "fax/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	log := logging.Init("worker", cfg.LogFormat)

	// Use a root ctx we can cancel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.DBConfig, log)
	if err != nil {
		slog.Error("worker db connect failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("worker sqs client init failed", "err", err)
		os.Exit(1)
	}
	queueReachable := func(c context.Context) error {
		_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.SQSQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := store.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if err := queueReachable(startupCtx); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	backend, err := bootstrap.NewMedia(ctx, cfg.MediaConfig)
	if err != nil {
		slog.Error("worker media backend init failed", "err", err)
		os.Exit(1)
	}
	provider, err := bootstrap.NewProvider(cfg.TelnyxConfig)
	if err != nil {
		slog.Error("worker provider init failed", "err", err)
		os.Exit(1)
	}
	svc := &service.FaxService{
		Store:      store,
		Dispatcher: bootstrap.NewDispatcher(store, provider, bootstrap.NewNotifier(cfg.NotifyConfig, log), cfg.TelnyxConfig, log),
		Media:      backend,
		Log:        log,
		PresignTTL: cfg.PresignTTL,
	}

	consumer := &sqsqueue.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// health server (liveness + readiness)
	health := httpserver.New()
	health.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	health.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, store.Ping, queueReachable)).Methods(http.MethodGet)

	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: health.Handler(), ReadHeaderTimeout: 10 * time.Second}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()
	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	// provider pacing + breaker + processor
	processor := &workerproc.Processor{
		Jobs:    svc,
		Limiter: rate.NewLimiter(rate.Limit(cfg.ProviderRPSPerPod), cfg.ProviderBurst),
		Breaker: workerproc.NewBreaker("telnyx", cfg.BreakerFailures, cfg.BreakerOpenDuration, log),
		Log:     log,
	}

	// start polling
	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting poll", "queue_url", cfg.SQSQueueURL, "concurrency", cfg.WorkerConcurrency)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.WorkerConcurrency, func(ctx context.Context, msg sqsqueue.DispatchMessage) (err error) {
			start := time.Now()
			defer func() {
				if err != nil {
					slog.Info("worker job finish", "job_id", msg.JobID, "status", "error", "duration", time.Since(start), "err", err)
				} else {
					slog.Info("worker job finish", "job_id", msg.JobID, "status", "ok", "duration", time.Since(start))
				}
			}()
			return processor.Process(ctx, msg)
		})
	}()

	// shutdown wiring
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	pollDone := false
	select {
	case err := <-pollErrCh:
		pollDone = true
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker poll failed", "err", err)
			exitCode = 1
		}
	case err := <-healthErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker health server failed", "err", err)
			exitCode = 1
		}
	case err := <-metricsErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server failed", "err", err)
			exitCode = 1
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	if !pollDone {
		select {
		case <-pollErrCh:
		case <-time.After(10 * time.Second):
			slog.Info("worker shutdown timeout waiting for poll loop")
		}
	}

	if exitCode != 0 {
		closeStore()
		os.Exit(exitCode)
	}
}
