package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/kirillkom/notation-ocr/internal/bootstrap"
	"github.com/kirillkom/notation-ocr/internal/config"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
	"github.com/kirillkom/notation-ocr/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.EventTransport != config.TransportNATS {
		log.Fatalf("worker requires EVENT_TRANSPORT=nats, got %q", cfg.EventTransport)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:   logger,
		Observer: workerMetrics.Workflow(),
		OnRetry:  workerMetrics.Workflow().ObserveRetry,
		RunsOCR:  true,
	})
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := startMetricsServer(logger, cfg.WorkerMetricsPort, workerMetrics.Handler())
	defer shutdownMetricsServer(logger, metricsServer)

	if app.Purger != nil {
		go purgeLoop(ctx, logger, app.Purger, cfg.PurgeInterval, workerMetrics)
	}

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeObjectCreated(ctx, func(handlerCtx context.Context, event events.S3Event) error {
		started := time.Now()
		for _, record := range event.Records {
			if !record.EventTime.IsZero() {
				workerMetrics.ObserveEventLag(serviceName, started.Sub(record.EventTime))
			}
		}

		workerMetrics.StartEvent()
		processCtx, cancel := context.WithTimeout(handlerCtx, 2*time.Minute)
		defer cancel()
		results, err := app.StorageEvents.HandleEvent(processCtx, event)
		workerMetrics.FinishEvent(serviceName, time.Since(started), err)
		for _, res := range results {
			logger.Info("storage event handled",
				"workflow_id", res.WorkflowID,
				"status", res.Status,
				"job_id", res.JobID,
				"duplicate", res.Duplicate,
			)
		}
		return err
	})
	if err != nil {
		logger.Error("worker subscribe error", "error", err)
		os.Exit(1)
	}
}

func purgeLoop(ctx context.Context, logger *slog.Logger, purger bootstrap.Purger, interval time.Duration, workerMetrics *metrics.WorkerMetrics) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				logging.LogError(ctx, logger, "purge expired workflows failed", err)
				continue
			}
			workerMetrics.RecordPurged(serviceName, n)
			if n > 0 {
				logger.Info("expired workflows purged", "count", n)
			}
		}
	}
}

func startMetricsServer(logger *slog.Logger, port string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker metrics listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server error", "error", err)
		}
	}()
	return server
}

func shutdownMetricsServer(logger *slog.Logger, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("worker metrics shutdown error", "error", err)
	}
}
