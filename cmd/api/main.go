package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/notation-ocr/internal/adapters/http"
	"github.com/kirillkom/notation-ocr/internal/bootstrap"
	"github.com/kirillkom/notation-ocr/internal/config"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
	"github.com/kirillkom/notation-ocr/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:   logger,
		Observer: httpMetrics.Workflow(),
		OnRetry:  httpMetrics.Workflow().ObserveRetry,
	})
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	var uploads *httpadapter.LocalUploads
	if app.LocalStorage != nil {
		uploads = &httpadapter.LocalUploads{
			Bucket:    app.LocalStorage.Bucket(),
			Verifier:  app.LocalSigner,
			Storage:   app.LocalStorage,
			Publisher: app.Publisher,
		}
	}

	router := httpadapter.NewRouter(cfg, app.Dispatcher, uploads, httpMetrics).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", "port", cfg.APIPort, "store", cfg.StoreBackend, "ocr_engine", cfg.OCREngine)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}
}
