package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"

	lambdaadapter "github.com/kirillkom/notation-ocr/internal/adapters/lambda"
	"github.com/kirillkom/notation-ocr/internal/bootstrap"
	"github.com/kirillkom/notation-ocr/internal/config"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.EventTransport != config.TransportNone {
		log.Fatalf("lambda requires EVENT_TRANSPORT=none, got %q", cfg.EventTransport)
	}
	logger := logging.NewJSONLogger("lambda", cfg.LogLevel)
	slog.SetDefault(logger)

	app, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	lambda.Start(lambdaadapter.NewHandler(app.Dispatcher).Invoke)
}
