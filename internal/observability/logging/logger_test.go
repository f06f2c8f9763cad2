package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

func TestLogErrorWritesClassification(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithRequestID(context.Background(), "req-1")

	err := &domain.DependencyError{Service: domain.ServiceOCR, Code: "ThrottlingException", Retryable: true, Err: errors.New("slow down")}
	LogError(ctx, logger, "start ocr job failed", err, "workflow_id", "wf-1")

	var entry map[string]any
	if decodeErr := json.Unmarshal(buf.Bytes(), &entry); decodeErr != nil {
		t.Fatalf("decode log entry: %v", decodeErr)
	}
	if entry["level"] != "WARN" {
		t.Fatalf("expected WARN for retryable error, got %v", entry["level"])
	}
	if entry["error_code"] != domain.CodeDependency {
		t.Fatalf("unexpected error_code: %v", entry["error_code"])
	}
	if entry["retryable"] != true {
		t.Fatalf("expected retryable=true, got %v", entry["retryable"])
	}
	if entry["workflow_id"] != "wf-1" || entry["request_id"] != "req-1" {
		t.Fatalf("missing correlation ids: %v", entry)
	}
	if entry["dependency"] != "ocr-engine" {
		t.Fatalf("unexpected dependency: %v", entry["dependency"])
	}
}

func TestLogErrorNonRetryableIsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogError(context.Background(), logger, "bad request", domain.WrapError(domain.ErrInvalidFileType, "issue", errors.New("pdf")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["level"] != "ERROR" || entry["error_code"] != domain.CodeInvalidType {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatalf("request_id must be omitted without a request context")
	}
}
