package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

type storageFake struct {
	objects map[string]string
}

func (f *storageFake) Save(context.Context, string, io.Reader) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open object", errors.New(key))
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type recognizerFake struct {
	fragments []domain.Fragment
	err       error
	seen      string
}

func (f *recognizerFake) Recognize(_ context.Context, image []byte) ([]domain.Fragment, error) {
	f.seen = string(image)
	return f.fragments, f.err
}

func waitJobs(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("jobs did not finish: %v", err)
	}
}

func TestEngineRunsJobToSuccess(t *testing.T) {
	storage := &storageFake{objects: map[string]string{"k": "jpeg-bytes"}}
	recognizer := &recognizerFake{fragments: []domain.Fragment{
		{Text: "1... Nc6", Confidence: 80, Box: &domain.BoundingBox{Left: 0.5, Top: 0.3, Width: 0.2, Height: 0.1}},
		{Text: "1. e4", Confidence: 90, Box: &domain.BoundingBox{Left: 0.1, Top: 0.31, Width: 0.2, Height: 0.1}},
	}}
	engine := NewEngine(context.Background(), storage, recognizer, NewMemoryJobStore(0), 1)

	jobID, err := engine.StartJob(context.Background(), domain.StorageLocation{Bucket: "local", Key: "k"})
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	waitJobs(t, engine)

	result, err := engine.PollJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("PollJob() error = %v", err)
	}
	if result.Status != domain.JobSucceeded {
		t.Fatalf("expected succeeded, got %s", result.Status)
	}
	if result.Text != "1. e4 1... Nc6" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Confidence != 85 {
		t.Fatalf("unexpected confidence %v", result.Confidence)
	}
	if recognizer.seen != "jpeg-bytes" {
		t.Fatalf("recognizer got %q", recognizer.seen)
	}
}

func TestEngineReportsRecognizerFailure(t *testing.T) {
	storage := &storageFake{objects: map[string]string{"k": "x"}}
	engine := NewEngine(context.Background(), storage, &recognizerFake{err: errors.New("unreadable image")}, NewMemoryJobStore(0), 1)

	jobID, err := engine.StartJob(context.Background(), domain.StorageLocation{Key: "k"})
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	waitJobs(t, engine)

	_, err = engine.PollJob(context.Background(), jobID)
	if !domain.IsKind(err, domain.ErrJobFailed) {
		t.Fatalf("expected job failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "unreadable image") {
		t.Fatalf("failure message lost: %v", err)
	}
}

func TestEngineMissingObjectFailsJob(t *testing.T) {
	engine := NewEngine(context.Background(), &storageFake{objects: map[string]string{}}, &recognizerFake{}, NewMemoryJobStore(0), 1)

	jobID, err := engine.StartJob(context.Background(), domain.StorageLocation{Key: "missing"})
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	waitJobs(t, engine)

	if _, err := engine.PollJob(context.Background(), jobID); !domain.IsKind(err, domain.ErrJobFailed) {
		t.Fatalf("expected job failure, got %v", err)
	}
}

func TestEnginePollUnknownJob(t *testing.T) {
	engine := NewEngine(context.Background(), &storageFake{}, nil, NewMemoryJobStore(0), 1)

	_, err := engine.PollJob(context.Background(), "nope")
	depErr, ok := domain.AsDependencyError(err)
	if !ok || depErr.Retryable {
		t.Fatalf("expected non-retryable dependency error, got %v", err)
	}

	_, err = engine.StartJob(context.Background(), domain.StorageLocation{Key: "k"})
	if !domain.IsRetryable(err) {
		t.Fatalf("poll-only engine must refuse jobs with a retryable error, got %v", err)
	}
}
