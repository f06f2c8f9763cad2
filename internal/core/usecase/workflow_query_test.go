package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

func processingWorkflow(t *testing.T, store *memoryStoreFake, ocr *ocrClientFake, id string) string {
	t.Helper()
	seedWorkflow(t, store, id)
	uc := NewHandleStorageEventUseCase(store, ocr, nil, nil, "")
	result, err := uc.HandleObject(context.Background(), "uploads", "notation-uploads/"+id+"/1-a.jpg")
	if err != nil {
		t.Fatalf("advance workflow: %v", err)
	}
	return result.JobID
}

func TestResultsInProgressLeavesWorkflow(t *testing.T) {
	store := newMemoryStoreFake()
	ocr := newOCRClientFake()
	processingWorkflow(t, store, ocr, "wf-1")
	uc := NewWorkflowQueryUseCase(store, ocr, nil, nil)

	wf, err := uc.Results(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if wf.Status != domain.StatusProcessing || wf.ExtractedText != "" {
		t.Fatalf("unexpected workflow: %+v", wf)
	}
}

func TestResultsJobFailureMarksFailed(t *testing.T) {
	store := newMemoryStoreFake()
	ocr := newOCRClientFake()
	processingWorkflow(t, store, ocr, "wf-1")
	ocr.pollErr = domain.WrapError(domain.ErrJobFailed, "poll job", errors.New("unsupported image"))
	observer := &observerFake{}
	uc := NewWorkflowQueryUseCase(store, ocr, newCountingRetrier(), observer)

	wf, err := uc.Results(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if wf.Status != domain.StatusFailed || wf.ErrorMessage != "unsupported image" || wf.JobID != "" {
		t.Fatalf("expected failed workflow, got %+v", wf)
	}
	if stored := store.snapshot("wf-1"); stored.Status != domain.StatusFailed || stored.ErrorMessage != wf.ErrorMessage || stored.JobID != "" {
		t.Fatalf("failure not persisted: %+v", stored)
	}
	if ocr.polls != 1 {
		t.Fatalf("job failure must not be retried, polled %d times", ocr.polls)
	}
	if len(observer.polls) != 1 || observer.polls[0] != "failed" {
		t.Fatalf("unexpected poll outcomes: %v", observer.polls)
	}
}

func TestResultsDependencyFailureSurfaces(t *testing.T) {
	store := newMemoryStoreFake()
	ocr := newOCRClientFake()
	processingWorkflow(t, store, ocr, "wf-1")
	ocr.pollErr = &domain.DependencyError{Service: domain.ServiceOCR, Code: "ThrottlingException", Retryable: true, Err: errors.New("slow")}
	uc := NewWorkflowQueryUseCase(store, ocr, newCountingRetrier(), nil)

	_, err := uc.Results(context.Background(), "wf-1")
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if store.snapshot("wf-1").Status != domain.StatusProcessing {
		t.Fatalf("transient poll failure must not change status")
	}
}

func TestResultsNonRetryablePollErrorMarksFailed(t *testing.T) {
	store := newMemoryStoreFake()
	ocr := newOCRClientFake()
	processingWorkflow(t, store, ocr, "wf-1")
	ocr.pollErr = &domain.DependencyError{Service: domain.ServiceOCR, Code: "InvalidJobIdException", HTTPStatus: 400, Err: errors.New("unknown job job-1")}
	retrier := newCountingRetrier()
	uc := NewWorkflowQueryUseCase(store, ocr, retrier, nil)

	wf, err := uc.Results(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if wf.Status != domain.StatusFailed || wf.ErrorMessage != "unknown job job-1" {
		t.Fatalf("expected failed workflow, got %+v", wf)
	}
	stored := store.snapshot("wf-1")
	if stored.Status != domain.StatusFailed || stored.JobID != "" || stored.FailedFrom != domain.StatusProcessing {
		t.Fatalf("failure not persisted: %+v", stored)
	}

	again, err := uc.Results(context.Background(), "wf-1")
	if err != nil || again.Status != domain.StatusFailed {
		t.Fatalf("later polls must read the failed record, got %+v, %v", again, err)
	}
	if ocr.polls != 1 {
		t.Fatalf("expected a single poll, got %d", ocr.polls)
	}
}

func TestResultsCanceledPollLeavesWorkflow(t *testing.T) {
	store := newMemoryStoreFake()
	ocr := newOCRClientFake()
	processingWorkflow(t, store, ocr, "wf-1")
	ocr.pollErr = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	uc := NewWorkflowQueryUseCase(store, ocr, newCountingRetrier(), nil)

	if _, err := uc.Results(ctx, "wf-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface, got %v", err)
	}
	if store.snapshot("wf-1").Status != domain.StatusProcessing {
		t.Fatalf("a canceled poll must not fail the workflow")
	}
}

func TestResultsConcurrentCompletionRereads(t *testing.T) {
	store := newMemoryStoreFake()
	ocr := newOCRClientFake()
	jobID := processingWorkflow(t, store, ocr, "wf-1")
	ocr.complete(jobID, domain.JobResult{Status: domain.JobSucceeded, Text: "1. d4", Confidence: 90})
	store.transitionErr[domain.StatusCompleted] = domain.WrapError(domain.ErrInvalidTransition, "store result", errors.New("completed -> completed"))
	uc := NewWorkflowQueryUseCase(store, ocr, nil, nil)

	wf, err := uc.Results(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if wf.Status != domain.StatusProcessing {
		t.Fatalf("expected re-read record, got %+v", wf)
	}
}

func TestStatusAndResultsNotFound(t *testing.T) {
	uc := NewWorkflowQueryUseCase(newMemoryStoreFake(), newOCRClientFake(), nil, nil)
	if _, err := uc.Status(context.Background(), "missing"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found from Status, got %v", err)
	}
	if _, err := uc.Results(context.Background(), "missing"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found from Results, got %v", err)
	}
	if _, err := uc.Status(context.Background(), ""); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
}
