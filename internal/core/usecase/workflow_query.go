package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/core/ports"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

type WorkflowQueryUseCase struct {
	store    ports.WorkflowStore
	ocr      ports.OCRJobClient
	retrier  ports.Retrier
	observer ports.WorkflowObserver

	now func() time.Time
}

func NewWorkflowQueryUseCase(
	store ports.WorkflowStore,
	ocr ports.OCRJobClient,
	retrier ports.Retrier,
	observer ports.WorkflowObserver,
) *WorkflowQueryUseCase {
	return &WorkflowQueryUseCase{
		store:    store,
		ocr:      ocr,
		retrier:  retrierOrDirect(retrier),
		observer: observerOrNop(observer),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *WorkflowQueryUseCase) Status(ctx context.Context, id string) (*domain.Workflow, error) {
	return uc.load(ctx, id)
}

// Results returns the workflow content. A processing workflow is advanced by
// polling its OCR job: success persists the text, engine failure or any other
// non-retryable poll error marks the workflow failed.
func (uc *WorkflowQueryUseCase) Results(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != domain.StatusProcessing || wf.JobID == "" {
		return wf, nil
	}

	var result domain.JobResult
	err = uc.retrier.Do(ctx, "ocr-engine.poll_job", func(ctx context.Context) error {
		polled, err := uc.ocr.PollJob(ctx, wf.JobID)
		if err != nil {
			return err
		}
		result = polled
		return nil
	})
	switch {
	case domain.IsKind(err, domain.ErrJobFailed):
		uc.observer.ObserveOCRPoll("failed")
		return uc.fail(ctx, wf, err)
	case err != nil && !domain.IsRetryable(err) && !isCanceled(ctx, err):
		uc.observer.ObserveOCRPoll("error")
		return uc.fail(ctx, wf, err)
	case err != nil:
		uc.observer.ObserveOCRPoll("error")
		return nil, fmt.Errorf("poll ocr job %s: %w", wf.JobID, err)
	}

	if result.Status != domain.JobSucceeded {
		uc.observer.ObserveOCRPoll("in_progress")
		return wf, nil
	}
	uc.observer.ObserveOCRPoll("succeeded")

	err = uc.retrier.Do(ctx, "workflow-store.store_result", func(ctx context.Context) error {
		return uc.store.StoreResult(ctx, id, result.Text, result.Confidence)
	})
	if domain.IsKind(err, domain.ErrInvalidTransition) {
		// Another poll completed or failed the workflow first.
		return uc.load(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store ocr result: %w", err)
	}
	uc.observer.ObserveTransition(domain.StatusCompleted)

	wf.Status = domain.StatusCompleted
	wf.ExtractedText = result.Text
	wf.Confidence = result.Confidence
	wf.JobID = ""
	wf.UpdatedAt = uc.now()
	return wf, nil
}

func (uc *WorkflowQueryUseCase) fail(ctx context.Context, wf *domain.Workflow, cause error) (*domain.Workflow, error) {
	logging.LogError(ctx, slog.Default(), "ocr job failed", cause, "workflow_id", wf.ID, "job_id", wf.JobID)
	msg := domain.FailureMessage(cause)
	err := uc.retrier.Do(ctx, "workflow-store.transition", func(ctx context.Context) error {
		return uc.store.Transition(ctx, wf.ID, domain.StatusFailed, domain.WorkflowFields{ErrorMessage: &msg, ClearJobID: true})
	})
	if domain.IsKind(err, domain.ErrInvalidTransition) {
		return uc.load(ctx, wf.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("mark workflow %s failed: %w", wf.ID, err)
	}
	uc.observer.ObserveTransition(domain.StatusFailed)

	wf.Status = domain.StatusFailed
	wf.FailedFrom = domain.StatusProcessing
	wf.ErrorMessage = msg
	wf.JobID = ""
	wf.UpdatedAt = uc.now()
	return wf, nil
}

// isCanceled reports a poll cut short by the caller rather than by the engine.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (uc *WorkflowQueryUseCase) load(ctx context.Context, id string) (*domain.Workflow, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "load workflow", errors.New("workflowId is required"))
	}
	wf, found, err := uc.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	if !found {
		return nil, domain.WrapError(domain.ErrNotFound, "load workflow", fmt.Errorf("workflow %s", id))
	}
	return wf, nil
}
