package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/core/ports"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

type HandleStorageEventUseCase struct {
	store     ports.WorkflowStore
	ocr       ports.OCRJobClient
	retrier   ports.Retrier
	observer  ports.WorkflowObserver
	keyPrefix string
}

func NewHandleStorageEventUseCase(
	store ports.WorkflowStore,
	ocr ports.OCRJobClient,
	retrier ports.Retrier,
	observer ports.WorkflowObserver,
	keyPrefix string,
) *HandleStorageEventUseCase {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &HandleStorageEventUseCase{
		store:     store,
		ocr:       ocr,
		retrier:   retrierOrDirect(retrier),
		observer:  observerOrNop(observer),
		keyPrefix: keyPrefix,
	}
}

// HandleEvent processes every record of an object-created notification. A
// failing record does not stop the others; the joined error tells the
// transport to redeliver, which is safe because each record is idempotent.
func (uc *HandleStorageEventUseCase) HandleEvent(ctx context.Context, event events.S3Event) ([]domain.StorageEventResult, error) {
	if len(event.Records) == 0 {
		return nil, domain.WrapError(domain.ErrValidation, "handle storage event", errors.New("event has no records"))
	}

	results := make([]domain.StorageEventResult, 0, len(event.Records))
	var errs []error
	for _, record := range event.Records {
		key, err := objectKey(record.S3.Object)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result, err := uc.HandleObject(ctx, record.S3.Bucket.Name, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

// HandleObject advances the workflow that owns key: stored, then an OCR job,
// then processing with the job id. A workflow that failed before its job was
// recorded is restarted, so a redelivered event can still succeed.
func (uc *HandleStorageEventUseCase) HandleObject(ctx context.Context, bucket, key string) (domain.StorageEventResult, error) {
	id, err := ParseWorkflowID(uc.keyPrefix, key)
	if err != nil {
		uc.observer.ObserveStorageEvent("rejected")
		return domain.StorageEventResult{}, err
	}
	loc := domain.StorageLocation{Bucket: bucket, Key: key}

	err = uc.retrier.Do(ctx, "workflow-store.transition", func(ctx context.Context) error {
		return uc.store.Transition(ctx, id, domain.StatusStored, domain.WorkflowFields{StorageLocation: &loc, ClearFailure: true})
	})
	if domain.IsKind(err, domain.ErrInvalidTransition) {
		return uc.duplicate(ctx, id)
	}
	if err != nil {
		uc.observer.ObserveStorageEvent("error")
		return domain.StorageEventResult{}, fmt.Errorf("mark workflow %s stored: %w", id, err)
	}
	uc.observer.ObserveTransition(domain.StatusStored)

	var jobID string
	err = uc.retrier.Do(ctx, "ocr-engine.start_job", func(ctx context.Context) error {
		started, err := uc.ocr.StartJob(ctx, loc)
		if err != nil {
			return err
		}
		jobID = started
		return nil
	})
	if err != nil {
		uc.observer.ObserveStorageEvent("error")
		return domain.StorageEventResult{}, uc.markFailed(ctx, id, fmt.Errorf("start ocr job: %w", err))
	}

	err = uc.retrier.Do(ctx, "workflow-store.transition", func(ctx context.Context) error {
		return uc.store.Transition(ctx, id, domain.StatusProcessing, domain.WorkflowFields{JobID: &jobID})
	})
	if domain.IsKind(err, domain.ErrInvalidTransition) {
		return uc.duplicate(ctx, id)
	}
	if err != nil {
		uc.observer.ObserveStorageEvent("error")
		return domain.StorageEventResult{}, uc.markFailed(ctx, id, fmt.Errorf("record ocr job %s: %w", jobID, err))
	}
	uc.observer.ObserveTransition(domain.StatusProcessing)
	uc.observer.ObserveStorageEvent("processing")

	return domain.StorageEventResult{
		WorkflowID: id,
		Status:     domain.StatusProcessing,
		JobID:      jobID,
	}, nil
}

// duplicate answers a redelivered event with the current record.
func (uc *HandleStorageEventUseCase) duplicate(ctx context.Context, id string) (domain.StorageEventResult, error) {
	uc.observer.ObserveStorageEvent("duplicate")
	wf, found, err := uc.store.Get(ctx, id)
	if err != nil {
		return domain.StorageEventResult{}, fmt.Errorf("load workflow %s: %w", id, err)
	}
	if !found {
		return domain.StorageEventResult{}, domain.WrapError(domain.ErrNotFound, "handle storage event", fmt.Errorf("workflow %s", id))
	}
	slog.Info("storage_event_duplicate", "workflow_id", id, "status", wf.Status)
	return domain.StorageEventResult{
		WorkflowID: id,
		Status:     wf.Status,
		JobID:      wf.JobID,
		Duplicate:  true,
	}, nil
}

// markFailed records cause on the workflow and returns it unchanged so the
// transport still sees the original classification.
func (uc *HandleStorageEventUseCase) markFailed(ctx context.Context, id string, cause error) error {
	logging.LogError(ctx, slog.Default(), "storage event processing failed", cause, "workflow_id", id)
	msg := domain.FailureMessage(cause)
	err := uc.retrier.Do(ctx, "workflow-store.transition", func(ctx context.Context) error {
		return uc.store.Transition(ctx, id, domain.StatusFailed, domain.WorkflowFields{ErrorMessage: &msg, ClearJobID: true})
	})
	if err != nil {
		return fmt.Errorf("%w; mark failed status: %v", cause, err)
	}
	uc.observer.ObserveTransition(domain.StatusFailed)
	return cause
}

func objectKey(obj events.S3Object) (string, error) {
	if obj.URLDecodedKey != "" {
		return obj.URLDecodedKey, nil
	}
	key, err := url.QueryUnescape(obj.Key)
	if err != nil {
		return "", domain.WrapError(domain.ErrValidation, "decode object key", err)
	}
	if strings.TrimSpace(key) == "" {
		return "", domain.WrapError(domain.ErrValidation, "decode object key", errors.New("object key is empty"))
	}
	return key, nil
}
