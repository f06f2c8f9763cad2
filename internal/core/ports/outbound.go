package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

// WorkflowStore persists workflow state. Create fails with domain.ErrConflict
// for a taken id; Transition and StoreResult fail with domain.ErrNotFound for
// an unknown id and domain.ErrInvalidTransition when the current status is not
// a legal predecessor of the target.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	Transition(ctx context.Context, id string, status domain.WorkflowStatus, fields domain.WorkflowFields) error
	// Get reports found=false, without an error, for unknown or expired ids.
	Get(ctx context.Context, id string) (wf *domain.Workflow, found bool, err error)
	StoreResult(ctx context.Context, id string, text string, confidence float64) error
}

// OCRJobClient drives an asynchronous text-detection engine.
type OCRJobClient interface {
	StartJob(ctx context.Context, loc domain.StorageLocation) (string, error)
	// PollJob returns a domain.ErrJobFailed error when the engine reports failure.
	PollJob(ctx context.Context, jobID string) (domain.JobResult, error)
}

// UploadSigner mints time-boxed write credentials scoped to one object key.
type UploadSigner interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// ObjectStorage stores uploaded images for engines that read them locally.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ObjectEventPublisher emits object-created notifications.
type ObjectEventPublisher interface {
	PublishObjectCreated(ctx context.Context, bucket, key string, size int64) error
}

// Retrier runs an operation under the retry policy.
type Retrier interface {
	Do(ctx context.Context, operation string, fn func(context.Context) error) error
}

// WorkflowObserver receives lifecycle signals for metrics.
type WorkflowObserver interface {
	ObserveTransition(status domain.WorkflowStatus)
	ObserveOCRPoll(outcome string)
	ObserveStorageEvent(outcome string)
}
