package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/core/layout"
	"github.com/kirillkom/notation-ocr/internal/core/ports"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
)

const maxImageBytes = 32 << 20

type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]domain.Fragment, error)
}

// JobState is the persisted view of one local OCR job.
type JobState struct {
	ID        string            `json:"id"`
	Status    domain.JobStatus  `json:"status"`
	Bucket    string            `json:"bucket"`
	Key       string            `json:"key"`
	Fragments []domain.Fragment `json:"fragments,omitempty"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type JobStore interface {
	Put(ctx context.Context, job JobState) error
	Get(ctx context.Context, id string) (JobState, bool, error)
}

// Engine gives a synchronous recognizer the start/poll contract of a hosted
// OCR service. Jobs run on a bounded pool; state lives in the JobStore so a
// different process can poll it.
type Engine struct {
	storage    ports.ObjectStorage
	recognizer Recognizer
	jobs       JobStore

	baseCtx context.Context
	sem     chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
	newID   func() string
}

func NewEngine(ctx context.Context, storage ports.ObjectStorage, recognizer Recognizer, jobs JobStore, workers int) *Engine {
	if workers <= 0 {
		workers = 2
	}
	return &Engine{
		storage:    storage,
		recognizer: recognizer,
		jobs:       jobs,
		baseCtx:    context.WithoutCancel(ctx),
		sem:        make(chan struct{}, workers),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

func (e *Engine) StartJob(ctx context.Context, loc domain.StorageLocation) (string, error) {
	if e.recognizer == nil {
		return "", resilience.NewDependencyError(domain.ServiceOCR, "EngineUnavailable", 503, errors.New("no recognizer configured in this process"))
	}
	job := JobState{
		ID:        e.newID(),
		Status:    domain.JobInProgress,
		Bucket:    loc.Bucket,
		Key:       loc.Key,
		UpdatedAt: e.now(),
	}
	if err := e.jobs.Put(ctx, job); err != nil {
		return "", fmt.Errorf("persist ocr job: %w", err)
	}

	e.wg.Add(1)
	go e.run(job)
	return job.ID, nil
}

func (e *Engine) PollJob(ctx context.Context, jobID string) (domain.JobResult, error) {
	job, found, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("load ocr job: %w", err)
	}
	if !found {
		return domain.JobResult{}, resilience.NewDependencyError(domain.ServiceOCR, "InvalidJobIdException", 400, fmt.Errorf("unknown job %s", jobID))
	}

	switch job.Status {
	case domain.JobSucceeded:
		text, confidence := layout.Assemble(job.Fragments)
		return domain.JobResult{
			Status:     domain.JobSucceeded,
			Text:       text,
			Confidence: confidence,
			Fragments:  job.Fragments,
		}, nil
	case domain.JobFailed:
		return domain.JobResult{}, domain.WrapError(domain.ErrJobFailed, "poll ocr job "+jobID, errors.New(job.Error))
	default:
		return domain.JobResult{Status: domain.JobInProgress}, nil
	}
}

// Wait blocks until running jobs finish or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(job JobState) {
	defer e.wg.Done()
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	start := time.Now()
	fragments, err := e.recognize(job.Key)
	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = domain.JobSucceeded
		job.Fragments = fragments
	}
	job.UpdatedAt = e.now()

	if putErr := e.jobs.Put(e.baseCtx, job); putErr != nil {
		slog.Error("ocr_job_persist_failed", "job_id", job.ID, "error", putErr)
		return
	}
	slog.Info("ocr_job_finished",
		"job_id", job.ID,
		"status", job.Status,
		"lines", len(job.Fragments),
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
}

func (e *Engine) recognize(key string) ([]domain.Fragment, error) {
	rc, err := e.storage.Open(e.baseCtx, key)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return e.recognizer.Recognize(e.baseCtx, data)
}
