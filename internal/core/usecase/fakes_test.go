package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

type memoryStoreFake struct {
	mu      sync.Mutex
	records map[string]domain.Workflow
	writes  int

	createErr     error
	transitionErr map[domain.WorkflowStatus]error
}

func newMemoryStoreFake() *memoryStoreFake {
	return &memoryStoreFake{
		records:       make(map[string]domain.Workflow),
		transitionErr: make(map[domain.WorkflowStatus]error),
	}
}

func (f *memoryStoreFake) Create(_ context.Context, wf *domain.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.records[wf.ID]; ok {
		return domain.WrapError(domain.ErrConflict, "create workflow", fmt.Errorf("id %s taken", wf.ID))
	}
	f.writes++
	f.records[wf.ID] = *wf
	return nil
}

func (f *memoryStoreFake) Transition(_ context.Context, id string, status domain.WorkflowStatus, fields domain.WorkflowFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transitionErr[status]; err != nil {
		return err
	}
	wf, ok := f.records[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "transition workflow", fmt.Errorf("workflow %s", id))
	}
	if !wf.CanMoveTo(status) {
		return domain.WrapError(domain.ErrInvalidTransition, "transition workflow", fmt.Errorf("%s -> %s", wf.Status, status))
	}
	if status == domain.StatusFailed {
		wf.FailedFrom = wf.Status
	}
	fields.Apply(&wf)
	wf.Status = status
	wf.UpdatedAt = time.Now().UTC()
	f.writes++
	f.records[id] = wf
	return nil
}

func (f *memoryStoreFake) Get(_ context.Context, id string) (*domain.Workflow, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.records[id]
	if !ok {
		return nil, false, nil
	}
	return &wf, true, nil
}

func (f *memoryStoreFake) StoreResult(ctx context.Context, id string, text string, confidence float64) error {
	return f.Transition(ctx, id, domain.StatusCompleted, domain.WorkflowFields{
		ExtractedText: &text,
		Confidence:    &confidence,
		ClearJobID:    true,
	})
}

func (f *memoryStoreFake) snapshot(id string) domain.Workflow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

type ocrClientFake struct {
	mu       sync.Mutex
	started  []domain.StorageLocation
	startErr error
	results  map[string]domain.JobResult
	pollErr  error
	polls    int
}

func newOCRClientFake() *ocrClientFake {
	return &ocrClientFake{results: make(map[string]domain.JobResult)}
}

func (f *ocrClientFake) StartJob(_ context.Context, loc domain.StorageLocation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, loc)
	jobID := fmt.Sprintf("job-%d", len(f.started))
	f.results[jobID] = domain.JobResult{Status: domain.JobInProgress}
	return jobID, nil
}

func (f *ocrClientFake) PollJob(_ context.Context, jobID string) (domain.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return domain.JobResult{}, f.pollErr
	}
	result, ok := f.results[jobID]
	if !ok {
		return domain.JobResult{}, errors.New("unknown job")
	}
	return result, nil
}

func (f *ocrClientFake) complete(jobID string, result domain.JobResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[jobID] = result
}

type signerFake struct {
	calls []string
	ttl   time.Duration
	err   error
}

func (f *signerFake) PresignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, key)
	f.ttl = ttl
	return "https://uploads.example.test/" + key + "?sig=abc&type=" + contentType, nil
}

// countingRetrier retries retryable errors up to three times without sleeping.
type countingRetrier struct {
	calls map[string]int
}

func newCountingRetrier() *countingRetrier {
	return &countingRetrier{calls: make(map[string]int)}
}

func (r *countingRetrier) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		r.calls[operation]++
		err = fn(ctx)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
	}
	return err
}

type observerFake struct {
	transitions []domain.WorkflowStatus
	polls       []string
	events      []string
}

func (o *observerFake) ObserveTransition(status domain.WorkflowStatus) {
	o.transitions = append(o.transitions, status)
}

func (o *observerFake) ObserveOCRPoll(outcome string) {
	o.polls = append(o.polls, outcome)
}

func (o *observerFake) ObserveStorageEvent(outcome string) {
	o.events = append(o.events, outcome)
}
