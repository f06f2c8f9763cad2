package redis

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/ocr/local"
)

type commandsFake struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newCommandsFake() *commandsFake {
	return &commandsFake{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *commandsFake) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *commandsFake) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestJobStoreRoundTrip(t *testing.T) {
	fake := newCommandsFake()
	store := NewJobStore(fake, 10*time.Minute)
	job := local.JobState{
		ID:     "job-1",
		Status: domain.JobSucceeded,
		Key:    "notation-uploads/wf-1/1-a.jpg",
		Fragments: []domain.Fragment{
			{Text: "1. e4 e5", Confidence: 95.5, Box: &domain.BoundingBox{Left: 0.1, Top: 0.2, Width: 0.3, Height: 0.1}},
		},
	}

	require.NoError(t, store.Put(context.Background(), job))
	assert.Equal(t, 10*time.Minute, fake.ttls["notation-ocr:job:job-1"])

	got, found, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.Fragments, got.Fragments)
}

func TestJobStoreMissingKey(t *testing.T) {
	store := NewJobStore(newCommandsFake(), 0)
	_, found, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJobStoreConnectionFailureIsRetryable(t *testing.T) {
	fake := newCommandsFake()
	fake.err = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	store := NewJobStore(fake, 0)

	_, _, err := store.Get(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}
