package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/ocr/local"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
)

const keyPrefix = "notation-ocr:job:"

type commands interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// JobStore shares local OCR job state between the worker that runs jobs and
// the API that polls them.
type JobStore struct {
	client commands
	ttl    time.Duration
}

func NewClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func NewJobStore(client commands, ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JobStore{client: client, ttl: ttl}
}

func (s *JobStore) Put(ctx context.Context, job local.JobState) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+job.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store job state: %w", resilience.NewDependencyError(domain.ServiceOCR, "", 0, err))
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (local.JobState, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return local.JobState{}, false, nil
	}
	if err != nil {
		return local.JobState{}, false, fmt.Errorf("load job state: %w", resilience.NewDependencyError(domain.ServiceOCR, "", 0, err))
	}
	var job local.JobState
	if err := json.Unmarshal(raw, &job); err != nil {
		return local.JobState{}, false, fmt.Errorf("decode job state: %w", err)
	}
	return job, true, nil
}
