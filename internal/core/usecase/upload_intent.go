package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/core/ports"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

const (
	DefaultUploadURLTTL = 5 * time.Minute
	DefaultWorkflowTTL  = 30 * 24 * time.Hour
)

type UploadIntentConfig struct {
	KeyPrefix   string
	URLTTL      time.Duration
	WorkflowTTL time.Duration
}

type IssueUploadIntentUseCase struct {
	store    ports.WorkflowStore
	signer   ports.UploadSigner
	retrier  ports.Retrier
	observer ports.WorkflowObserver
	cfg      UploadIntentConfig

	now   func() time.Time
	newID func() string
}

func NewIssueUploadIntentUseCase(
	store ports.WorkflowStore,
	signer ports.UploadSigner,
	retrier ports.Retrier,
	observer ports.WorkflowObserver,
	cfg UploadIntentConfig,
) *IssueUploadIntentUseCase {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultUploadURLTTL
	}
	if cfg.WorkflowTTL <= 0 {
		cfg.WorkflowTTL = DefaultWorkflowTTL
	}
	return &IssueUploadIntentUseCase{
		store:    store,
		signer:   signer,
		retrier:  retrierOrDirect(retrier),
		observer: observerOrNop(observer),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Issue validates the request before any side effect, then mints the write
// credential and the initiated record. A failed record write still returns
// the credential; the orphaned upload is rejected later by the storage-event
// handler and the record, if any, expires.
func (uc *IssueUploadIntentUseCase) Issue(ctx context.Context, fileName, fileType string) (*domain.UploadIntent, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "issue upload intent", errors.New("fileName is required"))
	}
	contentType, err := NormalizeFileType(fileType)
	if err != nil {
		return nil, err
	}

	id := uc.newID()
	now := uc.now()
	key := DeriveKey(uc.cfg.KeyPrefix, id, now, fileName)

	var presignedURL string
	err = uc.retrier.Do(ctx, "object-store.presign_put", func(ctx context.Context) error {
		url, err := uc.signer.PresignPut(ctx, key, contentType, uc.cfg.URLTTL)
		if err != nil {
			return err
		}
		presignedURL = url
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presign upload url: %w", err)
	}

	wf := &domain.Workflow{
		ID:        id,
		Status:    domain.StatusInitiated,
		FileName:  fileName,
		FileType:  contentType,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(uc.cfg.WorkflowTTL),
	}
	err = uc.retrier.Do(ctx, "workflow-store.create", func(ctx context.Context) error {
		return uc.store.Create(ctx, wf)
	})
	if err != nil {
		logging.LogError(ctx, slog.Default(), "create workflow record failed; returning credential", err, "workflow_id", id)
	} else {
		uc.observer.ObserveTransition(domain.StatusInitiated)
	}

	return &domain.UploadIntent{
		WorkflowID:   id,
		Key:          key,
		PresignedURL: presignedURL,
		ExpiresIn:    int(uc.cfg.URLTTL / time.Second),
	}, nil
}
