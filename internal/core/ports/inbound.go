package ports

import (
	"context"

	"github.com/aws/aws-lambda-go/events"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

// UploadIntentIssuer mints a workflow and its write credential.
type UploadIntentIssuer interface {
	Issue(ctx context.Context, fileName, fileType string) (*domain.UploadIntent, error)
}

// StorageEventHandler advances workflows on object-created notifications.
type StorageEventHandler interface {
	HandleEvent(ctx context.Context, event events.S3Event) ([]domain.StorageEventResult, error)
}

// WorkflowQueryService is the read side used by client polling.
type WorkflowQueryService interface {
	Status(ctx context.Context, id string) (*domain.Workflow, error)
	Results(ctx context.Context, id string) (*domain.Workflow, error)
}
