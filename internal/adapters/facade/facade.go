// Package facade exposes the four workflow operations behind one type-tagged
// request shape shared by the HTTP and Lambda transports.
package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/core/ports"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

const (
	TypeGeneratePresignedURL = "generate-presigned-url"
	TypeGetStatus            = "get-status"
	TypeGetResults           = "get-results"
	TypeS3Trigger            = "s3-trigger"
)

var errUnknownType = fmt.Errorf("unknown request type: %w", domain.ErrValidation)

// Request is the transport-neutral envelope. Records carries the storage
// notification for s3-trigger, in the S3 notification layout.
type Request struct {
	Type       string                 `json:"type"`
	FileName   string                 `json:"fileName,omitempty"`
	FileType   string                 `json:"fileType,omitempty"`
	WorkflowID string                 `json:"workflowId,omitempty"`
	Records    []events.S3EventRecord `json:"Records,omitempty"`
}

// Response pairs a transport status code with the JSON body to send.
type Response struct {
	StatusCode int
	Body       any
}

type PresignedURLResponse struct {
	PresignedURL string `json:"presignedUrl"`
	WorkflowID   string `json:"workflowId"`
	Key          string `json:"key"`
	ExpiresIn    int    `json:"expiresIn"`
}

type StatusResponse struct {
	WorkflowID string                `json:"workflowId"`
	Status     domain.WorkflowStatus `json:"status"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

type ResultsResponse struct {
	WorkflowID    string                `json:"workflowId"`
	Status        domain.WorkflowStatus `json:"status"`
	ExtractedText *string               `json:"extractedText,omitempty"`
	Confidence    *float64              `json:"confidence,omitempty"`
	ErrorMessage  string                `json:"errorMessage,omitempty"`
}

type TriggerResponse struct {
	Message    string                `json:"message"`
	WorkflowID string                `json:"workflowId"`
	Status     domain.WorkflowStatus `json:"status"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	ErrorCode  string `json:"errorCode"`
	Retryable  bool   `json:"retryable"`
	WorkflowID string `json:"workflowId,omitempty"`
}

type TriggerErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Dispatcher struct {
	intents ports.UploadIntentIssuer
	events  ports.StorageEventHandler
	queries ports.WorkflowQueryService
	logger  *slog.Logger
}

func NewDispatcher(
	intents ports.UploadIntentIssuer,
	events ports.StorageEventHandler,
	queries ports.WorkflowQueryService,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		intents: intents,
		events:  events,
		queries: queries,
		logger:  logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	switch req.Type {
	case TypeGeneratePresignedURL:
		return d.GeneratePresignedURL(ctx, req.FileName, req.FileType)
	case TypeGetStatus:
		return d.GetStatus(ctx, req.WorkflowID)
	case TypeGetResults:
		return d.GetResults(ctx, req.WorkflowID)
	case TypeS3Trigger:
		return d.S3Trigger(ctx, events.S3Event{Records: req.Records})
	default:
		err := fmt.Errorf("%w %q", errUnknownType, req.Type)
		logging.LogError(ctx, d.logger, "request rejected", err)
		return errorResponse(err, "")
	}
}

func (d *Dispatcher) GeneratePresignedURL(ctx context.Context, fileName, fileType string) Response {
	intent, err := d.intents.Issue(ctx, fileName, fileType)
	if err != nil {
		logging.LogError(ctx, d.logger, "generate presigned url failed", err, "file_type", fileType)
		return errorResponse(err, "")
	}
	return Response{
		StatusCode: http.StatusOK,
		Body: PresignedURLResponse{
			PresignedURL: intent.PresignedURL,
			WorkflowID:   intent.WorkflowID,
			Key:          intent.Key,
			ExpiresIn:    intent.ExpiresIn,
		},
	}
}

// GetStatus returns workflow metadata only. Extracted content and error
// messages are reserved for GetResults.
func (d *Dispatcher) GetStatus(ctx context.Context, workflowID string) Response {
	wf, err := d.queries.Status(ctx, workflowID)
	if err != nil {
		logging.LogError(ctx, d.logger, "get status failed", err, "workflow_id", workflowID)
		return errorResponse(err, workflowID)
	}
	return Response{
		StatusCode: http.StatusOK,
		Body: StatusResponse{
			WorkflowID: wf.ID,
			Status:     wf.Status,
			UpdatedAt:  wf.UpdatedAt,
		},
	}
}

func (d *Dispatcher) GetResults(ctx context.Context, workflowID string) Response {
	wf, err := d.queries.Results(ctx, workflowID)
	if err != nil {
		logging.LogError(ctx, d.logger, "get results failed", err, "workflow_id", workflowID)
		return errorResponse(err, workflowID)
	}
	body := ResultsResponse{
		WorkflowID: wf.ID,
		Status:     wf.Status,
	}
	switch wf.Status {
	case domain.StatusCompleted:
		text, confidence := wf.ExtractedText, wf.Confidence
		body.ExtractedText = &text
		body.Confidence = &confidence
	case domain.StatusFailed:
		body.ErrorMessage = wf.ErrorMessage
	}
	return Response{StatusCode: http.StatusOK, Body: body}
}

// S3Trigger never reports failure to the delivering transport; errors are
// logged and returned in the body with a 200.
func (d *Dispatcher) S3Trigger(ctx context.Context, event events.S3Event) Response {
	results, err := d.events.HandleEvent(ctx, event)
	if err == nil && len(results) == 0 {
		err = domain.WrapError(domain.ErrValidation, "handle storage event", errors.New("no records handled"))
	}
	if err != nil {
		attrs := []any{"records", len(event.Records)}
		if len(results) > 0 {
			attrs = append(attrs, "workflow_id", results[0].WorkflowID)
		}
		logging.LogError(ctx, d.logger, "storage event failed", err, attrs...)
		return Response{
			StatusCode: http.StatusOK,
			Body: TriggerErrorResponse{
				Error:   domain.CodeStorageTrigger,
				Message: err.Error(),
			},
		}
	}

	first := results[0]
	message := "OCR processing started"
	if first.Duplicate {
		message = "Storage event already processed"
	}
	d.logger.InfoContext(ctx, "storage event handled",
		"workflow_id", first.WorkflowID,
		"status", first.Status,
		"job_id", first.JobID,
		"records", len(results),
		"request_id", logging.RequestIDFromContext(ctx),
	)
	return Response{
		StatusCode: http.StatusOK,
		Body: TriggerResponse{
			Message:    message,
			WorkflowID: first.WorkflowID,
			Status:     first.Status,
		},
	}
}

// HTTPStatus maps an error onto the status code returned to clients.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error, workflowID string) Response {
	return Response{
		StatusCode: HTTPStatus(err),
		Body: ErrorResponse{
			Error:      publicMessage(err),
			ErrorCode:  domain.ErrorCode(err),
			Retryable:  domain.IsRetryable(err),
			WorkflowID: workflowID,
		},
	}
}

// publicMessage keeps dependency internals out of client responses.
func publicMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrValidation),
		domain.IsKind(err, domain.ErrNotFound),
		domain.IsKind(err, domain.ErrConflict):
		return err.Error()
	case domain.IsRetryable(err):
		return "temporary dependency failure, safe to retry"
	default:
		return "internal error"
	}
}
