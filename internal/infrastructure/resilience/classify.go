package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

// codeTable holds per-dependency error codes. Non-retryable codes win over the
// HTTP status, so a conditional check failure is never retried.
type codeTable struct {
	retryable    map[string]bool
	nonRetryable map[string]bool
}

var classificationTables = map[domain.Service]codeTable{
	domain.ServiceObjectStore: {
		retryable: set(
			"RequestTimeout", "RequestTimeoutException", "TimeoutError",
			"ServiceUnavailable", "SlowDown", "NetworkingError",
		),
	},
	domain.ServiceOCR: {
		retryable: set(
			"ThrottlingException", "ProvisionedThroughputExceededException",
			"LimitExceededException", "InternalServerError",
		),
		nonRetryable: set(
			"InvalidParameterException", "InvalidS3ObjectException", "UnsupportedDocumentException",
			"BadDocumentException", "DocumentTooLargeException", "InvalidJobIdException",
			"InvalidImageFormat",
		),
	},
	domain.ServiceStore: {
		retryable: set(
			"ProvisionedThroughputExceededException", "RequestLimitExceeded", "ThrottlingException",
			"InternalServerError",
			// postgres SQLSTATE: serialization failure, deadlock, too many
			// connections, cannot connect now, connection failure.
			"40001", "40P01", "53300", "57P03", "08000", "08003", "08006",
		),
		nonRetryable: set(
			"ConditionalCheckFailedException", "TransactionCanceledException", "ValidationException",
			"23505",
		),
	},
	domain.ServiceTransport: {
		retryable: set("ErrNoServers", "ErrTimeout", "ErrConnectionClosed", "ErrDisconnected"),
	},
	domain.ServiceNetwork: {},
}

func set(values ...string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// IsRetryable applies the per-dependency classification tables. Generic
// network failures are always retryable.
func IsRetryable(service domain.Service, code string, httpStatus int) bool {
	if service == domain.ServiceNetwork {
		return true
	}
	table, ok := classificationTables[service]
	if !ok {
		return false
	}
	if table.nonRetryable[code] {
		return false
	}
	if table.retryable[code] {
		return true
	}
	return httpStatus == http.StatusServiceUnavailable || httpStatus == http.StatusTooManyRequests
}

// NewDependencyError classifies a raw collaborator failure once, at the
// boundary where it is observed.
func NewDependencyError(service domain.Service, code string, httpStatus int, err error) *domain.DependencyError {
	retryable := IsRetryable(service, code, httpStatus)
	if !retryable && code == "" && httpStatus == 0 && isNetworkError(err) {
		retryable = true
	}
	return &domain.DependencyError{
		Service:    service,
		Code:       code,
		HTTPStatus: httpStatus,
		Retryable:  retryable,
		Err:        err,
	}
}

func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ClassifyError is the default classifier used by Executor.Do.
func ClassifyError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if depErr, ok := domain.AsDependencyError(err); ok {
		return ErrorClassification{
			Retryable:     depErr.Retryable,
			RecordFailure: depErr.Retryable || depErr.HTTPStatus >= 500,
		}
	}
	if domain.IsKind(err, domain.ErrValidation) ||
		domain.IsKind(err, domain.ErrNotFound) ||
		domain.IsKind(err, domain.ErrConflict) ||
		domain.IsKind(err, domain.ErrJobFailed) {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if isNetworkError(err) {
		return ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
