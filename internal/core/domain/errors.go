package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidFileType   = fmt.Errorf("unsupported file type: %w", ErrValidation)
	ErrNotFound          = errors.New("workflow not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", ErrConflict)
	ErrJobFailed         = errors.New("ocr job failed")
	ErrInternal          = errors.New("internal error")
)

// Stable machine-readable codes surfaced to clients and logs.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeInvalidType    = "INVALID_FILE_TYPE"
	CodeNotFound       = "WORKFLOW_NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeInvalidState   = "INVALID_TRANSITION"
	CodeDependency     = "DEPENDENCY_ERROR"
	CodeJobFailed      = "OCR_JOB_FAILED"
	CodeInternal       = "INTERNAL_ERROR"
	CodeStorageTrigger = "STORAGE_EVENT_ERROR"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// FailureMessage returns the innermost cause of err, stripped of the
// operation context added on the way up. It is what a failed workflow
// stores as its error message.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	for {
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return err.Error()
			}
			err = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err.Error()
			}
			err = next
		default:
			return err.Error()
		}
	}
}

type Service string

const (
	ServiceObjectStore Service = "object-store"
	ServiceOCR         Service = "ocr-engine"
	ServiceStore       Service = "workflow-store"
	ServiceTransport   Service = "transport"
	ServiceNetwork     Service = "network"
)

// DependencyError is a failure of an external collaborator. Retryable is
// decided once, where the raw error is first observed.
type DependencyError struct {
	Service    Service
	Code       string
	HTTPStatus int
	Retryable  bool
	Err        error
}

func (e *DependencyError) Error() string {
	if e == nil {
		return "dependency error"
	}
	msg := fmt.Sprintf("%s dependency error", e.Service)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func AsDependencyError(err error) (*DependencyError, bool) {
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return depErr, true
	}
	return nil, false
}

// IsRetryable reports whether the caller may safely retry the whole operation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if depErr, ok := AsDependencyError(err); ok {
		return depErr.Retryable
	}
	return false
}

func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsKind(err, ErrInvalidFileType):
		return CodeInvalidType
	case IsKind(err, ErrValidation):
		return CodeValidation
	case IsKind(err, ErrNotFound):
		return CodeNotFound
	case IsKind(err, ErrInvalidTransition):
		return CodeInvalidState
	case IsKind(err, ErrConflict):
		return CodeConflict
	case IsKind(err, ErrJobFailed):
		return CodeJobFailed
	}
	if _, ok := AsDependencyError(err); ok {
		return CodeDependency
	}
	return CodeInternal
}
