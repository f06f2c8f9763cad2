package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/notation-ocr/internal/adapters/facade"
	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

// writeError reports failures raised by the transport itself, before or
// after the dispatcher runs.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := facade.HTTPStatus(err)
	logging.LogError(r.Context(), slog.Default(), "http request failed", err, "path", r.URL.Path)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, facade.ErrorResponse{
		Error:     message,
		ErrorCode: domain.ErrorCode(err),
		Retryable: domain.IsRetryable(err),
	})
}
