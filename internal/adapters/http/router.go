package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/kirillkom/notation-ocr/internal/adapters/facade"
	"github.com/kirillkom/notation-ocr/internal/config"
	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/core/ports"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
	"github.com/kirillkom/notation-ocr/internal/observability/metrics"
)

const (
	maxRequestBytes = 1 << 20
	maxUploadBytes  = 32 << 20
	queueTimeout    = 250 * time.Millisecond
)

// UploadVerifier checks the signature carried by a local upload URL.
type UploadVerifier interface {
	Verify(key, contentType, expires, signature string) error
}

// LocalUploads backs the signed PUT endpoint when objects are kept on the
// local filesystem instead of S3.
type LocalUploads struct {
	Bucket    string
	Verifier  UploadVerifier
	Storage   ports.ObjectStorage
	Publisher ports.ObjectEventPublisher
}

type Router struct {
	cfg        config.Config
	dispatcher *facade.Dispatcher
	uploads    *LocalUploads
	metrics    *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	dispatcher *facade.Dispatcher,
	uploads *LocalUploads,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:        cfg,
		dispatcher: dispatcher,
		uploads:    uploads,
		metrics:    httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/ocr", rt.dispatch)
	api.HandleFunc("POST /v1/uploads", rt.createUpload)
	api.HandleFunc("GET /v1/workflows/{id}/status", rt.getStatus)
	api.HandleFunc("GET /v1/workflows/{id}/results", rt.getResults)
	api.HandleFunc("POST /v1/events/storage", rt.storageEvent)
	if rt.uploads != nil {
		api.HandleFunc("PUT /v1/objects/{key...}", rt.putObject)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", rt.trafficControl(api))

	var handler http.Handler = requestIDMiddleware(accessLogMiddleware(mux))
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	return handler
}

func (rt *Router) trafficControl(next http.Handler) http.Handler {
	onReject := func(reason string) {
		if rt.metrics != nil {
			rt.metrics.RecordRejected("api", reason)
		}
	}
	next = backpressureMiddleware(next, rt.cfg.APIMaxInFlight, queueTimeout, onReject)
	return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) dispatch(w http.ResponseWriter, r *http.Request) {
	var req facade.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, rt.dispatcher.Dispatch(r.Context(), req))
}

func (rt *Router) createUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"fileName"`
		FileType string `json:"fileType"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, rt.dispatcher.GeneratePresignedURL(r.Context(), req.FileName, req.FileType))
}

func (rt *Router) getStatus(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, rt.dispatcher.GetStatus(r.Context(), r.PathValue("id")))
}

func (rt *Router) getResults(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, rt.dispatcher.GetResults(r.Context(), r.PathValue("id")))
}

// storageEvent accepts S3-layout object notifications, as sent by MinIO
// webhooks or an SNS/SQS relay.
func (rt *Router) storageEvent(w http.ResponseWriter, r *http.Request) {
	var event events.S3Event
	if err := decodeJSON(r, &event); err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, rt.dispatcher.S3Trigger(r.Context(), event))
}

func (rt *Router) putObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	query := r.URL.Query()
	contentType := r.Header.Get("Content-Type")

	if err := rt.uploads.Verifier.Verify(key, contentType, query.Get("expires"), query.Get("signature")); err != nil {
		slog.WarnContext(r.Context(), "upload_rejected", "key", key, "error", err, "request_id", logging.RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusForbidden, facade.ErrorResponse{
			Error:     "upload signature rejected",
			ErrorCode: "SIGNATURE_REJECTED",
		})
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	defer body.Close()

	size, err := rt.uploads.Storage.Save(r.Context(), key, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = domain.WrapError(domain.ErrValidation, "save object", err)
		}
		writeError(w, r, err)
		return
	}
	if err := rt.uploads.Publisher.PublishObjectCreated(r.Context(), rt.uploads.Bucket, key, size); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": key, "size": size})
}

func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return domain.WrapError(domain.ErrValidation, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func writeResponse(w http.ResponseWriter, resp facade.Response) {
	if resp.StatusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, resp.StatusCode, resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
