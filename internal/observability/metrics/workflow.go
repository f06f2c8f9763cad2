package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

const namespace = "notation"

// WorkflowMetrics implements ports.WorkflowObserver.
type WorkflowMetrics struct {
	service string

	transitionsTotal   *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
	ocrPollsTotal      *prometheus.CounterVec
	storageEventsTotal *prometheus.CounterVec
}

func newWorkflowMetrics(registry prometheus.Registerer, service string) *WorkflowMetrics {
	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Total workflow status transitions by target status.",
		},
		[]string{"service", "status"},
	)
	retryAttemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "retry_attempts_total",
			Help:      "Total retries scheduled against external dependencies.",
		},
		[]string{"service", "operation"},
	)
	ocrPollsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "ocr_polls_total",
			Help:      "Total OCR job polls by outcome.",
		},
		[]string{"service", "outcome"},
	)
	storageEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "storage_events_total",
			Help:      "Total object-created notifications by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(transitionsTotal, retryAttemptsTotal, ocrPollsTotal, storageEventsTotal)

	return &WorkflowMetrics{
		service:            service,
		transitionsTotal:   transitionsTotal,
		retryAttemptsTotal: retryAttemptsTotal,
		ocrPollsTotal:      ocrPollsTotal,
		storageEventsTotal: storageEventsTotal,
	}
}

func (m *WorkflowMetrics) ObserveTransition(status domain.WorkflowStatus) {
	m.transitionsTotal.WithLabelValues(m.service, string(status)).Inc()
}

func (m *WorkflowMetrics) ObserveOCRPoll(outcome string) {
	m.ocrPollsTotal.WithLabelValues(m.service, labelOrUnknown(outcome)).Inc()
}

func (m *WorkflowMetrics) ObserveStorageEvent(outcome string) {
	m.storageEventsTotal.WithLabelValues(m.service, labelOrUnknown(outcome)).Inc()
}

// ObserveRetry matches resilience.Config.OnRetry.
func (m *WorkflowMetrics) ObserveRetry(operation string, _ int, _ time.Duration, _ error) {
	m.retryAttemptsTotal.WithLabelValues(m.service, labelOrUnknown(operation)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
