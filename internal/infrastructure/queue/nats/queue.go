package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

// Queue carries object-created notifications in the S3 event JSON shape, the
// same payload MinIO bucket notifications publish to NATS.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	now      func() time.Time
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("notation-ocr"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", transportError(err))
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishObjectCreated(ctx context.Context, bucket, key string, size int64) error {
	payload, err := json.Marshal(ObjectCreatedEvent(bucket, key, size, q.now()))
	if err != nil {
		return fmt.Errorf("marshal object event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", transportError(err))
		}
		return nil
	}
	if q.executor != nil {
		return q.executor.Do(ctx, "transport.publish", call)
	}
	return call(ctx)
}

// SubscribeObjectCreated delivers decoded events to handler until ctx ends.
// Workers share the queue group so each event is handled once per delivery.
func (q *Queue) SubscribeObjectCreated(ctx context.Context, handler func(context.Context, events.S3Event) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		var event events.S3Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("object_event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, event); err != nil {
			logging.LogError(handlerCtx, slog.Default(), "object event handler failed", err, "records", len(event.Records))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", transportError(err))
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", transportError(err))
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// ObjectCreatedEvent builds a single-record S3 notification. The key is
// query-escaped the way S3 escapes keys in notifications.
func ObjectCreatedEvent(bucket, key string, size int64, at time.Time) events.S3Event {
	return events.S3Event{
		Records: []events.S3EventRecord{{
			EventVersion: "2.1",
			EventSource:  "notation-ocr:localfs",
			EventTime:    at,
			EventName:    "ObjectCreated:Put",
			S3: events.S3Entity{
				SchemaVersion: "1.0",
				Bucket:        events.S3Bucket{Name: bucket},
				Object: events.S3Object{
					Key:  url.QueryEscape(key),
					Size: size,
				},
			},
		}},
	}
}
