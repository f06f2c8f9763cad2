package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
)

var transportCodes = []struct {
	err  error
	code string
}{
	{nats.ErrNoServers, "ErrNoServers"},
	{nats.ErrTimeout, "ErrTimeout"},
	{nats.ErrConnectionClosed, "ErrConnectionClosed"},
	{nats.ErrDisconnected, "ErrDisconnected"},
}

// transportError tags nats client failures so the shared classifier can
// decide on retries.
func transportError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsDependencyError(err); ok {
		return err
	}
	for _, tc := range transportCodes {
		if errors.Is(err, tc.err) {
			return resilience.NewDependencyError(domain.ServiceTransport, tc.code, 0, err)
		}
	}
	return resilience.NewDependencyError(domain.ServiceTransport, "", 0, err)
}
