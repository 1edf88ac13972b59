// Package transport implements the session-establishment exchange once per
// transport. An Adapter only issues the request; completion arrives through
// a callback listener, never through the adapter.
package transport

import (
	"context"
	"errors"
	"fmt"

	"nothing.com/sessionbench/fixture"
)

const (
	GRPC  = "grpc"
	REST  = "rest"
	Kafka = "kafka"
	MQTT  = "mqtt"
	NATS  = "nats"
)

const (
	EventEstablishment = "establishment"
	EventNotification  = "notification"
)

var ErrUnknownTransport = errors.New("unknown transport")

// Names lists the supported transports in a stable order.
func Names() []string {
	return []string{GRPC, REST, Kafka, MQTT, NATS}
}

// Event names what a sample of transport measures: session establishment
// for request/response transports, termination notification for the
// publish/subscribe ones.
func Event(name string) (string, error) {
	switch name {
	case GRPC, REST:
		return EventEstablishment, nil
	case Kafka, MQTT, NATS:
		return EventNotification, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransport, name)
}

type Adapter interface {
	Name() string
	// Attempt issues one request. A nil error means the request was
	// accepted; it says nothing about the rendezvous.
	Attempt(ctx context.Context, req *fixture.Request) error
	Close() error
}

// RejectedError is a protocol-level refusal by the peer.
type RejectedError struct {
	Transport string
	Code      uint32
	Message   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: request rejected with code %d: %s", e.Transport, e.Code, e.Message)
}
