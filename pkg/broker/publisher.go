// Package broker implements durable event delivery over RabbitMQ and
// GCP Pub/Sub: a publisher port, a manual-ack consumer with bounded
// transport retry, and dead-letter routing for exhausted or terminal
// messages.
package broker

import (
	"context"

	"github.com/zoff-tech/go-eventbus/pkg/event"
)

// Publisher defines the operations to publish domain events to a broker.
type Publisher interface {
	// Publish sends one durable message carrying the event. The caller
	// decides how to react to a broker error; the publisher does not
	// retry on its own.
	Publish(ctx context.Context, evt *event.Event) error
	// Close cleans up any resources (channels, connections). Idempotent.
	Close() error
}
