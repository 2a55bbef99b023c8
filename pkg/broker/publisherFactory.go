package broker

import (
	"context"
	"fmt"

	"github.com/zoff-tech/go-eventbus/pkg/config"
)

// NewPublisher builds the publisher backend selected by settings.Type.
func NewPublisher(ctx context.Context, cfg *config.BrokerSettings) (Publisher, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqPublisher(cfg)
	case "gcp-pubsub":
		return NewPubSubPublisher(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
