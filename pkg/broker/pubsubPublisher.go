package broker

import (
	"context"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/zoff-tech/go-eventbus/pkg/config"
	"github.com/zoff-tech/go-eventbus/pkg/event"
)

// PubSubPublisherCreator defines a function type for creating Pub/Sub publishers.
type PubSubPublisherCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (Publisher, error)

// NewPubSubPublisher is the default implementation of PubSubPublisherCreator.
var NewPubSubPublisher PubSubPublisherCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (Publisher, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	topic := client.Topic(settings.Exchange)
	// Ordering by correlation id keeps the events of one business
	// transaction in publish order.
	topic.EnableMessageOrdering = true

	return &pubSubPublisher{client: client, topic: topic}, nil
}

type pubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func (p *pubSubPublisher) Publish(ctx context.Context, evt *event.Event) error {
	tracer := otel.Tracer("go-eventbus")
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.topic.ID()),
		),
	)
	defer span.End()

	body, err := evt.Marshal()
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Event metadata plus the trace context ride along as attributes.
	attributes := map[string]string{
		"eventType":     string(evt.Type),
		"messageId":     evt.ID,
		"correlationId": evt.CorrelationID,
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attributes))

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:        body,
		Attributes:  attributes,
		OrderingKey: evt.CorrelationID,
	})
	if _, err := res.Get(ctx); err != nil { // wait for server ack
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Int("messaging.message_payload_size_bytes", len(body)))
	return nil
}

func (p *pubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
