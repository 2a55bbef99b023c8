package broker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-eventbus/pkg/config"
	"github.com/zoff-tech/go-eventbus/pkg/event"
)

type RabbitMQPublisherCreator func(settings *config.BrokerSettings) (Publisher, error)

var NewRabbitMqPublisher RabbitMQPublisherCreator = func(settings *config.BrokerSettings) (Publisher, error) {
	conn, err := amqp.Dial(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)
	go func() {
		for err := range notifyClose {
			log.Printf("RabbitMQ connection closed: %v", err)
		}
	}()

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// ExchangeDeclare is idempotent and has no effect if the exchange is
	// already in place
	err = channel.ExchangeDeclare(
		settings.Exchange, // name of the exchange
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := &rabbitMqPublisher{
		connection: conn,
		channel:    channel,
		exchange:   settings.Exchange,
	}

	if settings.ConfirmPublish {
		if err := channel.Confirm(false); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to put channel in confirm mode: %w", err)
		}
		p.confirms = channel.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	return p, nil
}

type rabbitMqPublisher struct {
	connection *amqp.Connection
	channel    amqpChannel
	exchange   string
	// confirms is non-nil when the channel runs in confirm mode; Publish
	// then blocks until the broker acknowledged durable receipt.
	confirms  chan amqp.Confirmation
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (r *rabbitMqPublisher) Publish(ctx context.Context, evt *event.Event) error {
	tracer := otel.Tracer("go-eventbus")
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKey.String(r.exchange),
			semconv.MessagingRabbitmqRoutingKeyKey.String(string(evt.Type)),
			semconv.MessagingConversationIDKey.String(evt.CorrelationID),
		),
	)
	defer span.End()

	body, err := evt.Marshal()
	if err != nil {
		span.RecordError(err)
		return err
	}

	// The trace context rides along in the message headers so the
	// consumer can resume the span.
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make(amqp.Table, len(carrier))
	for k, v := range carrier {
		headers[k] = v
	}

	// The channel is owned by this publisher and must not be used from
	// multiple goroutines at once.
	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.channel.Publish(
		r.exchange, string(evt.Type), false, false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     evt.ID,
			CorrelationId: evt.CorrelationID,
			Timestamp:     evt.Timestamp,
			Headers:       headers,
			Body:          body,
		},
	)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if r.confirms != nil {
		select {
		case confirmed, ok := <-r.confirms:
			if !ok {
				return fmt.Errorf("confirm channel closed before ack for event %s", evt.ID)
			}
			if !confirmed.Ack {
				return fmt.Errorf("broker nacked publish of event %s", evt.ID)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(body)),
	)

	return nil
}

// Close tears down the channel before the connection and is safe to call
// more than once.
func (r *rabbitMqPublisher) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.channel != nil {
			if err := r.channel.Close(); err != nil {
				r.closeErr = err
			}
		}
		if r.connection != nil {
			if err := r.connection.Close(); err != nil && r.closeErr == nil {
				r.closeErr = err
			}
		}
	})
	return r.closeErr
}
