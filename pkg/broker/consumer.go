package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-eventbus/pkg/config"
	"github.com/zoff-tech/go-eventbus/pkg/event"
)

// retryCountHeader carries the transport-level attempt count across
// republishes. Absent means 0.
const retryCountHeader = "x-retry-count"

// Handler processes one decoded domain event. A nil return acknowledges
// the message; an error routes it through the retry/dead-letter policy.
type Handler interface {
	Handle(ctx context.Context, evt *event.Event) error
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnected              // connection and channel open, topology declared
	stateReady                  // bound and consuming
)

// Consumer receives events from one durable queue with manual
// acknowledgment and prefetch=1. Failed deliveries are republished with an
// incremented retry header until the budget is spent, then dead-lettered.
// Scale-out runs more instances; correctness under concurrent duplicates
// rests on the storage-level idempotency guard, not on this type.
type Consumer struct {
	broker     config.BrokerSettings
	settings   config.ConsumerSettings
	maxRetries int
	handler    Handler

	mu      sync.Mutex
	conn    *amqp.Connection
	channel amqpChannel
	state   connState

	closeOnce sync.Once
	closeErr  error
}

func NewConsumer(broker config.BrokerSettings, settings config.ConsumerSettings, maxRetries int, handler Handler) *Consumer {
	return &Consumer{
		broker:     broker,
		settings:   settings,
		maxRetries: maxRetries,
		handler:    handler,
	}
}

// Connect dials the broker and declares the full topology: the dead-letter
// queue, the main queue with dead-letter routing, the topic exchange, and
// one binding per consumed event type. Calling it again on a connected
// consumer is a no-op.
func (c *Consumer) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state >= stateConnected {
		return nil
	}

	conn, err := amqp.Dial(c.broker.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
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
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareTopology(channel); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	prefetch := c.settings.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	// prefetch=1 serializes processing within this instance and bounds
	// the number of unacknowledged deliveries.
	if err := channel.Qos(prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.state = stateConnected
	return nil
}

func (c *Consumer) declareTopology(channel amqpChannel) error {
	// Dead-letter queue first: the main queue's arguments reference it.
	if _, err := channel.QueueDeclare(
		c.settings.DeadLetterQueue, // name
		true,                       // durable
		false,                      // auto-delete
		false,                      // exclusive
		false,                      // no-wait
		nil,                        // arguments
	); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	if c.settings.DeadLetterExchange != "" {
		if err := channel.ExchangeDeclare(
			c.settings.DeadLetterExchange, "direct", true, false, false, false, nil,
		); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}
		if err := channel.QueueBind(
			c.settings.DeadLetterQueue, c.settings.DeadLetterQueue,
			c.settings.DeadLetterExchange, false, nil,
		); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue: %w", err)
		}
	}

	if _, err := channel.QueueDeclare(
		c.settings.Queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    c.settings.DeadLetterExchange,
			"x-dead-letter-routing-key": c.settings.DeadLetterQueue,
		},
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.ExchangeDeclare(
		c.broker.Exchange, "topic", true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// One binding per consumed event type. Enumerated on purpose: no
	// wildcard that would silently subscribe to unrelated types.
	for _, key := range c.settings.Bindings {
		if err := channel.QueueBind(c.settings.Queue, key, c.broker.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind routing key %q: %w", key, err)
		}
	}

	return nil
}

// Start registers the delivery handler and blocks until the context is
// cancelled or the delivery channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.Connect(); err != nil {
		return err
	}

	c.mu.Lock()
	deliveries, err := c.channel.Consume(
		c.settings.Queue,
		"",    // consumer tag
		false, // auto-ack: acknowledgment is manual
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.state = stateReady
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	// Resume the publisher's trace if its context rode along in headers.
	carrier := propagation.MapCarrier{}
	for k, v := range delivery.Headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	propagator := otel.GetTextMapPropagator()
	ctx = propagator.Extract(ctx, carrier)

	tracer := otel.Tracer("go-eventbus")
	ctx, span := tracer.Start(ctx, "Consume",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKey.String(c.settings.Queue),
			semconv.MessagingRabbitmqRoutingKeyKey.String(delivery.RoutingKey),
		),
	)
	defer span.End()

	retryCount := retryCountFrom(delivery.Headers)

	evt, err := event.Unmarshal(delivery.Body)
	if err != nil {
		// Undecodable bodies are terminal: retrying cannot fix them, so
		// they dead-letter on first sight instead of burning the budget.
		log.Printf("Dead-lettering malformed message %s: %v", delivery.MessageId, err)
		span.RecordError(err)
		c.nackToDLQ(delivery)
		return
	}

	err = c.invokeHandler(ctx, evt)

	switch decideOutcome(err, retryCount, c.maxRetries) {
	case outcomeAck:
		if err := delivery.Ack(false); err != nil {
			log.Printf("Failed to ack message %s: %v", evt.ID, err)
		}
	case outcomeDeadLetter:
		log.Printf("Dead-lettering event %s (type %s, retries %d): %v", evt.ID, evt.Type, retryCount, err)
		span.RecordError(err)
		c.nackToDLQ(delivery)
	case outcomeRetry:
		span.RecordError(err)
		if repubErr := c.republish(delivery, retryCount+1); repubErr != nil {
			// Could not hand the retry back to the broker; requeue the
			// original so it is not lost.
			log.Printf("Failed to republish event %s: %v", evt.ID, repubErr)
			if nackErr := delivery.Nack(false, true); nackErr != nil {
				log.Printf("Failed to nack message %s: %v", evt.ID, nackErr)
			}
			return
		}
		log.Printf("Retrying event %s (type %s), attempt %d of %d: %v", evt.ID, evt.Type, retryCount+1, c.maxRetries, err)
		if ackErr := delivery.Ack(false); ackErr != nil {
			log.Printf("Failed to ack message %s after republish: %v", evt.ID, ackErr)
		}
	}
}

// invokeHandler shields the consumer loop from handler panics.
func (c *Consumer) invokeHandler(ctx context.Context, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.Handle(ctx, evt)
}

// republish sends the same body back through the exchange with the retry
// header incremented. The original delivery is then acked so only the
// final exhausted attempt ever reaches the DLQ.
func (c *Consumer) republish(delivery amqp.Delivery, retryCount int) error {
	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(retryCount)

	return c.channel.Publish(
		c.broker.Exchange, delivery.RoutingKey, false, false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     delivery.MessageId,
			CorrelationId: delivery.CorrelationId,
			Timestamp:     delivery.Timestamp,
			Headers:       headers,
			Body:          delivery.Body,
		},
	)
}

// nackToDLQ rejects without requeue; the queue's dead-letter arguments
// route the message to the DLQ.
func (c *Consumer) nackToDLQ(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		log.Printf("Failed to nack message %s: %v", delivery.MessageId, err)
	}
}

// Close tears down the channel and connection. In-flight unacknowledged
// deliveries become visible to other consumers per broker redelivery
// rules. Safe to call more than once.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.channel != nil {
			if err := c.channel.Close(); err != nil {
				c.closeErr = err
			}
		}
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
		c.state = stateDisconnected
	})
	return c.closeErr
}
