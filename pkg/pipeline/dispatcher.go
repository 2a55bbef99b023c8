package pipeline

import (
	"context"
	"fmt"

	"github.com/zoff-tech/go-eventbus/pkg/event"
)

// Dispatcher routes decoded events to the processor owning their type.
// The switch is over the payload union, so adding an event type without a
// route fails the exhaustive-dispatch test rather than a string lookup at
// runtime. A service wires only the processors it consumes and binds only
// those routing keys; a nil route therefore means misconfiguration and is
// terminal.
type Dispatcher struct {
	// Payments seeds payment intents from placed orders.
	Payments *Processor
	// Orders applies payment outcomes to orders.
	Orders *Processor
	// Notifications sends user-facing messages for lifecycle events.
	Notifications *Processor
}

func (d *Dispatcher) Handle(ctx context.Context, evt *event.Event) error {
	switch evt.Payload.(type) {
	case *event.OrderCreated:
		return d.dispatch(ctx, d.Payments, evt)
	case *event.PaymentSucceeded, *event.PaymentFailed:
		return d.dispatch(ctx, d.Orders, evt)
	case *event.OrderPaid, *event.OrderCancelled, *event.UserCreated:
		return d.dispatch(ctx, d.Notifications, evt)
	default:
		return &ValidationError{Reason: fmt.Sprintf("no route for event type %q", evt.Type)}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, p *Processor, evt *event.Event) error {
	if p == nil {
		return &ValidationError{Reason: fmt.Sprintf("event type %q is not consumed by this service", evt.Type)}
	}
	_, err := p.Process(ctx, evt)
	return err
}
