package event

import (
	"encoding/json"
	"fmt"
)

// Payload is the tagged union of per-type event bodies. The event type
// determines the payload's shape; decodePayload is the single place that
// mapping lives, so a new event type that misses a case fails at decode
// time rather than deep inside a handler.
type Payload interface {
	EventType() Type
}

// OrderCreated is emitted by the order service when a customer places an
// order. Downstream it seeds a payment intent.
type OrderCreated struct {
	OrderID     string `json:"orderId"`
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

func (OrderCreated) EventType() Type { return TypeOrderCreated }

// OrderPaid is emitted by the order service once payment confirmation has
// been applied to the order.
type OrderPaid struct {
	OrderID   string `json:"orderId"`
	UserID    string `json:"userId"`
	PaymentID string `json:"paymentId"`
}

func (OrderPaid) EventType() Type { return TypeOrderPaid }

// OrderCancelled is emitted when an order is cancelled by the customer or
// by an operator.
type OrderCancelled struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason,omitempty"`
}

func (OrderCancelled) EventType() Type { return TypeOrderCancelled }

// PaymentSucceeded is emitted by the payment service after the provider
// confirmed the charge.
type PaymentSucceeded struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	UserID    string `json:"userId"`
}

func (PaymentSucceeded) EventType() Type { return TypePaymentSucceeded }

// PaymentFailed is emitted by the payment service when the provider
// rejected the charge or the attempt budget ran out.
type PaymentFailed struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	UserID    string `json:"userId"`
	Reason    string `json:"reason,omitempty"`
}

func (PaymentFailed) EventType() Type { return TypePaymentFailed }

// UserCreated is emitted by the identity service on signup; the
// notification service reacts with a welcome message.
type UserCreated struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

func (UserCreated) EventType() Type { return TypeUserCreated }

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload for %q", ErrMalformed, t)
	}

	decode := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("%w: bad %q payload: %v", ErrMalformed, t, err)
		}
		return v, nil
	}

	switch t {
	case TypeOrderCreated:
		return decode(&OrderCreated{})
	case TypeOrderPaid:
		return decode(&OrderPaid{})
	case TypeOrderCancelled:
		return decode(&OrderCancelled{})
	case TypePaymentSucceeded:
		return decode(&PaymentSucceeded{})
	case TypePaymentFailed:
		return decode(&PaymentFailed{})
	case TypeUserCreated:
		return decode(&UserCreated{})
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformed, t)
	}
}
