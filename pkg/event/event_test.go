package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FillsEnvelope(t *testing.T) {
	evt := New("corr-1", &OrderCreated{OrderID: "o1", UserID: "u1", AmountCents: 4200, Currency: "EUR"})
	assert.Equal(t, TypeOrderCreated, evt.Type)
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "corr-1", evt.CorrelationID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.NoError(t, evt.Validate())
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	evt := New("corr-1", &OrderCreated{OrderID: "o1", UserID: "u1", AmountCents: 4200, Currency: "EUR"})
	evt.Timestamp = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	body, err := evt.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(body)
	require.NoError(t, err)
	assert.Equal(t, evt.Type, decoded.Type)
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, evt.CorrelationID, decoded.CorrelationID)
	assert.True(t, evt.Timestamp.Equal(decoded.Timestamp))

	payload, ok := decoded.Payload.(*OrderCreated)
	require.True(t, ok, "payload should decode to its concrete type")
	assert.Equal(t, "o1", payload.OrderID)
	assert.Equal(t, int64(4200), payload.AmountCents)
}

func TestUnmarshal_ResolvesUnionByType(t *testing.T) {
	cases := []struct {
		payload Payload
		want    any
	}{
		{&OrderPaid{OrderID: "o1"}, &OrderPaid{}},
		{&OrderCancelled{OrderID: "o1"}, &OrderCancelled{}},
		{&PaymentSucceeded{PaymentID: "p1"}, &PaymentSucceeded{}},
		{&PaymentFailed{PaymentID: "p1"}, &PaymentFailed{}},
		{&UserCreated{UserID: "u1", Email: "u@example.com"}, &UserCreated{}},
	}
	for _, tc := range cases {
		body, err := New("corr-1", tc.payload).Marshal()
		require.NoError(t, err)
		decoded, err := Unmarshal(body)
		require.NoError(t, err)
		assert.IsType(t, tc.want, decoded.Payload)
	}
}

func TestUnmarshal_GarbageBody(t *testing.T) {
	_, err := Unmarshal([]byte("not json at all"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnmarshal_UnknownEventType(t *testing.T) {
	body := []byte(`{"eventType":"inventory.reserved","eventId":"e1","timestamp":"2025-06-01T12:00:00Z","correlationId":"corr-1","payload":{}}`)
	_, err := Unmarshal(body)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnmarshal_MissingIdentifiers(t *testing.T) {
	body := []byte(`{"eventType":"order.created","timestamp":"2025-06-01T12:00:00Z","payload":{"orderId":"o1"}}`)
	_, err := Unmarshal(body)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnmarshal_PayloadShapeMismatch(t *testing.T) {
	body := []byte(`{"eventType":"order.created","eventId":"e1","timestamp":"2025-06-01T12:00:00Z","correlationId":"corr-1","payload":"a string, not an object"}`)
	_, err := Unmarshal(body)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestValidate_RejectsIncompleteEvents(t *testing.T) {
	evt := New("corr-1", &UserCreated{UserID: "u1"})

	evt.CorrelationID = ""
	assert.Error(t, evt.Validate())

	evt = New("", &UserCreated{UserID: "u1"})
	assert.Error(t, evt.Validate())

	evt = New("corr-1", &UserCreated{UserID: "u1"})
	evt.Type = TypeOrderPaid // mismatch with payload tag
	assert.Error(t, evt.Validate())
}
