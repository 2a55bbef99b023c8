package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
	"github.com/zoff-tech/go-eventbus/pkg/event"
	"github.com/zoff-tech/go-eventbus/pkg/store"
)

// --- Fakes ---

type fakeRepo struct {
	byID      map[string]*entity.Entity
	order     []string
	statusLog []entity.Status
	fetchErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: map[string]*entity.Entity{}}
}

func (r *fakeRepo) key(e *entity.Entity) string {
	return e.CorrelationID + "|" + e.EventType + "|" + e.Channel
}

func (r *fakeRepo) Insert(ctx context.Context, e *entity.Entity) error {
	for _, existing := range r.byID {
		if r.key(existing) == r.key(e) {
			return store.ErrDuplicateKey
		}
	}
	cp := *e
	r.byID[e.ID] = &cp
	r.order = append(r.order, e.ID)
	return nil
}

func (r *fakeRepo) Update(ctx context.Context, e *entity.Entity) error {
	if _, ok := r.byID[e.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *e
	r.byID[e.ID] = &cp
	r.statusLog = append(r.statusLog, e.Status)
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeRepo) FindByCorrelation(ctx context.Context, correlationID, eventType, channel string) (*entity.Entity, error) {
	for _, e := range r.byID {
		if e.CorrelationID == correlationID && e.EventType == eventType && e.Channel == channel {
			cp := *e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) FetchRetryable(ctx context.Context, limit int) ([]*entity.Entity, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	var out []*entity.Entity
	for _, id := range r.order {
		e := r.byID[id]
		if e.Status == entity.StatusFailed && e.Retries < entity.MaxRetries {
			cp := *e
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeProvider struct {
	response string
	err      error
	errForID map[string]error
	panics   bool
	calls    int
}

func (p *fakeProvider) Name() string { return "fake-provider" }

func (p *fakeProvider) Invoke(ctx context.Context, e *entity.Entity) (string, error) {
	p.calls++
	if p.panics {
		panic("provider exploded")
	}
	if err, ok := p.errForID[e.ID]; ok {
		return "", err
	}
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

func orderCreatedEvent(correlationID string) *event.Event {
	return event.New(correlationID, &event.OrderCreated{OrderID: "o1", UserID: "u1", AmountCents: 100, Currency: "EUR"})
}

// --- Tests ---

func TestProcess_CreatesEntityAndAppliesEffect(t *testing.T) {
	repo := newFakeRepo()
	provider := &fakeProvider{response: `{"ok":true}`}
	p := NewProcessor(repo, provider, entity.KindPayment, "card")

	e, err := p.Process(context.Background(), orderCreatedEvent("corr-1"))
	require.NoError(t, err)

	assert.Equal(t, entity.StatusSucceeded, e.Status)
	assert.Equal(t, `{"ok":true}`, e.ProviderResponse)
	assert.Equal(t, "fake-provider", e.ProviderRef)
	assert.Equal(t, 1, provider.calls)

	stored, err := repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSucceeded, stored.Status)
}

func TestProcess_RedeliveryIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	provider := &fakeProvider{response: "ok"}
	p := NewProcessor(repo, provider, entity.KindPayment, "card")

	evt := orderCreatedEvent("corr-1")
	first, err := p.Process(context.Background(), evt)
	require.NoError(t, err)

	// Simulate crash-before-ack: the identical message arrives again.
	second, err := p.Process(context.Background(), evt)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, entity.StatusSucceeded, second.Status)
	assert.Equal(t, 1, provider.calls, "side effect must be applied exactly once")
}

func TestProcess_LosesInsertRace_UsesWinnersRow(t *testing.T) {
	repo := newFakeRepo()
	provider := &fakeProvider{response: "ok"}
	p := NewProcessor(repo, provider, entity.KindPayment, "card")

	// Another consumer instance completed the same key between our guard
	// lookup and insert.
	winner := entity.New(entity.KindPayment, "corr-1", string(event.TypeOrderCreated), "card")
	require.NoError(t, winner.MarkSucceeded("done elsewhere"))
	require.NoError(t, repo.Insert(context.Background(), winner))

	e, err := p.Process(context.Background(), orderCreatedEvent("corr-1"))
	require.NoError(t, err)
	assert.Equal(t, winner.ID, e.ID)
	assert.Zero(t, provider.calls)
}

func TestProcess_ProviderFailurePersistsFailedEntity(t *testing.T) {
	repo := newFakeRepo()
	provider := &fakeProvider{err: errors.New("gateway timeout")}
	p := NewProcessor(repo, provider, entity.KindPayment, "card")

	e, err := p.Process(context.Background(), orderCreatedEvent("corr-1"))

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, entity.StatusFailed, e.Status)
	assert.Equal(t, "gateway timeout", e.LastError)

	// The failure is durable even though the caller got an error.
	stored, getErr := repo.GetByID(context.Background(), e.ID)
	require.NoError(t, getErr)
	assert.Equal(t, entity.StatusFailed, stored.Status)
	assert.Equal(t, "gateway timeout", stored.LastError)
}

func TestProcess_TerminalValidationErrorPassesThrough(t *testing.T) {
	repo := newFakeRepo()
	provider := &fakeProvider{err: &ValidationError{Reason: "missing recipient"}}
	p := NewProcessor(repo, provider, entity.KindNotification, "email")

	e, err := p.Process(context.Background(), event.New("corr-1", &event.UserCreated{UserID: "u1", Email: ""}))

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.True(t, valErr.Terminal())
	assert.Equal(t, entity.StatusFailed, e.Status)
}

func TestProcess_ProviderPanicIsAFailedAttempt(t *testing.T) {
	repo := newFakeRepo()
	provider := &fakeProvider{panics: true}
	p := NewProcessor(repo, provider, entity.KindPayment, "card")

	e, err := p.Process(context.Background(), orderCreatedEvent("corr-1"))

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, entity.StatusFailed, e.Status)
	assert.Contains(t, e.LastError, "provider panic")
}

func TestProcess_ResumesFailedEntityUnderBudget(t *testing.T) {
	repo := newFakeRepo()
	failing := &fakeProvider{err: errors.New("gateway timeout")}
	p := NewProcessor(repo, failing, entity.KindPayment, "card")

	evt := orderCreatedEvent("corr-1")
	_, err := p.Process(context.Background(), evt)
	require.Error(t, err)

	// Redelivery finds the failed entity and re-drives it, consuming one
	// unit of the shared retry budget.
	recovering := &fakeProvider{response: "ok"}
	p2 := NewProcessor(repo, recovering, entity.KindPayment, "card")
	e, err := p2.Process(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSucceeded, e.Status)
	assert.Equal(t, 1, e.Retries)
}

func TestProcess_ExhaustedEntityIsNotRetryable(t *testing.T) {
	repo := newFakeRepo()
	e := entity.New(entity.KindPayment, "corr-1", string(event.TypeOrderCreated), "card")
	require.NoError(t, e.MarkFailed("boom"))
	e.Retries = entity.MaxRetries
	require.NoError(t, repo.Insert(context.Background(), e))

	provider := &fakeProvider{response: "ok"}
	p := NewProcessor(repo, provider, entity.KindPayment, "card")

	_, err := p.Process(context.Background(), orderCreatedEvent("corr-1"))
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Zero(t, provider.calls)
}

func TestDispatcher_RoutesByPayloadType(t *testing.T) {
	repo := newFakeRepo()
	payments := &fakeProvider{response: "ok"}
	notifications := &fakeProvider{response: "ok"}
	d := &Dispatcher{
		Payments:      NewProcessor(repo, payments, entity.KindPayment, "card"),
		Notifications: NewProcessor(repo, notifications, entity.KindNotification, "email"),
	}

	require.NoError(t, d.Handle(context.Background(), orderCreatedEvent("corr-1")))
	assert.Equal(t, 1, payments.calls)
	assert.Zero(t, notifications.calls)

	require.NoError(t, d.Handle(context.Background(), event.New("corr-2", &event.UserCreated{UserID: "u1", Email: "u@example.com"})))
	assert.Equal(t, 1, notifications.calls)
}

func TestDispatcher_UnroutedEventIsTerminal(t *testing.T) {
	d := &Dispatcher{} // no processors wired

	err := d.Handle(context.Background(), orderCreatedEvent("corr-1"))
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.True(t, valErr.Terminal())
}
