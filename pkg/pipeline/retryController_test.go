package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
	"github.com/zoff-tech/go-eventbus/pkg/store"
)

func insertFailed(t *testing.T, repo *fakeRepo, correlationID string, retries int) *entity.Entity {
	t.Helper()
	e := entity.New(entity.KindPayment, correlationID, "order.created", "card")
	require.NoError(t, e.MarkFailed("gateway timeout"))
	e.Retries = retries
	require.NoError(t, repo.Insert(context.Background(), e))
	return e
}

func TestRetry_SucceedsAndConsumesOneAttempt(t *testing.T) {
	repo := newFakeRepo()
	failed := insertFailed(t, repo, "corr-1", 0)
	provider := &fakeProvider{response: `{"charge":"ch_1"}`}
	c := NewRetryController(repo, provider)

	e, err := c.Retry(context.Background(), failed.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.StatusSucceeded, e.Status)
	assert.Equal(t, 1, e.Retries)
	assert.Empty(t, e.LastError)
	assert.Equal(t, 1, provider.calls)

	// The retrying status was persisted before the provider was touched.
	assert.Equal(t, []entity.Status{entity.StatusRetrying, entity.StatusSucceeded}, repo.statusLog)
}

func TestRetry_ExhaustedBudgetLeavesEntityUntouched(t *testing.T) {
	repo := newFakeRepo()
	failed := insertFailed(t, repo, "corr-1", entity.MaxRetries)
	provider := &fakeProvider{response: "ok"}
	c := NewRetryController(repo, provider)

	e, err := c.Retry(context.Background(), failed.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Zero(t, provider.calls)

	assert.Equal(t, entity.StatusFailed, e.Status)
	stored, getErr := repo.GetByID(context.Background(), failed.ID)
	require.NoError(t, getErr)
	assert.Equal(t, entity.StatusFailed, stored.Status)
	assert.Equal(t, entity.MaxRetries, stored.Retries)
	assert.Empty(t, repo.statusLog, "no write may happen for a refused retry")
}

func TestRetry_NonFailedStatusIsNotRetryable(t *testing.T) {
	repo := newFakeRepo()
	e := entity.New(entity.KindPayment, "corr-1", "order.created", "card")
	require.NoError(t, repo.Insert(context.Background(), e))
	c := NewRetryController(repo, &fakeProvider{response: "ok"})

	_, err := c.Retry(context.Background(), e.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetry_UnknownEntity(t *testing.T) {
	repo := newFakeRepo()
	c := NewRetryController(repo, &fakeProvider{response: "ok"})

	_, err := c.Retry(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetry_ProviderFailurePersistsBeforeReturning(t *testing.T) {
	repo := newFakeRepo()
	failed := insertFailed(t, repo, "corr-1", 1)
	provider := &fakeProvider{err: errors.New("still down")}
	c := NewRetryController(repo, provider)

	e, err := c.Retry(context.Background(), failed.ID)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, entity.StatusFailed, e.Status)
	assert.Equal(t, 2, e.Retries)
	assert.Equal(t, "still down", e.LastError)

	stored, getErr := repo.GetByID(context.Background(), failed.ID)
	require.NoError(t, getErr)
	assert.Equal(t, entity.StatusFailed, stored.Status)
	assert.Equal(t, 2, stored.Retries)
}

func TestRetryEligible_ContinuesPastFailures(t *testing.T) {
	repo := newFakeRepo()
	insertFailed(t, repo, "corr-1", 0)
	poisoned := insertFailed(t, repo, "corr-2", 0)
	insertFailed(t, repo, "corr-3", 0)

	provider := &fakeProvider{response: "ok", errForID: map[string]error{
		poisoned.ID: errors.New("still down"),
	}}
	c := NewRetryController(repo, provider)

	succeeded, err := c.RetryEligible(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 3, provider.calls)

	stored, getErr := repo.GetByID(context.Background(), poisoned.ID)
	require.NoError(t, getErr)
	assert.Equal(t, entity.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Retries)
}

func TestRetryEligible_SkipsExhaustedEntities(t *testing.T) {
	repo := newFakeRepo()
	insertFailed(t, repo, "corr-1", entity.MaxRetries)
	provider := &fakeProvider{response: "ok"}
	c := NewRetryController(repo, provider)

	succeeded, err := c.RetryEligible(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, succeeded)
	assert.Zero(t, provider.calls)
}

func TestRetryEligible_FetchErrorPropagates(t *testing.T) {
	repo := newFakeRepo()
	repo.fetchErr = errors.New("connection reset")
	c := NewRetryController(repo, &fakeProvider{response: "ok"})

	_, err := c.RetryEligible(context.Background(), 10)
	assert.EqualError(t, err, "connection reset")
}
