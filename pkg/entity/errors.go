package entity

import (
	"errors"
	"fmt"
)

// ErrMaxRetriesExceeded is returned by MarkRetrying once the attempt
// budget is spent.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// InvalidTransitionError reports an attempted edge that is not in the
// transition table. The entity is never mutated when it is returned.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}

// Terminal marks the error as non-retryable for the consumer outcome
// policy: redelivering a message can never make an illegal edge legal.
func (e *InvalidTransitionError) Terminal() bool { return true }
