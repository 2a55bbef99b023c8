package pipeline

import "fmt"

// terminalError is a sentinel string error that declares itself
// non-retryable to the consumer outcome policy.
type terminalError string

func (e terminalError) Error() string { return string(e) }
func (terminalError) Terminal() bool  { return true }

// ErrNotRetryable indicates the entity is not in the retryable failure
// status or its attempt budget is spent.
const ErrNotRetryable = terminalError("entity is not retryable")

// ValidationError reports a business validation failure (for example a
// missing recipient). It is terminal: redelivering the message cannot
// make the input valid.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Reason }

func (e *ValidationError) Terminal() bool { return true }

// ProviderError reports a failed side-effect attempt. It is transient:
// the provider may recover, so the failure stays eligible for transport
// redelivery and business retry.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider call failed: %v", e.Err) }

func (e *ProviderError) Unwrap() error { return e.Err }
