package broker

import "github.com/streadway/amqp"

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// decideOutcome maps a handler result and the message's transport retry
// count to an acknowledgment decision. Terminal errors (validation
// failures, illegal state transitions) never consume retry budget:
// redelivery cannot change their result.
func decideOutcome(err error, retryCount, maxRetries int) outcome {
	if err == nil {
		return outcomeAck
	}
	if isTerminal(err) {
		return outcomeDeadLetter
	}
	if retryCount >= maxRetries {
		return outcomeDeadLetter
	}
	return outcomeRetry
}

// isTerminal reports whether any error in the chain declares itself
// non-retryable via a Terminal() bool method.
func isTerminal(err error) bool {
	for err != nil {
		if t, ok := err.(interface{ Terminal() bool }); ok {
			return t.Terminal()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// retryCountFrom reads the x-retry-count header; a missing or unreadable
// header counts as the first attempt.
func retryCountFrom(headers amqp.Table) int {
	v, ok := headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
