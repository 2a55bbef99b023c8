package broker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
)

type terminalTestError struct{ msg string }

func (e *terminalTestError) Error() string  { return e.msg }
func (e *terminalTestError) Terminal() bool { return true }

func TestDecideOutcome(t *testing.T) {
	transient := errors.New("provider timeout")
	terminal := &terminalTestError{msg: "missing recipient"}

	cases := []struct {
		name       string
		err        error
		retryCount int
		want       outcome
	}{
		{"success acks", nil, 0, outcomeAck},
		{"success acks regardless of retries", nil, 3, outcomeAck},
		{"transient failure retries", transient, 0, outcomeRetry},
		{"transient failure retries below budget", transient, 2, outcomeRetry},
		{"budget exhausted dead-letters", transient, 3, outcomeDeadLetter},
		{"beyond budget dead-letters", transient, 5, outcomeDeadLetter},
		{"terminal failure dead-letters immediately", terminal, 0, outcomeDeadLetter},
		{"wrapped terminal failure dead-letters", fmt.Errorf("handling: %w", terminal), 0, outcomeDeadLetter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, decideOutcome(tc.err, tc.retryCount, 3))
		})
	}
}

func TestRetryCountFrom(t *testing.T) {
	assert.Equal(t, 0, retryCountFrom(nil))
	assert.Equal(t, 0, retryCountFrom(amqp.Table{}))
	assert.Equal(t, 2, retryCountFrom(amqp.Table{retryCountHeader: int32(2)}))
	assert.Equal(t, 3, retryCountFrom(amqp.Table{retryCountHeader: int64(3)}))
	assert.Equal(t, 1, retryCountFrom(amqp.Table{retryCountHeader: 1}))
	assert.Equal(t, 0, retryCountFrom(amqp.Table{retryCountHeader: "not a number"}))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, isTerminal(nil))
	assert.False(t, isTerminal(errors.New("plain")))
	assert.True(t, isTerminal(&terminalTestError{msg: "x"}))
	assert.True(t, isTerminal(fmt.Errorf("wrap: %w", &terminalTestError{msg: "x"})))
	assert.False(t, isTerminal(fmt.Errorf("wrap: %w", errors.New("plain"))))
}
