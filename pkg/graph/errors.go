package graph

import (
	"errors"
	"fmt"

	"github.com/pmflow/pmflow/pkg/agent"
)

// transientError marks a node failure worth retrying in place.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps an error so the driver retries the node with backoff.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the error was marked transient. LLM transient
// failures (rate limits, 5xx, idle stream timeouts) count without wrapping.
func IsTransient(err error) bool {
	if errors.Is(err, agent.ErrLLMTransient) {
		return true
	}
	var te *transientError
	return errors.As(err, &te)
}

// ErrUnknownNode indicates a goto target with no registered node.
var ErrUnknownNode = errors.New("unknown graph node")

// ErrIterationBudget indicates the driver's loop safety valve fired. This is
// a programming error in routing, not a normal termination path.
var ErrIterationBudget = fmt.Errorf("graph iteration budget exhausted")
