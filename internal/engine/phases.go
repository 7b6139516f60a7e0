package engine

import (
	"fmt"

	"github.com/pkg/errors"

	"dailytrader/internal/order"
)

// Phase is a step of one trading cycle.
type Phase int

const (
	Idle Phase = iota
	AwaitOpen
	Evaluate
	Holding
	AwaitClose
	Settling
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case AwaitOpen:
		return "AwaitOpen"
	case Evaluate:
		return "Evaluate"
	case Holding:
		return "Holding"
	case AwaitClose:
		return "AwaitClose"
	case Settling:
		return "Settling"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Fatal reports whether a failure in p must stop the process. From Holding on the
// cycle owns a position.
func (p Phase) Fatal() bool {
	return p >= Holding
}

type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Fatal is the phase policy, except that a failure after a confirmed fill is always fatal.
func (e *PhaseError) Fatal() bool {
	return e.Phase.Fatal() || errors.Is(e.Err, order.ErrCommitted)
}

func phaseErr(p Phase, err error) error {
	if err == nil {
		return nil
	}
	return &PhaseError{Phase: p, Err: err}
}
