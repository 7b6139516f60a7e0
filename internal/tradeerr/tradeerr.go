package tradeerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	// Validation covers bad amounts and insufficient funds or shares. Never retried.
	Validation
	// Data covers malformed schedules, wrong bar counts and ambiguous local times.
	Data
	// Transport covers connection, request and subscription failures.
	Transport
	// Inconsistency means a fill did not move the account the way it should have.
	Inconsistency
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Data:
		return "data"
	case Transport:
		return "transport"
	case Inconsistency:
		return "inconsistency"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the outermost classified kind in the chain.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
