package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so the tick loop can decide what to do with them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient is a network or broker hiccup. Nothing was mutated; the
	// next tick retries.
	KindTransient
	// KindDataUnavailable means market data is missing or stale; the
	// instrument is skipped for the tick.
	KindDataUnavailable
	// KindReconciliationConflict is an ambiguous ledger/broker mismatch left
	// for manual review.
	KindReconciliationConflict
	// KindPersistence means the ledger could not be made durable.
	KindPersistence
	// KindValidation rejects an event such as a fill outside tolerance.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient_api"
	case KindDataUnavailable:
		return "data_unavailable"
	case KindReconciliationConflict:
		return "reconciliation_conflict"
	case KindPersistence:
		return "persistence_failure"
	case KindValidation:
		return "validation_failure"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s [%s]: %v", e.Op, e.Code, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with kind. A nil err yields nil.
func NewError(kind Kind, op, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
