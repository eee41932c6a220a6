package sim

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/drift/field"
)

// InvalidStateError reports a particle whose state became unusable (e.g. a
// NaN position after a commit). Recoverable at particle granularity.
type InvalidStateError struct {
	ID  int64
	Msg string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("particle %d: invalid state: %s", e.ID, e.Msg)
}

// ErrorKind buckets per-particle errors for recovery dispatch.
type ErrorKind int

const (
	KindOutOfBounds ErrorKind = iota
	KindDataUnavailable
	KindInvalidState
	KindOther
)

// Classify maps a per-particle error to its recovery bucket.
func Classify(err error) ErrorKind {
	var oob *field.OutOfBoundsError
	if errors.As(err, &oob) {
		return KindOutOfBounds
	}
	var unavail *field.DataUnavailableError
	if errors.As(err, &unavail) {
		return KindDataUnavailable
	}
	var invalid *InvalidStateError
	if errors.As(err, &invalid) {
		return KindInvalidState
	}
	return KindOther
}
