package field

import "fmt"

// OutOfBoundsError reports a sample query outside the field domain under the
// "error" boundary policy, or outside the time range of a field that does not
// allow time extrapolation. It is recoverable at particle granularity: the
// executor converts it into a particle error state.
type OutOfBoundsError struct {
	Field string
	Axis  string
	Value float64
	Min   float64
	Max   float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("field %s: %s=%g outside domain [%g, %g]",
		e.Field, e.Axis, e.Value, e.Min, e.Max)
}

// DataUnavailableError reports that a lazily loaded data chunk could not be
// fetched. Sampling either completes with a value or fails with this error;
// it never leaves the field partially mutated.
type DataUnavailableError struct {
	Field string
	Chunk int
	Err   error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("field %s: chunk %d unavailable: %v", e.Field, e.Chunk, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }
