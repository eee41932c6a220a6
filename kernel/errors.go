package kernel

import "fmt"

// GrammarError reports a kernel source construct outside the restricted
// grammar. It is fatal at chain-build time: the chain is rejected before any
// particle executes.
type GrammarError struct {
	Kernel    string
	Pos       string // "line:col" in the kernel source
	Construct string
	Msg       string
}

func (e *GrammarError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("kernel %s: %s: %s: %s", e.Kernel, e.Pos, e.Construct, e.Msg)
	}
	return fmt.Sprintf("kernel %s: %s: %s is not allowed in kernel code", e.Kernel, e.Pos, e.Construct)
}

// BuildError reports a failure turning validated IR into a callable unit.
// The validator guarantees well-formed IR, so this is an internal invariant
// violation rather than a user error.
type BuildError struct {
	Chain string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("kernel: building chain %s: %v", e.Chain, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
