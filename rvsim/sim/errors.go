package sim

import "fmt"

// VMError is the panic payload for fatal simulator conditions: unimplemented
// instructions and malformed memory accesses. Execute routines panic with it
// and the public Step/Run/Call surface recovers it into a returned error.
// Arithmetic edge cases (divide by zero, FP invalid operation, overflow) are
// defined-behavior results, never VMErrors.
type VMError struct {
	Code uint64
	Err  error
}

func (e *VMError) Error() string {
	return fmt.Sprintf("vm fault %x: %v", e.Code, e.Err)
}

func (e *VMError) Unwrap() error {
	return e.Err
}

// throw aborts the current instruction with a fatal diagnostic.
// Continuing past any of these would silently diverge from hardware.
func throw(code uint64, format string, args ...any) {
	panic(&VMError{Code: code, Err: fmt.Errorf(format, args...)})
}
