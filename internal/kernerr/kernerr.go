// Package kernerr defines the driver's shared error taxonomy (spec.md §7).
// The plain kinds are sentinels wrapped with context via fmt.Errorf("%w",
// ...) and matched with errors.Is; CompileError and HookFault are struct
// types matched with errors.As. This follows the sentinel-plus-wrap
// convention the rest of the driver uses throughout.
package kernerr

import "errors"

var (
	// ErrSourceNotFound is returned when a blueprint's source cannot be
	// located by the configured loader.
	ErrSourceNotFound = errors.New("kernerr: source not found")
	// ErrNoMudObject is returned when compiled code exposes no
	// constructible type implementing the base object capability.
	ErrNoMudObject = errors.New("kernerr: compiled module exposes no mud object")
	// ErrTypeMismatch is returned when an id resolves to an object whose
	// type does not satisfy a requested capability.
	ErrTypeMismatch = errors.New("kernerr: type mismatch")
	// ErrNotFound is returned when an id is unknown to a registry.
	ErrNotFound = errors.New("kernerr: not found")
	// ErrHookTimeout is returned by SafeInvoker when a world-code frame
	// exceeds its deadline.
	ErrHookTimeout = errors.New("kernerr: hook timeout")
	// ErrCapacityExceeded is never fatal. SafeInvoker uses it as the
	// Source of the HookFault it reports when an open breaker rejects a
	// call.
	ErrCapacityExceeded = errors.New("kernerr: capacity exceeded")
)

// CompileError carries the diagnostics produced by a failed blueprint
// compile.
type CompileError struct {
	BlueprintID string
	Diagnostics []string
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "kernerr: compile error in " + e.BlueprintID
	}
	msg := "kernerr: compile error in " + e.BlueprintID + ": "
	for i, d := range e.Diagnostics {
		if i > 0 {
			msg += "; "
		}
		msg += d
	}
	return msg
}

// HookFault wraps a world-code error (panic recovery or returned error)
// so it can cross the SafeInvoker boundary without ever propagating as a
// raw panic.
type HookFault struct {
	Target string
	Method string
	Source error
}

func (e *HookFault) Error() string {
	return "kernerr: hook fault in " + e.Target + "." + e.Method + ": " + e.Source.Error()
}

func (e *HookFault) Unwrap() error { return e.Source }
