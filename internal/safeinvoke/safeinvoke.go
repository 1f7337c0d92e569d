// Package safeinvoke implements the fault-isolation wrapper every
// hook/callout/heartbeat invocation passes through (spec.md §4.6's "a
// faulting hook must not crash the tick" contract): a bounded deadline
// (grounded on the teacher's executor.LocalExecutor timeout handling via
// context.WithTimeout) plus panic recovery, with a per-blueprint
// circuitbreaker.Breaker (teacher's internal/circuitbreaker) that stops
// invoking a blueprint whose hooks fail often enough, until it cools
// down.
package safeinvoke

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/mudkernel/internal/circuitbreaker"
	"github.com/oriys/mudkernel/internal/kernerr"
)

// Config controls deadline and breaker behavior.
type Config struct {
	// HookTimeout bounds a single hook/callout/heartbeat call. Zero
	// disables the deadline (invocations run to completion).
	HookTimeout time.Duration
	// Breaker, if non-zero-valued, is applied per blueprint id.
	Breaker circuitbreaker.Config
	// OnFault is called (outside the invocation's own goroutine) whenever
	// an invocation panics, times out, or is rejected by an open breaker.
	OnFault func(fault *kernerr.HookFault)
}

// Invoker wraps TryInvoke-shaped calls with deadline + panic isolation +
// per-blueprint circuit breaking.
type Invoker struct {
	cfg      Config
	breakers *circuitbreaker.Registry
}

// New creates a SafeInvoker.
func New(cfg Config) *Invoker {
	return &Invoker{cfg: cfg, breakers: circuitbreaker.NewRegistry()}
}

// Call runs fn under fault isolation on behalf of blueprintID/target/
// method, used for a single hook, callout, or heartbeat dispatch. fn
// itself is expected to perform the actual reflective/script dispatch
// (callout.Invoker.TryInvoke) and must be safe to abandon if the
// deadline elapses (it keeps running in its own goroutine; safeinvoke
// only stops waiting on it).
func (inv *Invoker) Call(ctx context.Context, blueprintID, target, method string, fn func()) {
	breaker := inv.breakers.Get(blueprintID, inv.cfg.Breaker)
	if breaker != nil && !breaker.Allow() {
		inv.fault(target, method, kernerr.ErrCapacityExceeded)
		return
	}

	done := make(chan struct{})
	var panicVal any

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				panicVal = r
			}
		}()
		fn()
	}()

	if inv.cfg.HookTimeout <= 0 {
		<-done
	} else {
		timer := time.NewTimer(inv.cfg.HookTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			f := inv.fault(target, method, kernerr.ErrHookTimeout)
			if breaker != nil {
				breaker.RecordFailure(f)
			}
			return
		}
	}

	if panicVal != nil {
		f := inv.fault(target, method, fmt.Errorf("panic: %v", panicVal))
		if breaker != nil {
			breaker.RecordFailure(f)
		}
		return
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}
}

// fault builds the HookFault for target/method/err and reports it via
// OnFault (if configured), returning it so the caller can also hand it
// to the breaker that rejected or tripped on this call.
func (inv *Invoker) fault(target, method string, err error) *kernerr.HookFault {
	f := &kernerr.HookFault{Target: target, Method: method, Source: err}
	if inv.cfg.OnFault != nil {
		inv.cfg.OnFault(f)
	}
	return f
}

// BreakerState reports blueprintID's current breaker state, for the
// stats/diagnostics surface; returns "closed" if no breaker has been
// created for it yet (the default, fully-open-to-traffic state).
func (inv *Invoker) BreakerState(blueprintID string) string {
	b := inv.breakers.Get(blueprintID, inv.cfg.Breaker)
	if b == nil {
		return circuitbreaker.StateClosed.String()
	}
	return b.State().String()
}

// RemoveBreaker drops blueprintID's breaker, called from
// unload_blueprint.
func (inv *Invoker) RemoveBreaker(blueprintID string) {
	inv.breakers.Remove(blueprintID)
}
