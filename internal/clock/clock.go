// Package clock abstracts monotonic time so schedulers and tests can
// advance time deterministically instead of racing the wall clock.
//
// Grounded on github.com/benbjohnson/clock, the fakeable-clock library
// used across the example corpus: System wraps clock.New(), and Fake
// wraps clock.NewMock(), narrowed to the single Now() method every
// scheduler in this driver actually needs (spec.md §6.5).
package clock

import (
	"time"

	bjclock "github.com/benbjohnson/clock"
)

// Clock is the monotonic time source every scheduler reads from.
type Clock interface {
	// Now returns the current instant, with at least millisecond resolution.
	Now() time.Time
}

// System returns the real wall/monotonic clock.
func System() Clock { return bjclock.New() }

// Fake is a manually-advanced clock for deterministic scheduler tests,
// wrapping benbjohnson/clock.Mock.
type Fake struct {
	mock *bjclock.Mock
}

// NewFake creates a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	m := bjclock.NewMock()
	m.Set(start)
	return &Fake{mock: m}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time { return f.mock.Now() }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.mock.Add(d) }

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) { f.mock.Set(t) }
