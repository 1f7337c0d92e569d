// Package scheduler implements the optional cron-driven callout trigger
// (spec.md §9 NEW): world blueprints may register a wall-clock cron
// expression ("0 */6 * * *") instead of a fixed interval. A cron fire
// does not bypass the callout pipeline — it enqueues a one-shot callout
// against the target object, so cron-triggered hooks go through the same
// CallOutInvoker dispatch, fault isolation, and tick-bound reflection
// cache as every other callout.
//
// Adapted from the teacher's internal/scheduler, which drove cron-based
// function re-invocation the same way: a robfig/cron/v3 instance plus a
// schedule-id -> cron.EntryID map guarded by a mutex.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oriys/mudkernel/internal/callout"
	"github.com/oriys/mudkernel/internal/logging"
)

// Scheduler manages cron-triggered callout enqueues.
type Scheduler struct {
	cron     *cron.Cron
	callouts *callout.Scheduler
	now      func() time.Time
	entries  map[string]cron.EntryID // registration id -> cron entry id
	mu       sync.Mutex
}

// New creates a cron scheduler that enqueues callouts through callouts.
// now is called at each cron fire to stamp the enqueued callout's fire
// time (normally time.Now, or a clock.Clock.Now wrapper under test).
func New(callouts *callout.Scheduler, now func() time.Time) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		callouts: callouts,
		now:      now,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start begins running registered cron entries.
func (s *Scheduler) Start() {
	s.cron.Start()
	logging.Op().Info("cron scheduler started")
}

// Stop halts the cron scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Register adds a cron entry that enqueues a one-shot callout for
// (targetID, method) every time expr fires. registrationID names this
// entry for later Remove calls; re-registering the same id replaces the
// prior entry.
func (s *Scheduler) Register(registrationID, expr, targetID, method string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[registrationID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, registrationID)
	}

	entryID, err := s.cron.AddFunc(expr, func() {
		s.callouts.Schedule(s.now(), targetID, method, 0, args...)
	})
	if err != nil {
		return err
	}

	s.entries[registrationID] = entryID
	return nil
}

// Remove unregisters a cron entry. Removing an unknown id is a no-op.
func (s *Scheduler) Remove(registrationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[registrationID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, registrationID)
	}
}

// Len reports the number of registered cron entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
