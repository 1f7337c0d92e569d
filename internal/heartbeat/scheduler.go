// Package heartbeat implements the periodic per-object tick registry
// (spec.md §4.2), adapted from the teacher's internal/scheduler cron
// registry: the same entries-map-plus-mutex shape, simplified from cron
// expressions down to fixed intervals since spec.md's heartbeat contract
// only needs "fire every interval, drift absorbed rather than
// accumulated".
package heartbeat

import (
	"sync"
	"time"
)

// entry is a single registered heartbeat.
type entry struct {
	interval  time.Duration
	nextFire  time.Time
}

// Scheduler holds the {object_id -> (interval, next_fire)} map.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order, for deterministic iteration
}

// New creates an empty heartbeat scheduler.
func New() *Scheduler {
	return &Scheduler{entries: make(map[string]*entry)}
}

// Register sets id's heartbeat interval, scheduling its first fire at
// now+interval. Re-registering an id replaces its interval and resets
// next_fire.
func (s *Scheduler) Register(id string, interval time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; !exists {
		s.order = append(s.order, id)
	}
	s.entries[id] = &entry{interval: interval, nextFire: now.Add(interval)}
}

// Unregister removes id's heartbeat entry. Unregistering an unknown id
// is a no-op.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// IsRegistered reports whether id has a heartbeat entry.
func (s *Scheduler) IsRegistered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Interval returns id's registered interval, if any.
func (s *Scheduler) Interval(id string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return e.interval, true
}

// GetDue scans the registry for entries whose next_fire has passed, and
// advances each fired entry's next_fire to now+interval exactly once
// (monotonic cadence relative to the firing instant, so drift under
// overload is absorbed rather than accumulated). Returns the due ids in
// the registry's insertion order; no fairness beyond "every due entry
// fires exactly once per tick" is guaranteed.
func (s *Scheduler) GetDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for _, id := range s.order {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if !now.Before(e.nextFire) {
			due = append(due, id)
			e.nextFire = now.Add(e.interval)
		}
	}
	return due
}

// Len reports the number of registered heartbeats.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
