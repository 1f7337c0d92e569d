// Package callout implements the one-shot / repeating delayed-method
// scheduler (spec.md §4.3): a priority queue ordered by fire time, with
// an id index supporting cancellation.
//
// The min-heap is container/heap over fire time, with insertion sequence
// as the tie-break (spec.md: "entries with equal fire times fire in
// insertion order"). Cancellation is lazy: Cancel marks the entry and
// erases it from the id index immediately, but the heap slot is only
// reclaimed the next time GetDue walks past it — matching the contract
// "the heap is lazily cleaned on the next get_due pass".
package callout

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a single scheduled callout.
type Entry struct {
	ID             string
	TargetID       string
	Method         string
	FireTime       time.Time
	Args           []any
	RepeatInterval time.Duration // zero means non-repeating

	seq       uint64
	cancelled bool
	index     int // heap index, maintained by container/heap
}

// Repeating reports whether the entry reschedules itself after firing.
func (e *Entry) Repeating() bool { return e.RepeatInterval > 0 }

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].FireTime.Equal(h[j].FireTime) {
		return h[i].seq < h[j].seq
	}
	return h[i].FireTime.Before(h[j].FireTime)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is the callout min-heap plus id index.
type Scheduler struct {
	mu      sync.Mutex
	heap    entryHeap
	byID    map[string]*Entry
	nextID  uint64
	nextSeq uint64
}

// New creates an empty callout scheduler.
func New() *Scheduler {
	return &Scheduler{byID: make(map[string]*Entry)}
}

func (s *Scheduler) newID() string {
	n := atomic.AddUint64(&s.nextID, 1)
	return "co-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Schedule registers a one-shot callout firing at now+delay.
func (s *Scheduler) Schedule(now time.Time, target, method string, delay time.Duration, args ...any) string {
	return s.schedule(now, target, method, delay, 0, args)
}

// ScheduleEvery registers a repeating callout, first firing at
// now+interval and refiring every interval thereafter.
func (s *Scheduler) ScheduleEvery(now time.Time, target, method string, interval time.Duration, args ...any) string {
	return s.schedule(now, target, method, interval, interval, args)
}

func (s *Scheduler) schedule(now time.Time, target, method string, delay, repeat time.Duration, args []any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	s.nextSeq++
	e := &Entry{
		ID:             id,
		TargetID:       target,
		Method:         method,
		FireTime:       now.Add(delay),
		Args:           args,
		RepeatInterval: repeat,
		seq:            s.nextSeq,
	}
	heap.Push(&s.heap, e)
	s.byID[id] = e
	return id
}

// Cancel marks id cancelled and removes it from the id index.
// Cancelling an already-cancelled or unknown id returns false; cancel is
// idempotent. A callout whose id has already been dequeued by a firing
// GetDue pass is, by definition, absent from the index, so a late cancel
// for it is also a no-op that returns false.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	e.cancelled = true
	delete(s.byID, id)
	return true
}

// CancelAllForTarget cancels every entry whose target matches (exact
// match; callers normalize ids case-insensitively before calling, per
// spec.md's id comparison rule). Returns the number cancelled.
func (s *Scheduler) CancelAllForTarget(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, e := range s.byID {
		if e.TargetID == target {
			e.cancelled = true
			delete(s.byID, id)
			count++
		}
	}
	return count
}

// PendingCount returns the number of live (non-cancelled, indexed)
// entries.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// GetDue pops every entry whose fire time has passed, stopping at the
// first non-due heap top. Cancelled entries are dropped silently.
// Repeating entries are rescheduled under a fresh id before being
// included in the returned slice (callers see only the fired
// occurrence, keyed by its original id, but the next occurrence is
// already live in the scheduler under a new one).
func (s *Scheduler) GetDue(now time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Entry
	for s.heap.Len() > 0 {
		top := s.heap[0]
		if top.FireTime.After(now) {
			break
		}
		popped := heap.Pop(&s.heap).(*Entry)
		if popped.cancelled {
			continue
		}
		delete(s.byID, popped.ID)
		due = append(due, popped)

		if popped.Repeating() {
			s.nextSeq++
			next := &Entry{
				ID:             s.newID(),
				TargetID:       popped.TargetID,
				Method:         popped.Method,
				FireTime:       now.Add(popped.RepeatInterval),
				Args:           popped.Args,
				RepeatInterval: popped.RepeatInterval,
				seq:            s.nextSeq,
			}
			heap.Push(&s.heap, next)
			s.byID[next.ID] = next
		}
	}
	return due
}
