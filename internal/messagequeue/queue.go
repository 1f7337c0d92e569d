// Package messagequeue implements the driver's message queue: a FIFO of
// tagged messages produced by world code during a tick and drained by
// the delivery phase of the same tick (spec.md §3, §6.3).
//
// This is narrower than the teacher's internal/mq package, which models
// a durable at-least-once broker (Publish/Consume/Ack/Nack/DeadLetter)
// for async function invocations. World messages have no redelivery or
// durability requirement — a message not delivered this tick because no
// session was listening is simply dropped — so the broker contract is
// reduced to Enqueue/Drain, but the package still separates "produce"
// from "consume" exactly as the teacher's mq.MessageQueue does, and
// remains safe for background workers to enqueue into concurrently with
// the tick driver draining it (spec.md §5).
package messagequeue

import (
	"fmt"
	"sync"
)

// Kind is the tag distinguishing how a Message should be rendered and
// routed (spec.md §3, §6.3).
type Kind int

const (
	TELL Kind = iota
	SAY
	EMOTE
)

func (k Kind) String() string {
	switch k {
	case TELL:
		return "tell"
	case SAY:
		return "say"
	case EMOTE:
		return "emote"
	default:
		return "unknown"
	}
}

// Message is a single queued delivery. For SAY/EMOTE, RoomID is
// required; for TELL, ToID is required (spec.md §3).
type Message struct {
	FromID string
	ToID   string // required for TELL
	Kind   Kind
	Body   string
	RoomID string // required for SAY/EMOTE
}

// Validate enforces the per-kind required-field rule from spec.md §3.
func (m Message) Validate() error {
	switch m.Kind {
	case TELL:
		if m.ToID == "" {
			return fmt.Errorf("messagequeue: TELL requires ToID")
		}
	case SAY, EMOTE:
		if m.RoomID == "" {
			return fmt.Errorf("messagequeue: %s requires RoomID", m.Kind)
		}
	default:
		return fmt.Errorf("messagequeue: unknown kind %d", m.Kind)
	}
	return nil
}

// Queue is the FIFO of pending messages.
type Queue struct {
	mu       sync.Mutex
	messages []Message
}

// New creates an empty message queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends msg to the tail of the queue. Invalid messages
// (missing a required field for their kind) are rejected.
func (q *Queue) Enqueue(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

// Drain removes and returns every queued message, in FIFO order. It is
// called exactly once per tick, at the start of the delivery phase.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil
	}
	out := q.messages
	q.messages = nil
	return out
}

// Len reports the number of queued, undelivered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Render formats msg for display, given the already-resolved display
// name of its sender (spec.md §6.3).
func Render(msg Message, fromName string) string {
	switch msg.Kind {
	case TELL:
		return fmt.Sprintf("%s tells you: %s", fromName, msg.Body)
	case SAY:
		return fmt.Sprintf("%s says: %s", fromName, msg.Body)
	case EMOTE:
		return fmt.Sprintf("%s %s", fromName, msg.Body)
	default:
		return msg.Body
	}
}
