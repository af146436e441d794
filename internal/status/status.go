// Package status provides the engine phase type and a broadcast hub that
// fans phase transitions out to UI subscribers. Delivery is ordered per
// subscriber; a subscriber that falls far behind loses the oldest updates
// rather than blocking the engine.
package status

import (
	"context"
	"log"
	"sync"
)

// Phase is the lifecycle phase of an engine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseEvaluating Phase = "evaluating"
	PhaseRunning    Phase = "running"
	PhasePaused     Phase = "paused"
	PhaseBlocked    Phase = "blocked"
)

// Status is one broadcast phase transition. Detail carries the running
// description or the paused/blocked reason, empty otherwise.
type Status struct {
	Phase  Phase  `json:"phase"`
	Detail string `json:"detail,omitempty"`
}

// Idle returns the idle status.
func Idle() Status { return Status{Phase: PhaseIdle} }

// Evaluating returns the evaluating status.
func Evaluating() Status { return Status{Phase: PhaseEvaluating} }

// Running returns a running status with a human-readable description.
func Running(description string) Status {
	return Status{Phase: PhaseRunning, Detail: description}
}

// Paused returns a paused status with a human-readable reason.
func Paused(reason string) Status {
	return Status{Phase: PhasePaused, Detail: reason}
}

// Blocked returns a blocked status with a human-readable reason.
func Blocked(reason string) Status {
	return Status{Phase: PhaseBlocked, Detail: reason}
}

// subscriberBuffer is the per-subscriber channel depth. When a subscriber is
// this far behind, the hub drops its oldest pending update to make room.
const subscriberBuffer = 16

// Hub broadcasts status updates to registered subscribers.
// Thread-safe; Publish never blocks.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*Subscription)}
}

// Publish sends the status to every current subscriber.
func (h *Hub) Publish(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- s:
		default:
			// Subscriber is full: drop its oldest update, then retry.
			select {
			case <-sub.ch:
				sub.dropped++
			default:
			}
			select {
			case sub.ch <- s:
			default:
			}
			log.Printf("[WARN] status subscriber %d lagging, %d updates dropped", sub.id, sub.dropped)
		}
	}
}

// Subscribe registers a new status subscriber.
// Caller must call Close() when done. Context cancellation also closes it.
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := &Subscription{
		id:  h.nextID,
		hub: h,
		ch:  make(chan Status, subscriberBuffer),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { sub.Close() })
	sub.stopAfter = stop
	return sub
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscription is one subscriber's stream of status updates.
type Subscription struct {
	id        int
	hub       *Hub
	ch        chan Status
	dropped   int
	once      sync.Once
	stopAfter func() bool
}

// Statuses returns the channel of status updates.
// The channel is closed when the subscription is closed.
func (s *Subscription) Statuses() <-chan Status {
	return s.ch
}

// Close unregisters the subscriber. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.stopAfter != nil {
			s.stopAfter()
		}
		s.hub.unsubscribe(s.id)
	})
	return nil
}
