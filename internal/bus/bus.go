package bus

import (
	"context"
	"sync"
)

// Bus fans events out to independent subscribers. Publish never blocks on a
// slow subscriber: each subscriber owns an unbounded FIFO queue drained by a
// pump goroutine, so delivery is ordered and lossless per subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription
	nextID int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers the event to every current subscriber in registration
// order. Subscribers created after Publish returns do not observe the event.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
}

// Subscribe registers a new subscriber. The subscription is live until
// Close() is called or the context is cancelled.
func (b *Bus) Subscribe(ctx context.Context) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		bus:    b,
		events: make(chan Event),
		wake:   make(chan struct{}, 1),
		done:   subCtx.Done(),
		cancel: cancel,
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	go s.pump()
	return s
}

// unsubscribe removes a subscription from the registry.
func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscription is one subscriber's view of the bus.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	id     int
	bus    *Bus
	events chan Event
	done   <-chan struct{}
	cancel func()
	once   sync.Once

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
}

// Events returns the channel of events for this subscriber.
// The channel is closed when the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close stops the subscription. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.unsubscribe(s.id)
		s.cancel()
	})
	return nil
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump drains the queue into the events channel, preserving order.
// Runs until the subscription is closed.
func (s *Subscription) pump() {
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}
