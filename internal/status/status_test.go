package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(context.Background())
	defer sub.Close()

	h.Publish(Evaluating())
	h.Publish(Running("Quick EDA"))
	h.Publish(Idle())

	want := []Phase{PhaseEvaluating, PhaseRunning, PhaseIdle}
	for i, phase := range want {
		select {
		case s := <-sub.Statuses():
			assert.Equal(t, phase, s.Phase, "update %d", i)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}
}

func TestDetailCarriesReason(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(context.Background())
	defer sub.Close()

	h.Publish(Paused("Circuit open until 12:00"))

	s := <-sub.Statuses()
	assert.Equal(t, PhasePaused, s.Phase)
	assert.Contains(t, s.Detail, "Circuit open")
}

func TestMultipleSubscribers(t *testing.T) {
	h := NewHub()
	sub1 := h.Subscribe(context.Background())
	defer sub1.Close()
	sub2 := h.Subscribe(context.Background())
	defer sub2.Close()

	h.Publish(Blocked("budget exhausted"))

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case s := <-sub.Statuses():
			assert.Equal(t, PhaseBlocked, s.Phase)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the update")
		}
	}
}

func TestLaggingSubscriberDropsOldestNotNewest(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(context.Background())
	defer sub.Close()

	// Overflow the buffer without reading.
	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish(Running(string(rune('a' + i))))
	}
	h.Publish(Idle())

	// Drain: the final idle must still be present.
	var last Status
	for {
		select {
		case s := <-sub.Statuses():
			last = s
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, PhaseIdle, last.Phase)
}

func TestCloseUnregisters(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(context.Background())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	_, ok := <-sub.Statuses()
	assert.False(t, ok, "channel should be closed")

	// Publishing after close must not panic.
	h.Publish(Idle())
}

func TestContextCancelCloses(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	sub := h.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-sub.Statuses():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel never closed after context cancel")
	}
}
