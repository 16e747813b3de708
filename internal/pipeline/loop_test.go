package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatrelay/internal/bus"
	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

type countingHandler struct {
	mu      sync.Mutex
	seen    map[string]bool
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (h *countingHandler) HandleInbound(_ context.Context, ev domain.InboundEvent) {
	n := h.active.Add(1)
	for {
		m := h.maxSeen.Load()
		if n <= m || h.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(h.delay)
	h.active.Add(-1)

	h.mu.Lock()
	h.seen[ev.ID] = true
	h.mu.Unlock()
}

func TestLoop_ProcessesAllEventsWithBoundedConcurrency(t *testing.T) {
	b := bus.New(32, quietLogger())
	h := &countingHandler{seen: make(map[string]bool), delay: 10 * time.Millisecond}
	loop := NewLoop(LoopConfig{Bus: b, Handler: h, Concurrency: 2, Logger: quietLogger()})

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		b.Publish(domain.InboundEvent{Sender: "u", ID: id})
	}
	b.Close()

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after bus closed")
	}

	if len(h.seen) != len(ids) {
		t.Fatalf("expected %d events handled, got %d", len(ids), len(h.seen))
	}
	if got := h.maxSeen.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent handlers, saw %d", got)
	}
}

func TestLoop_StopsOnContextCancel(t *testing.T) {
	b := bus.New(1, quietLogger())
	h := &countingHandler{seen: make(map[string]bool)}
	loop := NewLoop(LoopConfig{Bus: b, Handler: h, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

type blockingHandler struct {
	started chan struct{}
	release chan struct{}
	handled atomic.Int32
}

func (h *blockingHandler) HandleInbound(context.Context, domain.InboundEvent) {
	select {
	case h.started <- struct{}{}:
	default:
	}
	<-h.release
	h.handled.Add(1)
}

func TestLoop_DrainsQueueOnCancel(t *testing.T) {
	const published = 20
	b := bus.New(32, quietLogger())
	h := &blockingHandler{started: make(chan struct{}, 1), release: make(chan struct{})}
	loop := NewLoop(LoopConfig{Bus: b, Handler: h, Concurrency: 1, Logger: quietLogger()})

	for i := 0; i < published; i++ {
		b.Publish(domain.InboundEvent{Sender: "u", ID: string(rune('a' + i))})
	}
	droppedBefore := metrics.DroppedEvents.Value()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	<-h.started
	// One event is in the handler and the loop holds a second one waiting
	// for the semaphore.
	deadline := time.Now().Add(time.Second)
	for len(b.Subscribe()) != published-2 {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not pick up the second event, queued=%d", len(b.Subscribe()))
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	close(h.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}

	if n := len(b.Subscribe()); n != 0 {
		t.Fatalf("expected queue drained, %d events left", n)
	}
	if got := h.handled.Load(); got != 1 {
		t.Fatalf("expected 1 event handled, got %d", got)
	}
	if got := metrics.DroppedEvents.Value() - droppedBefore; got != published-1 {
		t.Fatalf("expected %d dropped events, got %d", published-1, got)
	}
}
