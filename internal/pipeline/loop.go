package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

const defaultConcurrency = 4

// Handler processes one inbound event.
type Handler interface {
	HandleInbound(ctx context.Context, ev domain.InboundEvent)
}

type LoopConfig struct {
	Bus         domain.EventBus
	Handler     Handler
	Concurrency int // max events processed at once (default 4)
	Logger      *slog.Logger
}

// Loop drains the event bus into a Handler with bounded concurrency.
type Loop struct {
	bus         domain.EventBus
	handler     Handler
	concurrency int
	logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:         cfg.Bus,
		handler:     cfg.Handler,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run consumes inbound events until ctx is done or the bus is closed, then
// waits for in-flight events to finish. Events still queued when ctx is done
// are discarded and counted.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("pipeline loop started", "concurrency", l.concurrency)

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("pipeline loop stopping")
			l.dropQueued(inbound, 0)
			return
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, pipeline loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				l.dropQueued(inbound, 1)
				return
			}
			wg.Add(1)
			metrics.InFlight.Inc()
			go func(ev domain.InboundEvent) {
				defer func() {
					metrics.InFlight.Dec()
					<-sem
					wg.Done()
				}()
				l.handler.HandleInbound(ctx, ev)
			}(ev)
		}
	}
}

// dropQueued empties whatever is buffered in inbound without blocking.
// already is the number of events taken off the channel but not handled.
func (l *Loop) dropQueued(inbound <-chan domain.InboundEvent, already int) {
	dropped := already
	for {
		select {
		case _, ok := <-inbound:
			if !ok {
				l.reportDropped(dropped)
				return
			}
			dropped++
		default:
			l.reportDropped(dropped)
			return
		}
	}
}

func (l *Loop) reportDropped(n int) {
	if n == 0 {
		return
	}
	metrics.DroppedEvents.Add(int64(n))
	l.logger.Warn("dropped queued events on shutdown", "count", n)
}
