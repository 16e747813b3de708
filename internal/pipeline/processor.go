// Package pipeline runs inbound events through normalize, forward,
// interpret and reply.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/interpret"
	"chatrelay/internal/metrics"
)

// Normalizer converts inbound events into envelopes.
type Normalizer interface {
	Normalize(ctx context.Context, ev domain.InboundEvent) (domain.Envelope, error)
}

// Forwarder hands envelopes to the backend.
type Forwarder interface {
	Forward(ctx context.Context, env domain.Envelope) (domain.Response, error)
}

// ProcessorConfig holds the dependencies of a Processor.
type ProcessorConfig struct {
	Normalizer Normalizer
	Forwarder  Forwarder
	Sender     domain.ReplySender
	Logger     *slog.Logger
}

// Processor handles a single inbound event end to end.
type Processor struct {
	normalizer Normalizer
	forwarder  Forwarder
	sender     domain.ReplySender
	logger     *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		normalizer: cfg.Normalizer,
		forwarder:  cfg.Forwarder,
		sender:     cfg.Sender,
		logger:     cfg.Logger,
	}
}

// HandleInbound normalizes ev, forwards it and dispatches the interpreted
// replies in order. A normalize or forward failure produces one fallback
// reply to the sender and nothing else. Replies are still sent after ctx is
// cancelled. It never panics or returns an error.
func (p *Processor) HandleInbound(ctx context.Context, ev domain.InboundEvent) {
	start := time.Now()
	sendCtx := context.WithoutCancel(ctx)
	metrics.InboundEvents.Inc()

	p.logger.Info("processing message",
		"channel", ev.Channel,
		"sender", ev.Sender,
		"kind", ev.Kind,
		"id", ev.ID,
		"body_len", len(ev.Body),
	)

	env, err := p.normalizer.Normalize(ctx, ev)
	if err != nil {
		p.logger.Error("normalize failed", "sender", ev.Sender, "id", ev.ID, "err", err)
		p.fallback(sendCtx, ev.Sender)
		return
	}

	resp, err := p.forwarder.Forward(ctx, env)
	if err != nil {
		p.logger.Error("forward failed", "sender", ev.Sender, "id", ev.ID, "err", err)
		p.fallback(sendCtx, ev.Sender)
		return
	}

	replies := interpret.Interpret(resp)
	if len(replies) == 0 {
		metrics.UnhandledStatuses.Inc()
		p.logger.Warn("backend response produced no replies", "status", resp.Status(), "user", resp.Recipient(), "id", ev.ID)
	}

	for _, r := range replies {
		p.dispatch(sendCtx, r)
	}

	p.logger.Debug("message processed",
		"id", ev.ID,
		"status", resp.Status(),
		"replies", len(replies),
		"duration", time.Since(start),
	)
}

func (p *Processor) fallback(ctx context.Context, to string) {
	if to == "" {
		return
	}
	metrics.FallbackReplies.Inc()
	p.dispatch(ctx, interpret.Fallback(to))
}

// dispatch sends one reply. Failures are logged and counted, never retried.
func (p *Processor) dispatch(ctx context.Context, r domain.Reply) {
	if err := p.sender.Send(ctx, r.To, r.Text); err != nil {
		metrics.DispatchFailures.Inc()
		p.logger.Error("reply dispatch failed", "to", r.To, "err", err)
		return
	}
	metrics.RepliesSent.Inc()
}
