// Package channel adapts chat clients to domain.Messenger.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

// base carries the connection state and inbound handler shared by messengers.
type base struct {
	name    string
	logger  *slog.Logger
	state   atomic.Int32
	mu      sync.RWMutex
	handler domain.InboundHandler
}

func (b *base) Name() string { return b.name }

func (b *base) State() domain.ConnState { return domain.ConnState(b.state.Load()) }

func (b *base) OnInbound(handler domain.InboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

func (b *base) emit(ctx context.Context, ev domain.InboundEvent) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()

	if h == nil {
		b.logger.Warn("inbound event dropped: no handler", "channel", b.name, "id", ev.ID)
		return
	}
	ev.Channel = b.name
	h(ctx, ev)
}

func (b *base) setState(s domain.ConnState) {
	old := domain.ConnState(b.state.Swap(int32(s)))
	if old == s {
		return
	}
	if s == domain.StateReady {
		metrics.MessengerReady.Set(1)
	} else if old == domain.StateReady {
		metrics.MessengerReady.Set(0)
	}
	b.logger.Info("messenger state changed", "channel", b.name, "from", old, "to", s)
}

// WaitReady polls m until it reports StateReady or ctx is done.
func WaitReady(ctx context.Context, m domain.Messenger, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for m.State() != domain.StateReady {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		if idx := strings.LastIndex(msg[:cut], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// verifyHMAC checks a "sha256=<hex>" signature over body.
func verifyHMAC(body []byte, secret, signature string) bool {
	sig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(computed))
}
