package domain

import (
	"context"
	"errors"
)

// ConnState is the connection state of a messenger.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

var (
	// ErrNotReady is returned by Send when the messenger is not connected.
	ErrNotReady = errors.New("messenger is not ready")
	// ErrDelivery wraps failures reported by the messaging backend on send.
	ErrDelivery = errors.New("message delivery failed")
)

// InboundHandler receives events emitted by a messenger.
type InboundHandler func(ctx context.Context, ev InboundEvent)

// Messenger is the capability the relay needs from a chat client: a stream of
// inbound events and the ability to send text back.
type Messenger interface {
	Name() string
	// Start connects and blocks until ctx is cancelled or the connection fails.
	Start(ctx context.Context) error
	Stop() error
	OnInbound(handler InboundHandler)
	Send(ctx context.Context, to string, text string) error
	State() ConnState
}

// ReplySender is the subset of Messenger used to dispatch replies.
type ReplySender interface {
	Send(ctx context.Context, to string, text string) error
}
