package domain

import (
	"errors"
	"fmt"
	"time"
)

// MessageKind is the kind of an inbound chat message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindDocument MessageKind = "document"
)

// InboundEvent is a single message delivered by a messenger.
type InboundEvent struct {
	Sender      string
	Kind        MessageKind
	Body        string
	Attachment  []byte // raw bytes, set only for KindDocument
	ContentType string
	ID          string
	Timestamp   time.Time
	Channel     string // messenger name, informational
}

var ErrInvalidEvent = errors.New("invalid inbound event")

// Validate checks that an attachment is present iff the event is a document.
func (e InboundEvent) Validate() error {
	if e.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidEvent)
	}
	switch {
	case e.Kind == KindDocument && e.Attachment == nil:
		return fmt.Errorf("%w: document without attachment", ErrInvalidEvent)
	case e.Kind != KindDocument && e.Attachment != nil:
		return fmt.Errorf("%w: attachment on %s message", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// Reply is a single outbound text addressed to a recipient.
type Reply struct {
	To   string
	Text string
}
