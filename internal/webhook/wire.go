// Package webhook forwards envelopes to the processing backend and decodes
// its replies.
package webhook

import (
	"fmt"

	"chatrelay/internal/domain"
)

// Payload is the backend's inbound wire shape:
//
//	{"entry":[{"changes":[{"value":{"messages":[<envelope>]}}]}]}
type Payload struct {
	Entry []Entry `json:"entry"`
}

type Entry struct {
	Changes []Change `json:"changes"`
}

type Change struct {
	Value Value `json:"value"`
}

type Value struct {
	Messages []domain.Envelope `json:"messages"`
}

// Wrap nests a single envelope in the wire shape.
func Wrap(env domain.Envelope) Payload {
	return Payload{Entry: []Entry{{
		Changes: []Change{{
			Value: Value{Messages: []domain.Envelope{env}},
		}},
	}}}
}

// Unwrap returns the first envelope of p.
func Unwrap(p Payload) (domain.Envelope, error) {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return domain.Envelope{}, fmt.Errorf("payload has no changes")
	}
	msgs := p.Entry[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return domain.Envelope{}, fmt.Errorf("payload has no messages")
	}
	return msgs[0], nil
}
