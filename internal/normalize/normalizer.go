// Package normalize turns inbound chat events into backend envelopes.
package normalize

import (
	"context"
	"fmt"

	"chatrelay/internal/attachment"
	"chatrelay/internal/domain"
)

// AttachmentSaver persists document bytes. *attachment.Store implements it.
type AttachmentSaver interface {
	Save(ctx context.Context, eventID string, raw []byte, suggestedName, contentType string) (*attachment.Attachment, error)
}

// Normalizer builds envelopes, storing document attachments on the way.
type Normalizer struct {
	attachments AttachmentSaver
}

func New(attachments AttachmentSaver) *Normalizer {
	return &Normalizer{attachments: attachments}
}

// Normalize converts ev into an envelope. Attachment errors are returned
// wrapped, so errors.Is still matches attachment.ErrSizeExceeded and
// attachment.ErrWriteFailure.
func (n *Normalizer) Normalize(ctx context.Context, ev domain.InboundEvent) (domain.Envelope, error) {
	if err := ev.Validate(); err != nil {
		return domain.Envelope{}, err
	}

	env := domain.Envelope{
		From: ev.Sender,
		Type: ev.Kind,
		ID:   ev.ID,
	}
	if !ev.Timestamp.IsZero() {
		env.Timestamp = ev.Timestamp.Unix()
	}

	if ev.Kind != domain.KindDocument {
		env.Text = ev.Body
		return env, nil
	}

	att, err := n.attachments.Save(ctx, ev.ID, ev.Attachment, ev.Body, ev.ContentType)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("store attachment: %w", err)
	}

	env.Type = domain.KindDocument
	env.Document = &domain.DocumentRef{
		ID:       ev.ID,
		MimeType: ev.ContentType,
		Filename: att.Filename,
		FilePath: att.Path,
		Size:     att.Size,
	}
	return env, nil
}
