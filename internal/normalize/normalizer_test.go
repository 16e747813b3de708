package normalize

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/attachment"
	"chatrelay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, maxSize int64) *attachment.Store {
	t.Helper()
	return attachment.NewStore(attachment.Config{
		Dir:     t.TempDir(),
		MaxSize: maxSize,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
}

func TestNormalize_Text(t *testing.T) {
	n := New(newStore(t, 1024))
	ts := time.Unix(1718000000, 0)

	env, err := n.Normalize(context.Background(), domain.InboundEvent{
		Sender:    "5511999999999@c.us",
		Kind:      domain.KindText,
		Body:      "/stats",
		ID:        "msg-1",
		Timestamp: ts,
	})
	require.NoError(t, err)

	assert.Equal(t, "5511999999999@c.us", env.From)
	assert.Equal(t, domain.KindText, env.Type)
	assert.Equal(t, "/stats", env.Text)
	assert.Equal(t, "msg-1", env.ID)
	assert.Equal(t, int64(1718000000), env.Timestamp)
	assert.Nil(t, env.Document)
}

func TestNormalize_DocumentWithoutName(t *testing.T) {
	n := New(newStore(t, 1024))
	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

	env, err := n.Normalize(context.Background(), domain.InboundEvent{
		Sender:      "user-1",
		Kind:        domain.KindDocument,
		Attachment:  payload,
		ContentType: "image/png",
		ID:          "msg-2",
		Timestamp:   time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.KindDocument, env.Type)
	require.NotNil(t, env.Document)
	assert.True(t, strings.HasSuffix(env.Document.Filename, ".png"), env.Document.Filename)
	assert.Equal(t, int64(len(payload)), env.Document.Size)
	assert.Equal(t, "msg-2", env.Document.ID)
	assert.Equal(t, "image/png", env.Document.MimeType)
	assert.Empty(t, env.Text)

	stored, err := os.ReadFile(env.Document.FilePath)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestNormalize_DocumentUsesBodyAsName(t *testing.T) {
	n := New(newStore(t, 1024))

	env, err := n.Normalize(context.Background(), domain.InboundEvent{
		Sender:      "user-1",
		Kind:        domain.KindDocument,
		Body:        "briefing campanha",
		Attachment:  []byte("%PDF-1.4"),
		ContentType: "application/pdf",
		ID:          "msg-3",
	})
	require.NoError(t, err)
	require.NotNil(t, env.Document)
	assert.Equal(t, "briefing_campanha.pdf", env.Document.Filename)
}

func TestNormalize_DocumentTooLarge(t *testing.T) {
	n := New(newStore(t, 4))

	_, err := n.Normalize(context.Background(), domain.InboundEvent{
		Sender:      "user-1",
		Kind:        domain.KindDocument,
		Attachment:  []byte("12345"),
		ContentType: "text/plain",
		ID:          "msg-4",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, attachment.ErrSizeExceeded))
}

type failingSaver struct{ err error }

func (f failingSaver) Save(context.Context, string, []byte, string, string) (*attachment.Attachment, error) {
	return nil, f.err
}

func TestNormalize_PropagatesWriteFailure(t *testing.T) {
	n := New(failingSaver{err: attachment.ErrWriteFailure})

	_, err := n.Normalize(context.Background(), domain.InboundEvent{
		Sender:     "user-1",
		Kind:       domain.KindDocument,
		Attachment: []byte("x"),
	})
	assert.ErrorIs(t, err, attachment.ErrWriteFailure)
}

func TestNormalize_OtherKindKeepsBody(t *testing.T) {
	n := New(failingSaver{err: errors.New("must not be called")})

	env, err := n.Normalize(context.Background(), domain.InboundEvent{
		Sender: "user-1",
		Kind:   domain.MessageKind("chat"),
		Body:   "oi",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageKind("chat"), env.Type)
	assert.Equal(t, "oi", env.Text)
}

func TestNormalize_RejectsInvalidEvent(t *testing.T) {
	n := New(failingSaver{err: errors.New("must not be called")})

	_, err := n.Normalize(context.Background(), domain.InboundEvent{Sender: "user-1", Kind: domain.KindDocument})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}
