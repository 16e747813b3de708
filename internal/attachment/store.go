// Package attachment persists documents received from chat users.
package attachment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"chatrelay/internal/metrics"
)

// DefaultMaxSize is used when no max size is configured (10 MiB).
const DefaultMaxSize int64 = 10 * 1024 * 1024

// Config configures the attachment store.
type Config struct {
	Dir     string // destination directory, created on first use
	MaxSize int64  // max attachment size in bytes
	Index   *Index // optional ledger of stored attachments
	Logger  *slog.Logger
	Now     func() time.Time
}

// Store writes attachment bytes to a directory.
type Store struct {
	dir     string
	maxSize int64
	index   *Index
	logger  *slog.Logger
	now     func() time.Time
}

// Attachment describes a stored file.
type Attachment struct {
	Filename    string
	Path        string // absolute
	Size        int64
	ContentType string
	SHA256      string // hex digest of the content
}

// NewStore creates an attachment store. The directory is not touched until
// the first Save.
func NewStore(cfg Config) *Store {
	if cfg.Dir == "" {
		cfg.Dir = "./uploads"
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		dir:     cfg.Dir,
		maxSize: cfg.MaxSize,
		index:   cfg.Index,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// MaxSize returns the configured size limit in bytes.
func (s *Store) MaxSize() int64 { return s.maxSize }

// Save persists raw under a sanitized, extension-qualified name. An empty
// suggestedName gets a time-based name. eventID is only used for the index.
func (s *Store) Save(ctx context.Context, eventID string, raw []byte, suggestedName, contentType string) (*Attachment, error) {
	size := int64(len(raw))
	if size > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrSizeExceeded, size, s.maxSize)
	}

	var filename string
	if suggestedName == "" {
		filename = "document_" + strconv.FormatInt(s.now().UnixMilli(), 10) + ExtensionFor(contentType)
	} else {
		filename = ResolveName(suggestedName, contentType)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory %s: %w", ErrWriteFailure, s.dir, err)
	}

	path, err := filepath.Abs(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path: %w", ErrWriteFailure, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}

	sum := sha256.Sum256(raw)
	att := &Attachment{
		Filename:    filename,
		Path:        path,
		Size:        size,
		ContentType: contentType,
		SHA256:      hex.EncodeToString(sum[:]),
	}

	if s.index != nil && eventID != "" {
		if err := s.index.Record(ctx, eventID, *att); err != nil {
			s.logger.Warn("failed to record attachment in index", "id", eventID, "err", err)
		}
	}

	metrics.AttachmentsStored.Inc()
	metrics.AttachmentBytes.Add(size)
	s.logger.Info("attachment stored",
		"id", eventID,
		"filename", filename,
		"size", size,
		"content_type", contentType,
	)
	return att, nil
}
