package attachment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestStore(t *testing.T, maxSize int64) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	return NewStore(Config{Dir: dir, MaxSize: maxSize, Logger: testLogger()}), dir
}

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore(Config{Logger: testLogger()})
	assert.Equal(t, DefaultMaxSize, s.MaxSize())
	assert.Equal(t, "./uploads", s.dir)
}

func TestStore_Save_CreatesDirectory(t *testing.T) {
	s, dir := newTestStore(t, 1024)

	att, err := s.Save(context.Background(), "evt-1", []byte("hello"), "greeting", "text/plain")
	require.NoError(t, err)

	assert.Equal(t, "greeting.txt", att.Filename)
	assert.Equal(t, int64(5), att.Size)
	assert.True(t, filepath.IsAbs(att.Path))
	assert.Equal(t, filepath.Join(dir, "greeting.txt"), att.Path)

	data, err := os.ReadFile(att.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStore_Save_SizeBoundary(t *testing.T) {
	s, dir := newTestStore(t, 10)

	_, err := s.Save(context.Background(), "exact", bytes.Repeat([]byte("a"), 10), "exact.bin", "")
	require.NoError(t, err, "exactly max size should be accepted")

	_, err = s.Save(context.Background(), "over", bytes.Repeat([]byte("a"), 11), "over.bin", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSizeExceeded))

	_, statErr := os.Stat(filepath.Join(dir, "over.bin"))
	assert.True(t, os.IsNotExist(statErr), "oversized attachment must not be written")
}

func TestStore_Save_OversizedDoesNotCreateDirectory(t *testing.T) {
	s, dir := newTestStore(t, 1)

	_, err := s.Save(context.Background(), "", []byte("ab"), "x", "")
	require.ErrorIs(t, err, ErrSizeExceeded)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_Save_SynthesizedName(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	dir := t.TempDir()
	s := NewStore(Config{Dir: dir, Logger: testLogger(), Now: func() time.Time { return fixed }})

	att, err := s.Save(context.Background(), "evt", []byte{0x89, 0x50, 0x4E, 0x47}, "", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "document_1700000000123.png", att.Filename)
	assert.Equal(t, int64(4), att.Size)
}

func TestStore_Save_SanitizesSuggestedName(t *testing.T) {
	s, _ := newTestStore(t, 1024)

	att, err := s.Save(context.Background(), "evt", []byte("x"), "../secret plan", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, ".._secret_plan.pdf", att.Filename)
}

func TestStore_Save_WriteFailure(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// The destination "directory" is a regular file, so MkdirAll fails.
	s := NewStore(Config{Dir: filepath.Join(blocker, "uploads"), Logger: testLogger()})
	_, err := s.Save(context.Background(), "evt", []byte("data"), "a.txt", "text/plain")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailure)
}

func TestStore_Save_ConcurrentFirstUse(t *testing.T) {
	s, dir := newTestStore(t, 1024)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := "file-" + string(rune('a'+n)) + ".txt"
			if _, err := s.Save(context.Background(), "", []byte("x"), name, "text/plain"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent save failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 16)
}

func TestStore_Save_RecordsInIndex(t *testing.T) {
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"), testLogger())
	require.NoError(t, err)
	defer idx.Close()

	s := NewStore(Config{Dir: t.TempDir(), Index: idx, Logger: testLogger()})
	att, err := s.Save(context.Background(), "evt-42", []byte("pdf bytes"), "brief.pdf", "application/pdf")
	require.NoError(t, err)

	entry, err := idx.Get(context.Background(), "evt-42")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, att.Filename, entry.Filename)
	assert.Equal(t, att.Path, entry.Path)
	assert.Equal(t, att.Size, entry.Size)
	assert.Equal(t, "application/pdf", entry.ContentType)
	assert.Equal(t, att.SHA256, entry.SHA256)
}

func TestStore_Save_Digest(t *testing.T) {
	s := NewStore(Config{Dir: t.TempDir(), Logger: testLogger()})
	att, err := s.Save(context.Background(), "", []byte("abc"), "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", att.SHA256)
}
