package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/attachment"
	"chatrelay/internal/domain"
	"chatrelay/internal/webhook"
)

type fakeMessenger struct {
	mu    sync.Mutex
	state domain.ConnState
	err   error
	sent  [][2]string
}

func (f *fakeMessenger) Name() string                    { return "fake" }
func (f *fakeMessenger) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeMessenger) Stop() error                     { return nil }
func (f *fakeMessenger) OnInbound(domain.InboundHandler) {}
func (f *fakeMessenger) State() domain.ConnState         { return f.state }
func (f *fakeMessenger) Send(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, [2]string{to, text})
	return nil
}

type fakeStats struct {
	result *webhook.StatsResult
	asked  string
}

func (f *fakeStats) UserStats(_ context.Context, userID string) *webhook.StatsResult {
	f.asked = userID
	return f.result
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSendMessage(t *testing.T) {
	m := &fakeMessenger{state: domain.StateReady}
	srv := New(Config{Messenger: m, Logger: quietLogger()})

	rec := do(t, srv.Handler(), http.MethodPost, "/send-message", `{"to":"5511999","message":"oi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","message":"Message sent successfully"}`, rec.Body.String())
	require.Len(t, m.sent, 1)
	assert.Equal(t, [2]string{"5511999", "oi"}, m.sent[0])
}

func TestSendMessageMissingParams(t *testing.T) {
	m := &fakeMessenger{state: domain.StateReady}
	srv := New(Config{Messenger: m, Logger: quietLogger()})

	for _, body := range []string{`{"to":"5511999"}`, `{"message":"oi"}`, `{}`, `not json`} {
		rec := do(t, srv.Handler(), http.MethodPost, "/send-message", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"Missing required parameters: to and message"}`, rec.Body.String())
	}
	assert.Empty(t, m.sent)
}

func TestSendMessageFailure(t *testing.T) {
	m := &fakeMessenger{err: domain.ErrNotReady}
	srv := New(Config{Messenger: m, Logger: quietLogger()})

	rec := do(t, srv.Handler(), http.MethodPost, "/send-message", `{"to":"1","message":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Failed to send message", body["error"])
	assert.Equal(t, domain.ErrNotReady.Error(), body["details"])
}

func TestSendMessageRateLimited(t *testing.T) {
	m := &fakeMessenger{state: domain.StateReady}
	srv := New(Config{Messenger: m, SendRatePerMinute: 1, SendBurst: 2, Logger: quietLogger()})

	for i := 0; i < 2; i++ {
		rec := do(t, srv.Handler(), http.MethodPost, "/send-message", `{"to":"1","message":"x"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, srv.Handler(), http.MethodPost, "/send-message", `{"to":"1","message":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Len(t, m.sent, 2)

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/health", "").Code)
}

func TestUserStatsPassThrough(t *testing.T) {
	raw := `{"status":"success","stats":{"daily_used":3}}`
	stats := &fakeStats{result: &webhook.StatsResult{Status: "success", Raw: json.RawMessage(raw)}}
	srv := New(Config{Stats: stats, Logger: quietLogger()})

	rec := do(t, srv.Handler(), http.MethodGet, "/user-stats/5511999", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, raw, rec.Body.String())
	assert.Equal(t, "5511999", stats.asked)
}

func TestUserStatsNotFound(t *testing.T) {
	tests := []struct {
		name    string
		result  *webhook.StatsResult
		details string
	}{
		{"backend error", &webhook.StatsResult{Status: "error", Message: "User not found"}, "User not found"},
		{"no message", &webhook.StatsResult{Status: "error"}, "Unknown error"},
		{"unreachable", nil, "Unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(Config{Stats: &fakeStats{result: tt.result}, Logger: quietLogger()})
			rec := do(t, srv.Handler(), http.MethodGet, "/user-stats/42", "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, "User not found or error getting stats", body["error"])
			assert.Equal(t, tt.details, body["details"])
		})
	}
}

func TestStatusAndHealth(t *testing.T) {
	m := &fakeMessenger{state: domain.StateConnecting}
	srv := New(Config{Messenger: m, Logger: quietLogger()})

	body := decode(t, do(t, srv.Handler(), http.MethodGet, "/status", ""))
	assert.Equal(t, "not_ready", body["status"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, body["timestamp"])

	m.state = domain.StateReady
	body = decode(t, do(t, srv.Handler(), http.MethodGet, "/status", ""))
	assert.Equal(t, "ready", body["status"])

	body = decode(t, do(t, srv.Handler(), http.MethodGet, "/health", ""))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRequestIDHeader(t *testing.T) {
	srv := New(Config{Logger: quietLogger()})
	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)
}

func TestAttachmentRoutes(t *testing.T) {
	dir := t.TempDir()
	idx, err := attachment.OpenIndex(filepath.Join(dir, "index.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	store := attachment.NewStore(attachment.Config{Dir: filepath.Join(dir, "uploads"), Index: idx, Logger: quietLogger()})
	att, err := store.Save(context.Background(), "msg-1", []byte("%PDF-1.4"), "briefing.pdf", "application/pdf")
	require.NoError(t, err)

	srv := New(Config{Index: idx, Logger: quietLogger()})

	rec := do(t, srv.Handler(), http.MethodGet, "/attachments/msg-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "briefing.pdf", body["filename"])
	assert.Equal(t, att.Path, body["path"])

	rec = do(t, srv.Handler(), http.MethodGet, "/attachments/msg-1/file", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "briefing.pdf")

	rec = do(t, srv.Handler(), http.MethodGet, "/attachments?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Attachments []attachment.Entry `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Attachments, 1)
	assert.Equal(t, "msg-1", list.Attachments[0].EventID)

	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/attachments/missing", "").Code)
}

func TestAttachmentRoutesWithoutIndex(t *testing.T) {
	srv := New(Config{Logger: quietLogger()})
	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/attachments", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/attachments/x", "").Code)
}

func TestMetricsMountsAndStatic(t *testing.T) {
	public := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(public, "index.html"), []byte("<h1>relay</h1>"), 0o644))

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "chatrelay_up 1\n")
	})
	hookHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, r.Method)
	})

	srv := New(Config{
		PublicDir:       public,
		MetricsEndpoint: "/metrics",
		MetricsHandler:  metricsHandler,
		Mounts:          []Mount{{Path: "/webhook/whatsapp", Handler: hookHandler}},
		Logger:          quietLogger(),
	})

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, "chatrelay_up 1\n", rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPost, "/webhook/whatsapp", `{}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodGet, "/index.html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay")
}

func TestShutdown(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0", Logger: quietLogger()})
	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	require.Eventually(t, func() bool { return srv.echo.ListenerAddr() != nil }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, srv.Shutdown(context.Background()))
	assert.True(t, errors.Is(<-done, http.ErrServerClosed))
}
