package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBotAPI serves the subset of the Bot API the Telegram messenger uses.
type fakeBotAPI struct {
	mu      sync.Mutex
	polled  bool
	sent    []string // "chat_id:text"
	authErr bool
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(r.URL.Path, "/file/") {
		fmt.Fprint(w, "%PDF-1.4 fake")
		return
	}
	_ = r.ParseForm()

	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		if f.authErr {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		f.mu.Lock()
		first := !f.polled
		f.polled = true
		f.mu.Unlock()
		if !first {
			time.Sleep(20 * time.Millisecond)
			fmt.Fprint(w, `{"ok":true,"result":[]}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":[
			{"update_id":1,"message":{"message_id":5,"from":{"id":42,"is_bot":false,"first_name":"Ana"},
				"chat":{"id":42,"type":"private"},"date":1718000000,"text":"/stats"}},
			{"update_id":2,"message":{"message_id":6,"from":{"id":42,"is_bot":false,"first_name":"Ana"},
				"chat":{"id":42,"type":"private"},"date":1718000001,
				"document":{"file_id":"F1","file_unique_id":"U1","file_name":"briefing.pdf","mime_type":"application/pdf","file_size":13}}},
			{"update_id":3,"message":{"message_id":7,"from":{"id":99,"is_bot":false,"first_name":"Eve"},
				"chat":{"id":99,"type":"private"},"date":1718000002,"text":"hi"}}
		]}`)
	case strings.HasSuffix(r.URL.Path, "/getFile"):
		fmt.Fprint(w, `{"ok":true,"result":{"file_id":"F1","file_unique_id":"U1","file_path":"documents/file_1.pdf"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		f.sent = append(f.sent, r.Form.Get("chat_id")+":"+r.Form.Get("text"))
		f.mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":9,"chat":{"id":42,"type":"private"},"date":0,"text":"ok"}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (f *fakeBotAPI) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestTelegram(srv *httptest.Server) *Telegram {
	return NewTelegram(TelegramConfig{
		Token:        "TOKEN",
		AllowFrom:    []string{"42"},
		MaxDownload:  1024,
		APIEndpoint:  srv.URL + "/bot%s/%s",
		FileEndpoint: srv.URL + "/file/bot%s/%s",
		HTTPClient:   srv.Client(),
		Logger:       testLogger(),
	})
}

func TestTelegram_ReceiveAndSend(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	tg := newTestTelegram(srv)
	events := make(chan domain.InboundEvent, 4)
	tg.OnInbound(func(_ context.Context, ev domain.InboundEvent) { events <- ev })

	if err := tg.Send(context.Background(), "42", "early"); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before start, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Start(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := WaitReady(waitCtx, tg, 5*time.Millisecond); err != nil {
		t.Fatalf("telegram never became ready: %v", err)
	}

	text := receive(t, events)
	if text.Kind != domain.KindText || text.Body != "/stats" || text.Sender != "42" {
		t.Fatalf("unexpected text event: %+v", text)
	}
	if text.ID != "42_5" || text.Channel != "telegram" || text.Timestamp.Unix() != 1718000000 {
		t.Fatalf("unexpected text metadata: %+v", text)
	}

	doc := receive(t, events)
	if doc.Kind != domain.KindDocument || doc.Body != "briefing.pdf" || doc.ContentType != "application/pdf" {
		t.Fatalf("unexpected document event: %+v", doc)
	}
	if string(doc.Attachment) != "%PDF-1.4 fake" {
		t.Fatalf("unexpected attachment bytes %q", doc.Attachment)
	}

	select {
	case ev := <-events:
		t.Fatalf("user outside allow list should be ignored, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	if err := tg.Send(context.Background(), "42", "Eae, beleza?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := api.Sent(); len(got) != 1 || got[0] != "42:Eae, beleza?" {
		t.Fatalf("unexpected sent messages: %v", got)
	}

	if err := tg.Send(context.Background(), "not-a-chat", "x"); !errors.Is(err, domain.ErrDelivery) {
		t.Fatalf("expected ErrDelivery for bad chat id, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("telegram did not stop")
	}
	if tg.State() != domain.StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", tg.State())
	}
}

func TestTelegram_StartFailsOnBadToken(t *testing.T) {
	srv := httptest.NewServer(&fakeBotAPI{authErr: true})
	defer srv.Close()

	tg := newTestTelegram(srv)
	if err := tg.Start(context.Background()); err == nil {
		t.Fatal("expected error for rejected token")
	}
	if tg.State() != domain.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", tg.State())
	}
}

func TestTelegram_AllowAllWhenListEmpty(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x", AllowFrom: []string{" 7 ", "bogus"}})
	if !tg.isAllowed(7) || tg.isAllowed(8) {
		t.Fatal("expected only user 7 allowed")
	}
	open := NewTelegram(TelegramConfig{Token: "x"})
	if !open.isAllowed(8) {
		t.Fatal("empty allow list should allow everyone")
	}
}

func receive(t *testing.T, events <-chan domain.InboundEvent) domain.InboundEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound event")
		return domain.InboundEvent{}
	}
}
