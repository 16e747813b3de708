package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/domain"
)

const (
	whatsappAPIBase     = "https://graph.facebook.com/v21.0"
	whatsappMaxMsgLen   = 4096
	whatsappMaxBodySize = 1 << 20
)

// WhatsApp implements domain.Messenger for the WhatsApp Business Cloud API.
// Inbound messages arrive on the webhook served by Handler.
type WhatsApp struct {
	base

	accessToken   string
	appSecret     string
	verifyToken   string
	phoneNumberID string
	webhookPath   string
	apiBase       string
	maxDownload   int64
	client        *http.Client

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mux    *http.ServeMux
}

type WhatsAppConfig struct {
	AccessToken   string
	AppSecret     string // optional; enables X-Hub-Signature-256 checks
	VerifyToken   string
	PhoneNumberID string
	WebhookPath   string
	APIBase       string
	MaxDownload   int64
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook/whatsapp"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = whatsappAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &WhatsApp{
		base:          base{name: "whatsapp", logger: cfg.Logger},
		accessToken:   cfg.AccessToken,
		appSecret:     cfg.AppSecret,
		verifyToken:   cfg.VerifyToken,
		phoneNumberID: cfg.PhoneNumberID,
		webhookPath:   cfg.WebhookPath,
		apiBase:       strings.TrimRight(cfg.APIBase, "/"),
		maxDownload:   cfg.MaxDownload,
		client:        cfg.HTTPClient,
	}
	w.mux = http.NewServeMux()
	w.mux.HandleFunc("GET "+w.webhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+w.webhookPath, w.handleIncoming)
	return w
}

// WebhookPath is the path Handler expects to be mounted on.
func (w *WhatsApp) WebhookPath() string { return w.webhookPath }

// Handler returns the webhook handler to be mounted on the main server.
func (w *WhatsApp) Handler() http.Handler { return w.mux }

// Start marks the messenger ready and blocks until ctx is cancelled or Stop
// is called. In-flight media downloads are awaited before it returns.
func (w *WhatsApp) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.ctx = ctx
	w.cancel = cancel
	w.mu.Unlock()

	w.setState(domain.StateReady)
	w.logger.Info("whatsapp channel ready", "webhook", w.webhookPath)

	<-ctx.Done()
	w.setState(domain.StateDisconnected)

	w.mu.Lock()
	w.ctx = nil
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}

func (w *WhatsApp) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Send delivers text through the Cloud API messages endpoint.
func (w *WhatsApp) Send(ctx context.Context, to string, text string) error {
	if w.State() != domain.StateReady {
		return domain.ErrNotReady
	}
	for _, chunk := range splitMessage(text, whatsappMaxMsgLen) {
		if err := w.sendMessage(ctx, to, chunk); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
		}
	}
	return nil
}

// --- Webhook handlers ---

func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && w.verifyToken != "" && token == w.verifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, whatsappMaxBodySize))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.appSecret != "" && !verifyHMAC(body, w.appSecret, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	var msgs []waMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			msgs = append(msgs, change.Value.Messages...)
		}
	}

	w.mu.Lock()
	ctx := w.ctx
	if ctx != nil {
		w.wg.Add(len(msgs))
	}
	w.mu.Unlock()
	if ctx == nil {
		http.Error(rw, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	for _, msg := range msgs {
		go func(m waMessage) {
			defer w.wg.Done()
			w.deliver(ctx, m)
		}(msg)
	}

	// Acknowledge immediately; Meta retries slow webhooks.
	rw.WriteHeader(http.StatusOK)
}

func (w *WhatsApp) deliver(ctx context.Context, msg waMessage) {
	ev := domain.InboundEvent{
		Sender: msg.From,
		Kind:   domain.MessageKind(msg.Type),
		ID:     msg.ID,
	}
	if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
		ev.Timestamp = time.Unix(ts, 0)
	} else {
		ev.Timestamp = time.Now()
	}

	switch {
	case msg.Text != nil:
		ev.Body = msg.Text.Body
	case msg.Document != nil:
		ev.Body = msg.Document.Filename
		ev.ContentType = msg.Document.MimeType
		data, err := w.downloadMedia(ctx, msg.Document.ID)
		if err != nil {
			// Emitted without bytes so the pipeline answers with its fallback.
			w.logger.Warn("whatsapp media download failed", "media_id", msg.Document.ID, "err", err)
		} else {
			ev.Attachment = data
		}
	case msg.Image != nil:
		ev.Body = msg.Image.Caption
	}

	w.logger.Info("whatsapp message received",
		"from", msg.From,
		"type", msg.Type,
		"body_len", len(ev.Body),
	)
	w.emit(ctx, ev)
}

// downloadMedia resolves a media id to its URL, then fetches the bytes.
func (w *WhatsApp) downloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
		FileSize int64  `json:"file_size"`
	}
	if err := w.getJSON(ctx, w.apiBase+"/"+mediaID, &meta); err != nil {
		return nil, fmt.Errorf("media url: %w", err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media url: empty url for %s", mediaID)
	}

	resp, err := w.get(ctx, meta.URL)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if w.maxDownload > 0 {
		r = io.LimitReader(resp.Body, w.maxDownload+1)
	}
	return io.ReadAll(r)
}

func (w *WhatsApp) getJSON(ctx context.Context, url string, out any) error {
	resp, err := w.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// get issues an authorized GET and fails on non-200 responses.
func (w *WhatsApp) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

func (w *WhatsApp) sendMessage(ctx context.Context, to string, text string) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.phoneNumberID)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *waText     `json:"text,omitempty"`
	Document  *waDocument `json:"document,omitempty"`
	Image     *waImage    `json:"image,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waDocument struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type waImage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}
