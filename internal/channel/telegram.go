package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen  = 4000
	telegramPollSecond = 30
)

// Telegram implements domain.Messenger for a Telegram bot using long polling.
type Telegram struct {
	base

	token        string
	allowFrom    []int64 // allowed user IDs (empty = allow all)
	apiEndpoint  string
	fileEndpoint string
	maxDownload  int64
	client       *http.Client

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	// MaxDownload caps document downloads; one byte more is fetched so the
	// attachment store can reject oversized files.
	MaxDownload  int64
	APIEndpoint  string // default tgbotapi.APIEndpoint
	FileEndpoint string // default tgbotapi.FileEndpoint
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		base:         base{name: "telegram", logger: cfg.Logger},
		token:        cfg.Token,
		allowFrom:    allowed,
		apiEndpoint:  cfg.APIEndpoint,
		fileEndpoint: cfg.FileEndpoint,
		maxDownload:  cfg.MaxDownload,
		client:       cfg.HTTPClient,
	}
}

// Start connects to Telegram and polls for updates until ctx is cancelled
// or Stop is called. A failed connection is returned immediately.
func (t *Telegram) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.setState(domain.StateConnecting)
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.apiEndpoint, t.client)
	if err != nil {
		t.setState(domain.StateDisconnected)
		return fmt.Errorf("telegram bot init: %w", err)
	}

	t.mu.Lock()
	t.bot = bot
	t.cancel = cancel
	t.mu.Unlock()

	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	t.setState(domain.StateReady)
	defer t.setState(domain.StateDisconnected)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollSecond
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop ends polling started by Start.
func (t *Telegram) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Send delivers text to a chat ID, split into Telegram-sized chunks.
func (t *Telegram) Send(ctx context.Context, to string, text string) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil || t.State() != domain.StateReady {
		return domain.ErrNotReady
	}

	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid chat ID %q", domain.ErrDelivery, to)
	}

	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
		}
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
		}
	}
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		return
	}

	ev := domain.InboundEvent{
		Sender:    strconv.FormatInt(msg.Chat.ID, 10),
		Kind:      domain.KindText,
		Body:      strings.TrimSpace(msg.Text),
		ID:        fmt.Sprintf("%d_%d", msg.Chat.ID, msg.MessageID),
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	if doc := msg.Document; doc != nil {
		ev.Kind = domain.KindDocument
		ev.Body = doc.FileName
		ev.ContentType = doc.MimeType
		data, err := t.download(ctx, doc.FileID)
		if err != nil {
			// Emitted without bytes so the pipeline answers with its fallback.
			t.logger.Warn("telegram document download failed", "file_id", doc.FileID, "err", err)
		} else {
			ev.Attachment = data
		}
	} else if ev.Body == "" {
		return
	}

	t.logger.Info("telegram message received",
		"chat_id", msg.Chat.ID,
		"kind", ev.Kind,
		"body_len", len(ev.Body),
	)
	t.emit(ctx, ev)
}

func (t *Telegram) download(ctx context.Context, fileID string) ([]byte, error) {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()

	file, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	url := fmt.Sprintf(t.fileEndpoint, t.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if t.maxDownload > 0 {
		r = io.LimitReader(resp.Body, t.maxDownload+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	return data, nil
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}
