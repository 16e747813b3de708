package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/domain"

	"github.com/google/uuid"
)

const consoleDefaultSender = "console"

// Console implements domain.Messenger on a terminal. Each line is a text
// message; "/doc <path> [content-type]" sends a file as a document.
type Console struct {
	base

	sender string
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	done   chan struct{}
	once   sync.Once
}

type ConsoleConfig struct {
	Sender string // sender id used for every event (default "console")
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Sender == "" {
		cfg.Sender = consoleDefaultSender
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		base:   base{name: "console", logger: cfg.Logger},
		sender: cfg.Sender,
		in:     cfg.In,
		out:    cfg.Out,
		done:   make(chan struct{}),
	}
}

// Start reads lines until EOF, /quit, Stop or ctx cancellation.
func (c *Console) Start(ctx context.Context) error {
	c.setState(domain.StateReady)
	defer c.setState(domain.StateDisconnected)
	defer c.Stop()

	c.printf("chatrelay console. Type a message and press Enter. /doc <path> [content-type] sends a file, /quit exits.\nYou> ")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.done:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				c.printf("You> ")
				continue
			case line == "/quit" || line == "/exit" || line == "/q":
				c.logger.Info("user requested quit")
				return nil
			}

			ev, err := c.parseLine(line)
			if err != nil {
				c.printf("%v\nYou> ", err)
				continue
			}
			c.emit(ctx, ev)
		}
	}
}

func (c *Console) parseLine(line string) (domain.InboundEvent, error) {
	ev := domain.InboundEvent{
		Sender:    c.sender,
		Kind:      domain.KindText,
		Body:      line,
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
	}

	args, ok := strings.CutPrefix(line, "/doc ")
	if !ok {
		return ev, nil
	}

	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ev, fmt.Errorf("usage: /doc <path> [content-type]")
	}
	data, err := os.ReadFile(fields[0])
	if err != nil {
		return ev, fmt.Errorf("cannot read %s: %w", fields[0], err)
	}

	contentType := ""
	if len(fields) > 1 {
		contentType = fields[1]
	} else if t := mime.TypeByExtension(filepath.Ext(fields[0])); t != "" {
		contentType, _, _ = mime.ParseMediaType(t)
	}

	ev.Kind = domain.KindDocument
	ev.Body = filepath.Base(fields[0])
	ev.Attachment = data
	ev.ContentType = contentType
	return ev, nil
}

func (c *Console) Stop() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Send prints a reply block. Replies to other recipients are printed too,
// prefixed with their address.
func (c *Console) Send(_ context.Context, to string, text string) error {
	if c.State() != domain.StateReady {
		return domain.ErrNotReady
	}
	header := "--- chatrelay ---"
	if to != c.sender {
		header = "--- chatrelay -> " + to + " ---"
	}
	if err := c.printf("\r\033[K%s\n%s\n------------------\nYou> ", header, text); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	return nil
}

func (c *Console) printf(format string, args ...any) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}
