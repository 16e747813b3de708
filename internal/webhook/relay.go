package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

const (
	DefaultURL     = "http://localhost:5000/receive_webhook"
	DefaultTimeout = 80 * time.Second

	maxResponseBytes = 4 << 20
)

// Config configures a Relay.
type Config struct {
	URL     string
	Timeout time.Duration // bounds the whole call; default 80s
	Client  *http.Client  // optional; Timeout is ignored when set
	Logger  *slog.Logger
}

// Relay posts envelopes to the backend webhook.
type Relay struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewRelay(cfg Config) *Relay {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = newHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{url: cfg.URL, client: cfg.Client, logger: cfg.Logger}
}

// Forward wraps env, posts it and decodes the backend's answer. Every failure
// is returned as a *TransportError; nothing is retried.
func (r *Relay) Forward(ctx context.Context, env domain.Envelope) (domain.Response, error) {
	start := time.Now()
	defer metrics.WebhookLatency.ObserveSince(start)

	resp, err := r.forward(ctx, env)
	if err != nil {
		metrics.TransportFailures.Inc()
		r.logger.Error("webhook call failed",
			"id", env.ID,
			"from", env.From,
			"duration", time.Since(start),
			"err", err,
		)
		return nil, err
	}

	r.logger.Debug("webhook call done",
		"id", env.ID,
		"status", resp.Status(),
		"duration", time.Since(start),
	)
	return resp, nil
}

func (r *Relay) forward(ctx context.Context, env domain.Envelope) (domain.Response, error) {
	body, err := json.Marshal(Wrap(env))
	if err != nil {
		return nil, &TransportError{Op: "forward", Cause: fmt.Errorf("encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "forward", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "forward", Cause: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: "forward", StatusCode: res.StatusCode, Cause: fmt.Errorf("read body: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &TransportError{Op: "forward", StatusCode: res.StatusCode, Cause: fmt.Errorf("unexpected status: %s", truncate(data, 200))}
	}

	decoded, err := DecodeResponse(data)
	if err != nil {
		return nil, &TransportError{Op: "forward", StatusCode: res.StatusCode, Cause: err}
	}
	return decoded, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
