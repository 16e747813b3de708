package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultStatsTimeout = 10 * time.Second

// StatsResult is the backend's answer to a user-stats query. Raw is the body
// as received so HTTP adapters can pass it through untouched.
type StatsResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// OK reports whether the backend found the user.
func (s *StatsResult) OK() bool { return s != nil && s.Status == "success" }

type StatsConfig struct {
	BaseURL string
	Timeout time.Duration // default 10s
	Client  *http.Client
	Logger  *slog.Logger
}

// StatsClient queries GET <base>/user_stats/<id>.
type StatsClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewStatsClient(cfg StatsConfig) *StatsClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultStatsTimeout
	}
	if cfg.Client == nil {
		cfg.Client = newHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StatsClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

// UserStats returns the backend's stats for userID, or nil when the call
// failed for any reason. Failures are logged, never returned.
func (c *StatsClient) UserStats(ctx context.Context, userID string) *StatsResult {
	res, err := c.fetch(ctx, userID)
	if err != nil {
		c.logger.Warn("user stats query failed", "user", userID, "err", err)
		return nil
	}
	return res
}

func (c *StatsClient) fetch(ctx context.Context, userID string) (*StatsResult, error) {
	if c.baseURL == "" {
		return nil, &TransportError{Op: "stats", Cause: fmt.Errorf("backend base url not configured")}
	}

	endpoint := c.baseURL + "/user_stats/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "stats", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "stats", Cause: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: "stats", StatusCode: res.StatusCode, Cause: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &TransportError{Op: "stats", StatusCode: res.StatusCode, Cause: fmt.Errorf("unexpected status: %s", truncate(data, 200))}
	}

	var out StatsResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &TransportError{Op: "stats", StatusCode: res.StatusCode, Cause: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	out.Raw = json.RawMessage(data)
	return &out, nil
}
