// Package server exposes the relay's HTTP control surface.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chatrelay/internal/attachment"
	"chatrelay/internal/domain"
	"chatrelay/internal/webhook"
)

// StatsSource looks up usage stats for a user.
type StatsSource interface {
	UserStats(ctx context.Context, userID string) *webhook.StatsResult
}

// AttachmentIndex reads the attachment ledger.
type AttachmentIndex interface {
	Get(ctx context.Context, eventID string) (*attachment.Entry, error)
	Recent(ctx context.Context, limit int) ([]attachment.Entry, error)
}

// Mount attaches a plain http.Handler (e.g. a messenger webhook) at Path.
type Mount struct {
	Path    string
	Handler http.Handler
}

type Config struct {
	Addr      string
	Messenger domain.Messenger
	Stats     StatsSource
	Index     AttachmentIndex // optional
	PublicDir string          // served at / when the directory exists

	SendRatePerMinute int
	SendBurst         int

	MetricsEndpoint string
	MetricsHandler  http.Handler // optional

	Mounts []Mount
	Logger *slog.Logger
}

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("component", "server"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
				slog.String("request_id", v.RequestID),
			)
			return nil
		},
	}))

	h := &handler{
		messenger: cfg.Messenger,
		stats:     cfg.Stats,
		index:     cfg.Index,
		logger:    logger,
	}
	var sendMW []echo.MiddlewareFunc
	if cfg.SendRatePerMinute > 0 {
		sendMW = append(sendMW, newClientLimiter(cfg.SendRatePerMinute, cfg.SendBurst).middleware)
	}
	h.register(e, sendMW...)

	if cfg.MetricsHandler != nil {
		endpoint := cfg.MetricsEndpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		e.GET(endpoint, echo.WrapHandler(cfg.MetricsHandler))
	}
	for _, m := range cfg.Mounts {
		if m.Path == "" || m.Handler == nil {
			continue
		}
		e.Any(m.Path, echo.WrapHandler(m.Handler))
	}
	if cfg.PublicDir != "" {
		if info, err := os.Stat(cfg.PublicDir); err == nil && info.IsDir() {
			e.Static("/", cfg.PublicDir)
		}
	}

	return &Server{echo: e, addr: cfg.Addr, logger: logger}
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving HTTP. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.addr)
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
