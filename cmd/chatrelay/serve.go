package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"chatrelay/internal/attachment"
	"chatrelay/internal/bus"
	"chatrelay/internal/channel"
	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/normalize"
	"chatrelay/internal/pipeline"
	"chatrelay/internal/server"
	"chatrelay/internal/webhook"

	"github.com/spf13/cobra"
)

const (
	readyPollInterval = 250 * time.Millisecond
	shutdownTimeout   = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay (messenger + pipeline + HTTP server)",
		Long:  "Connects the configured messenger, relays inbound messages to the backend webhook and serves the HTTP API once the messenger is ready. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Relay messages typed on the terminal to the backend",
		Long:  "Runs the relay pipeline with the console messenger. Use /doc <path> to send a file and /quit to exit.",
		RunE:  runChat,
	}
}

// relay holds the wired pipeline shared by serve and chat.
type relay struct {
	cfg       *config.Config
	logger    *slog.Logger
	index     *attachment.Index
	messenger domain.Messenger
	mounts    []server.Mount
	bus       *bus.InMemoryBus
	loop      *pipeline.Loop
	stats     *webhook.StatsClient
}

func buildRelay(cfg *config.Config, log *slog.Logger) (*relay, error) {
	r := &relay{cfg: cfg, logger: log}

	if cfg.Attachments.IndexEnabled {
		idx, err := attachment.OpenIndex(cfg.Attachments.IndexPath, log)
		if err != nil {
			return nil, fmt.Errorf("attachment index: %w", err)
		}
		r.index = idx
	}
	store := attachment.NewStore(attachment.Config{
		Dir:     cfg.Attachments.UploadsDir,
		MaxSize: cfg.Attachments.MaxFileSize,
		Index:   r.index,
		Logger:  log,
	})

	messenger, mounts, err := buildMessenger(cfg, store.MaxSize(), log)
	if err != nil {
		r.close()
		return nil, err
	}
	r.messenger = messenger
	r.mounts = mounts

	forwarder := webhook.NewRelay(webhook.Config{
		URL:     cfg.Backend.WebhookURL,
		Timeout: time.Duration(cfg.Backend.WebhookTimeoutSeconds) * time.Second,
		Logger:  log,
	})
	r.stats = webhook.NewStatsClient(webhook.StatsConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: time.Duration(cfg.Backend.StatsTimeoutSeconds) * time.Second,
		Logger:  log,
	})

	processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Normalizer: normalize.New(store),
		Forwarder:  forwarder,
		Sender:     messenger,
		Logger:     log,
	})

	r.bus = bus.New(cfg.General.BusBufferSize, log)
	r.loop = pipeline.NewLoop(pipeline.LoopConfig{
		Bus:         r.bus,
		Handler:     processor,
		Concurrency: cfg.General.MaxConcurrentMessages,
		Logger:      log,
	})
	messenger.OnInbound(func(_ context.Context, ev domain.InboundEvent) {
		r.bus.Publish(ev)
	})
	return r, nil
}

func buildMessenger(cfg *config.Config, maxDownload int64, log *slog.Logger) (domain.Messenger, []server.Mount, error) {
	switch cfg.Messenger.Driver {
	case config.DriverTelegram:
		return channel.NewTelegram(channel.TelegramConfig{
			Token:       cfg.Messenger.Telegram.Token,
			AllowFrom:   cfg.Messenger.Telegram.AllowFrom,
			MaxDownload: maxDownload,
			Logger:      log,
		}), nil, nil
	case config.DriverWhatsApp:
		wa := channel.NewWhatsApp(channel.WhatsAppConfig{
			AccessToken:   cfg.Messenger.WhatsApp.AccessToken,
			AppSecret:     cfg.Messenger.WhatsApp.AppSecret,
			VerifyToken:   cfg.Messenger.WhatsApp.VerifyToken,
			PhoneNumberID: cfg.Messenger.WhatsApp.PhoneNumberID,
			WebhookPath:   cfg.Messenger.WhatsApp.WebhookPath,
			APIBase:       cfg.Messenger.WhatsApp.APIBase,
			MaxDownload:   maxDownload,
			Logger:        log,
		})
		return wa, []server.Mount{{Path: wa.WebhookPath(), Handler: wa.Handler()}}, nil
	case config.DriverConsole, "":
		return channel.NewConsole(channel.ConsoleConfig{Logger: log}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown messenger driver %q", cfg.Messenger.Driver)
	}
}

func (r *relay) close() {
	if r.bus != nil {
		r.bus.Close()
	}
	if r.index != nil {
		r.index.Close()
	}
}

// startMessenger runs the messenger in the background and blocks until it is
// ready. A messenger that exits before becoming ready is fatal.
func (r *relay) startMessenger(ctx context.Context) (<-chan error, error) {
	exited := make(chan error, 1)
	go func() {
		err := r.messenger.Start(ctx)
		if err == nil {
			err = errors.New("messenger stopped")
		}
		exited <- err
	}()

	ready := make(chan error, 1)
	go func() { ready <- channel.WaitReady(ctx, r.messenger, readyPollInterval) }()

	select {
	case err := <-exited:
		return nil, fmt.Errorf("messenger %s: %w", r.messenger.Name(), err)
	case err := <-ready:
		if err != nil {
			return nil, err
		}
	}
	r.logger.Info("messenger ready", "driver", r.messenger.Name())
	return exited, nil
}

func loadRuntime() (*config.Config, *slog.Logger, func() error, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, closeLog, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := loadRuntime()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := buildRelay(cfg, log)
	if err != nil {
		return err
	}
	defer r.close()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		r.loop.Run(ctx)
	}()

	log.Info("starting messenger", "driver", r.messenger.Name(), "webhook", cfg.Backend.WebhookURL)
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Default.Handler()
	}
	srv := server.New(server.Config{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Messenger:         r.messenger,
		Stats:             r.stats,
		Index:             indexOrNil(r.index),
		PublicDir:         cfg.Server.PublicDir,
		SendRatePerMinute: cfg.Server.SendRatePerMinute,
		SendBurst:         cfg.Server.SendBurst,
		MetricsEndpoint:   cfg.Metrics.Endpoint,
		MetricsHandler:    metricsHandler,
		Mounts:            r.mounts,
		Logger:            log,
	})

	// The WhatsApp webhook is served by the HTTP server, so it must be
	// listening before that messenger can receive anything. Other drivers
	// hold the server back until they are connected.
	srvErr := make(chan error, 1)
	startServer := func() {
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
	}
	if len(r.mounts) > 0 {
		startServer()
	}
	exited, err := r.startMessenger(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if len(r.mounts) == 0 {
		startServer()
	}
	log.Info("relay started. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-exited:
		runErr = fmt.Errorf("messenger %s: %w", r.messenger.Name(), err)
	}
	log.Info("shutting down relay...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", "err", err)
	}
	r.messenger.Stop()
	r.bus.Close()

	select {
	case <-loopDone:
		log.Info("shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown timed out")
		}
	}
	return runErr
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := loadRuntime()
	if err != nil {
		return err
	}
	defer closeLog()
	cfg.Messenger.Driver = config.DriverConsole

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := buildRelay(cfg, log)
	if err != nil {
		return err
	}
	defer r.close()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		r.loop.Run(ctx)
	}()

	err = r.messenger.Start(ctx)
	stop()
	<-loopDone
	return err
}

// indexOrNil keeps a nil *Index from becoming a non-nil interface.
func indexOrNil(idx *attachment.Index) server.AttachmentIndex {
	if idx == nil {
		return nil
	}
	return idx
}
