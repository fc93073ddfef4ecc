// Command telegram-keyword-notifier watches public Telegram channels and
// forwards keyword matches to a webhook.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"telegram-keyword-notifier/config"
	"telegram-keyword-notifier/delivery"
	"telegram-keyword-notifier/poll"
	"telegram-keyword-notifier/scraper"
	"telegram-keyword-notifier/server"
	"telegram-keyword-notifier/telegram"
	"telegram-keyword-notifier/watcher"
)

func main() {
	// Bootstrap logger until settings say otherwise
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	envPath, loaded, err := config.LoadEnvFile()
	if err != nil {
		logger.Warn("Failed to load env file", "path", envPath, "error", err)
	} else if loaded {
		logger.Info("Loaded env file", "path", envPath)
	}

	cfg, err := config.Load(os.Environ())
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger = newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Startup failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Settings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}

	providers, err := newProviders(cfg, logger)
	if err != nil {
		return err
	}

	if len(cfg.Channels) == 0 {
		logger.Warn("No channels configured, cycles will be empty")
	}

	monitor := poll.New(watcher.New(backend, logger), delivery.New(logger, providers...), cfg, logger)
	monitor.OnCycle(func(report poll.CycleReport, next time.Time) {
		status := fmt.Sprintf("STATUS=%d channels, %d matches, %d failed; next cycle %s",
			len(report.Channels), report.Matches(), report.Failed(), next.Format(time.RFC3339))
		notifySystemd(logger, status)
	})

	if cfg.MetricsAddr != "" {
		srv := server.New(&server.Config{
			Poller: monitor,
			Logger: logger,
			Addr:   cfg.MetricsAddr,
		})
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error("HTTP server failed", "error", err)
			}
		}()
	}

	notifySystemd(logger, daemon.SdNotifyReady)

	if err := monitor.Run(ctx); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}

	notifySystemd(logger, daemon.SdNotifyStopping)
	logger.Info("Stopped by user")
	return nil
}

// newLogger builds the process logger from the configured format and level.
func newLogger(w io.Writer, cfg *config.Settings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == config.LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// newBackend selects the message source.
func newBackend(cfg *config.Settings, logger *slog.Logger) (watcher.Backend, error) {
	switch cfg.Backend {
	case config.BackendWeb:
		logger.Info("Using public web preview backend")
		return scraper.New(&http.Client{Timeout: 30 * time.Second}, scraper.DefaultBaseURL, logger), nil
	case config.BackendMTProto:
		b, err := telegram.New(cfg.APIID, cfg.APIHash, cfg.SessionFile, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram backend: %w", err)
		}
		logger.Info("Using MTProto backend", "session_file", cfg.SessionFile)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// newProviders builds the delivery sinks. Without a webhook URL matches are
// only logged.
func newProviders(cfg *config.Settings, logger *slog.Logger) ([]delivery.Provider, error) {
	var providers []delivery.Provider

	if cfg.WebhookURL != "" {
		providers = append(providers, delivery.NewWebhookProvider(cfg.WebhookURL, logger))
	} else {
		logger.Info("Mock delivery mode enabled (no MAKE_WEBHOOK_URL)")
		providers = append(providers, delivery.NewMockProvider(logger))
	}

	if cfg.BotToken != "" {
		p, err := delivery.NewTelegramProvider(cfg.BotToken, cfg.BotChatID, "", logger)
		if err != nil {
			return nil, fmt.Errorf("telegram bot sink: %w", err)
		}
		providers = append(providers, p)
	}

	return providers, nil
}

func notifySystemd(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Debug("sd_notify failed", "state", state, "error", err)
	}
}
