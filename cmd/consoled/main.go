package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/crm-console/internal/api"
	"github.com/rickgao/crm-console/internal/auth"
	"github.com/rickgao/crm-console/internal/config"
	"github.com/rickgao/crm-console/internal/connection"
	"github.com/rickgao/crm-console/internal/database"
	"github.com/rickgao/crm-console/internal/events"
	"github.com/rickgao/crm-console/internal/journal"
	"github.com/rickgao/crm-console/internal/poller"
	"github.com/rickgao/crm-console/internal/session"
	"github.com/rickgao/crm-console/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/consoled.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting consoled",
		"version", version.String(),
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("consoled failed", "error", err)
		os.Exit(1)
	}

	logger.Info("consoled stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func managerConfig(cfg *config.ConsoleConfig) connection.ManagerConfig {
	c := cfg.Connection

	policy := connection.ReconnectPolicy{
		MaxAttempts: c.Reconnect.MaxAttempts,
		BaseDelay:   c.Reconnect.BaseDelay,
		MaxDelay:    c.Reconnect.MaxDelay,
	}
	if c.Reconnect.Jitter != nil {
		policy.Jitter = *c.Reconnect.Jitter
	}
	if c.Reconnect.Disabled {
		policy.MaxAttempts = 0
	}

	return connection.ManagerConfig{
		WSURL:            cfg.API.WSURL,
		PollingURL:       c.Polling.URL,
		DisablePolling:   c.Polling.Disabled,
		HandshakeTimeout: c.HandshakeTimeout,
		PingInterval:     c.PingInterval,
		PingTimeout:      c.PingTimeout,
		WriteTimeout:     c.WriteTimeout,
		PollInterval:     c.Polling.Interval,
		BufferSize:       c.BufferSize,
		Reconnect:        policy,
	}
}

func run(ctx context.Context, cfg *config.ConsoleConfig, logger *slog.Logger) error {
	store := auth.NewFileStore(cfg.Auth.StorePath, logger.With("component", "auth"))

	client := api.NewClient(cfg.API.RestURL, store,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	dispatcher := events.NewDispatcher(logger.With("component", "events"))
	manager := connection.NewManager(managerConfig(cfg), dispatcher, logger.With("component", "connection"))
	dispatcher.SetEmitter(manager)

	manager.OnStatus(func(c connection.StatusChange) {
		attrs := []any{"from", c.From, "to", c.To}
		if c.Status.Transport != "" {
			attrs = append(attrs, "transport", c.Status.Transport)
		}
		if c.Status.ReconnectAttempts > 0 {
			attrs = append(attrs, "attempt", c.Status.ReconnectAttempts)
		}
		if c.Status.Err != nil {
			attrs = append(attrs, "error", c.Status.Err)
		}
		logger.Info("connection status", attrs...)
	})

	names := cfg.Events.Subscribe
	if len(names) == 0 {
		names = events.InboundNames()
	}
	tailEvents(dispatcher, names, cfg.Events.LogPayloads, logger.With("component", "tail"))

	// Optional event journal
	var writer *journal.Writer
	if cfg.Journal.Enabled {
		appName := "crm-console/" + cfg.Instance.ID
		pool, err := database.Connect(ctx, cfg.Journal.Database, appName, logger.With("component", "database"))
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = journal.NewWriter(journal.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger.With("component", "journal"))
		writer.Attach(dispatcher, names)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
	}

	// Optional REST catch-up while the live connection is down. Changes are
	// logged and journaled, never dispatched.
	var catchup *poller.Poller
	if cfg.Poller.Enabled {
		catchup = poller.New(poller.Config{
			Interval:          cfg.Poller.Interval,
			Timeout:           cfg.Poller.Timeout,
			NotificationLimit: cfg.Poller.NotificationLimit,
		}, client, catchupHandler(writer, logger.With("component", "catchup")),
			logger.With("component", "poller"), poller.WithLiveCheck(manager.Connected))
	}

	sess := session.New(store, client, manager, logger.With("component", "session"))
	startSession(ctx, sess, cfg.Auth, logger)

	if catchup != nil {
		if err := catchup.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Auth.Watch {
		g.Go(func() error {
			return sess.Watch(gctx)
		})
	}

	if cfg.Health.Port > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           newHealthHandler(manager, dispatcher, sess, writer),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("consoled running",
		"events", len(names),
		"journal", writer != nil,
		"poller", catchup != nil,
	)

	<-gctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if catchup != nil {
		catchup.Stop(shutdownCtx)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("connection shutdown incomplete", "error", err)
	}
	if writer != nil {
		writer.Stop(shutdownCtx)
	}

	return g.Wait()
}

// startSession resumes the stored credential or, failing that, logs in with
// configured credentials. Without either the daemon idles until the store
// changes.
func startSession(ctx context.Context, sess *session.Session, cfg config.AuthConfig, logger *slog.Logger) {
	err := sess.Resume(ctx)
	switch {
	case err == nil:
		if user, err := sess.Verify(ctx); err != nil {
			logger.Warn("stored credential not verified", "error", err)
		} else {
			logger.Info("session resumed", "user", user.Email)
		}
		return

	case !errors.Is(err, auth.ErrNoCredential):
		logger.Error("failed to load credential", "error", err)
		return
	}

	if cfg.Email == "" {
		logger.Warn("no credential stored; waiting for login", "store", cfg.StorePath)
		return
	}

	user, err := sess.Login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		logger.Error("login failed", "email", cfg.Email, "error", err)
		return
	}
	logger.Info("logged in", "user", user.Email)
}

// tailEvents logs every received event.
func tailEvents(d *events.Dispatcher, names []string, payloads bool, logger *slog.Logger) {
	for _, name := range names {
		if !events.IsInbound(name) {
			logger.Warn("subscribing to unknown event", "event", name)
		}
		d.Subscribe(name, func(payload json.RawMessage) {
			if payloads {
				logger.Info("event", "event", name, "payload", string(payload))
				return
			}
			logger.Info("event", "event", name, "size", len(payload))
		})
	}

	// Surface the pairing QR prominently; it has to be scanned on a phone.
	events.On(d, events.WhatsAppPairing, func(qr events.WhatsAppQR) {
		logger.Warn("whatsapp pairing required", "expires_at", qr.ExpiresAt)
	})
	events.On(d, events.FollowupTrigger, func(f events.FollowupDue) {
		logger.Info("follow-up due", "lead_id", f.LeadID, "task_id", f.TaskID, "due_at", f.DueAt)
	})
}

// catchupHandler logs changes found by the poller and archives them when the
// journal is enabled. j may be nil.
func catchupHandler(j *journal.Writer, logger *slog.Logger) poller.Handler {
	return poller.HandlerFunc(func(c poller.Change) {
		var payload any
		switch c.Kind {
		case poller.ChangeWhatsAppStatus:
			payload = c.Status
			logger.Warn("whatsapp status changed while offline", "status", c.Status.Status)
		case poller.ChangeNotification:
			payload = c.Notification
			logger.Info("missed notification", "id", c.Notification.ID, "title", c.Notification.Title)
		}

		if j == nil {
			return
		}
		data, err := json.Marshal(payload)
		if err != nil {
			logger.Error("failed to encode catch-up change", "kind", c.Kind, "error", err)
			return
		}
		j.RecordAt("poller:"+string(c.Kind), data, c.ObservedAt)
	})
}
