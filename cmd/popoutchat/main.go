package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"popoutchat/internal/bus"
	"popoutchat/internal/channel"
	"popoutchat/internal/config"
	"popoutchat/internal/domain"
	"popoutchat/internal/transcript"
	"popoutchat/internal/widget"
)

var (
	version    = widget.Version
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logLevel   string // overridable via --log-level flag
)

func main() {
	logger = newLogger("info")

	root := &cobra.Command{
		Use:   "popoutchat",
		Short: "popoutchat: embeddable chat widget backed by a webhook",
		Long: `popoutchat serves the Toratech popout chat widget and relays visitor
conversations to a webhook (n8n or compatible).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is normal outside development.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to load .env file", "err", err)
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.popoutchat/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default: logLevel from config)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(mockWebhookCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config and switches the logger to its level unless
// --log-level was given.
func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config: %w", err)
	}
	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	logger = newLogger(level)
	slog.SetDefault(logger)
	return cfg, cfgPath, nil
}

// openStore opens the transcript store when storage is enabled. The
// returned interface is nil when it is not.
func openStore(cfg *config.Config) (domain.TranscriptStore, *transcript.SQLiteStore, error) {
	if !cfg.Storage.Enabled {
		logger.Info("transcript storage disabled")
		return nil, nil, nil
	}
	s, err := transcript.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("transcript store: %w", err)
	}
	return s, s, nil
}

func serveCmd() *cobra.Command {
	var withMock bool
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the widget gateway",
		Long: `Serves widget.js, the conversation API and the transcript websocket.
With --mock-webhook a local stand-in webhook runs alongside and is used when
no webhook URL is configured. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cfg, withMock)
		},
	}
	cmd.Flags().BoolVar(&withMock, "mock-webhook", false, "run the stand-in webhook next to the gateway")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "gateway port (overrides server.port)")
	return cmd
}

func runServe(cfg *config.Config, withMock bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if withMock {
		// The conversation client does not sign requests, so the stand-in
		// runs without a secret here.
		mock := channel.NewMockWebhook(channel.MockWebhookConfig{
			Port:    cfg.MockWebhook.Port,
			Path:    cfg.MockWebhook.Path,
			Welcome: cfg.MockWebhook.Welcome,
			Logger:  logger,
		})
		if cfg.Webhook.URL == "" {
			cfg.Webhook.URL = mock.URL()
			logger.Info("using stand-in webhook", "url", mock.URL())
		}
		g.Go(func() error { return mock.Start(gctx) })
	}

	store, sqlite, err := openStore(cfg)
	if err != nil {
		return err
	}
	if sqlite != nil {
		defer sqlite.Close()
		if days := cfg.Storage.RetentionDays; days > 0 {
			g.Go(func() error { return runRetention(gctx, sqlite, time.Duration(days)*24*time.Hour) })
		}
	}

	if !cfg.Webhook.Configured() && !cfg.Advanced.DemoMode {
		logger.Warn("no webhook configured; visitors will see the unavailable notice")
	}

	events := bus.NewEventBus(logger)
	events.On(bus.EventConversationStarted, func(e bus.Event) {
		logger.Debug("conversation started", "session", e.SessionID)
	})

	web := channel.NewWeb(channel.WebConfig{
		Config:  cfg,
		Store:   store,
		Events:  events,
		Logger:  logger,
		Version: version,
	})

	g.Go(func() error { return web.Start(gctx) })
	g.Go(func() error { return web.Mounts().RunJanitor(gctx, time.Minute) })

	logger.Info("popoutchat started. Press Ctrl+C to stop.", "version", version)
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// runRetention purges old conversations once at start and then daily.
func runRetention(ctx context.Context, store *transcript.SQLiteStore, retention time.Duration) error {
	purge := func() {
		if _, err := store.PurgeOlderThan(ctx, retention); err != nil && ctx.Err() == nil {
			logger.Warn("transcript purge failed", "err", err)
		}
	}

	purge()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purge()
		}
	}
}

func chatCmd() *cobra.Command {
	var route string
	var demo bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the configured webhook from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if demo {
				cfg.Advanced.DemoMode = true
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, sqlite, err := openStore(cfg)
			if err != nil {
				return err
			}
			if sqlite != nil {
				defer sqlite.Close()
			}

			mounts := channel.NewMounts(channel.MountOptions{
				Base:   cfg,
				Store:  store,
				Logger: logger,
			})
			cli := channel.NewCLI(channel.CLIConfig{
				Mounts: mounts,
				Route:  route,
				Logger: logger,
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&route, "route", "", "route for new conversations (default: webhook.route or general)")
	cmd.Flags().BoolVar(&demo, "demo", false, "answer with canned demo replies when no webhook is configured")
	return cmd
}

func mockWebhookCmd() *cobra.Command {
	var port int
	var secret, welcome string

	cmd := &cobra.Command{
		Use:   "mock-webhook",
		Short: "Run the stand-in webhook for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			mc := cfg.MockWebhook
			if port != 0 {
				mc.Port = port
			}
			if secret != "" {
				mc.Secret = secret
			}
			if welcome != "" {
				mc.Welcome = welcome
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mock := channel.NewMockWebhook(channel.MockWebhookConfig{
				Port:    mc.Port,
				Path:    mc.Path,
				Secret:  mc.Secret,
				Welcome: mc.Welcome,
				Logger:  logger,
			})
			return mock.Start(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides mockWebhook.port)")
	cmd.Flags().StringVar(&secret, "secret", "", "require X-Signature-256 HMAC with this secret")
	cmd.Flags().StringVar(&welcome, "welcome", "", "reply to loadPreviousSession")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. style.primaryColor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. webhook.route sales)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			for _, pv := range config.ListPaths(config.Sanitize(cfg)) {
				data, _ := json.Marshal(pv.Value)
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", pv.Path, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
