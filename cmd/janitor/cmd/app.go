package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/javi11/mediajanitor/internal/api"
	"github.com/javi11/mediajanitor/internal/config"
	"github.com/javi11/mediajanitor/internal/journal"
	"github.com/javi11/mediajanitor/internal/notify"
	"github.com/javi11/mediajanitor/internal/plan"
	"github.com/javi11/mediajanitor/internal/scan"
	"github.com/javi11/mediajanitor/internal/slogutil"
	"github.com/spf13/cobra"
)

// app holds what a command needs. Build it with newApp and Close it when done.
type app struct {
	configManager *config.Manager
	leveler       *slogutil.DynamicLeveler
	logger        *slog.Logger
	client        *api.Client
	bus           *notify.Bus
	journal       *journal.DB
}

type appOptions struct {
	// fileOnly keeps log lines off the terminal (TUI mode).
	fileOnly bool
	// withJournal opens the local run journal when enabled in the config.
	withJournal bool
}

func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	leveler := slogutil.NewDynamicLeveler(slogutil.LevelFromConfig(cfg.Log))
	logger := slogutil.SetupLogRotation(cfg.Log, slogutil.Options{
		Console:  cmd.ErrOrStderr(),
		FileOnly: opts.fileOnly,
		Leveler:  leveler,
	})
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		"server_url", cfg.Server.URL,
		"log_file", cfg.Log.File,
		"log_level", leveler.Level().String(),
		"journal", cfg.IsJournalEnabled())

	configManager := config.NewManager(cfg, resolvedConfigPath())
	configManager.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		level := slogutil.LevelFromConfig(newConfig.Log)
		if oldConfig == nil || level != slogutil.LevelFromConfig(oldConfig.Log) {
			leveler.SetLevel(level)
			logger.Info("Log level updated", "level", level.String())
		}
	})

	client, err := api.NewFromConfig(cfg, api.WithLogger(logger.With("component", "api-client")))
	if err != nil {
		return nil, err
	}

	a := &app{
		configManager: configManager,
		leveler:       leveler,
		logger:        logger,
		client:        client,
		bus:           notify.NewBus(cfg.GetNotificationTTL()),
	}

	if opts.withJournal && cfg.IsJournalEnabled() {
		db, err := journal.Open(journal.Config{DatabasePath: cfg.Journal.Path})
		if err != nil {
			// The journal is a local convenience; commands still work without it
			logger.Warn("Failed to open run journal", "path", cfg.Journal.Path, "error", err)
		} else {
			a.journal = db
		}
	}

	return a, nil
}

func (a *app) config() *config.Config {
	return a.configManager.GetConfig()
}

func (a *app) newStore() *plan.Store {
	opts := plan.Options{
		Bus:    a.bus,
		Logger: a.logger,
	}
	if a.journal != nil {
		opts.Recorder = a.journal.Repository
	}
	return plan.NewStore(a.client, opts)
}

func (a *app) newSession(settleDelay bool) *scan.Session {
	cfg := a.config()

	opts := scan.Options{
		PollInterval: cfg.GetPollInterval(),
		Logger:       a.logger,
	}
	if settleDelay {
		opts.SettleDelay = cfg.GetSettleDelay()
	}
	if opts.PollInterval > 0 {
		opts.Poller = scan.StatusPoller{Client: a.client}
	}

	return scan.NewSession(a.client, scan.NewWSDialer(cfg.GetScanStreamURL()), opts)
}

// watchReload reloads the config file on SIGHUP until stop is called.
func (a *app) watchReload() (stop func()) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sighup:
				if err := a.configManager.ReloadConfig(); err != nil {
					a.logger.Error("Failed to reload config", "error", err)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sighup)
		close(done)
	}
}

func (a *app) Close() {
	if err := a.bus.Close(); err != nil {
		a.logger.Debug("Failed to close notification bus", "error", err)
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("Failed to close run journal", "error", err)
		}
	}
}

func resolvedConfigPath() string {
	if configFile != "" {
		return configFile
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return config.DefaultConfigFilePath()
}
