package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lfcbot/lfc/internal/api"
	"github.com/lfcbot/lfc/internal/config"
	"github.com/lfcbot/lfc/internal/events"
	"github.com/lfcbot/lfc/internal/logging"
	"github.com/lfcbot/lfc/internal/metrics"
	"github.com/lfcbot/lfc/internal/supervisor"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Start the supervisor and the configured workers",
	Long: `Start the supervisor, spawn every worker pool listed under 'workers'
in the configuration and route messages between them until interrupted.

Messages addressed to a worker that is not running stay pending until one
registers. A destination with no worker module, such as the prompt worker
behind /chat in a default install, never drains: its pending list is capped
by supervisor.max_pending (oldest dropped first) and can be cleared with
DELETE /api/v1/pending/{name} on the admin API.

Examples:
  # Start with .lfc.yaml from the current directory
  lfc supervise

  # Expose the admin API on another address
  LFC_SUPERVISOR_ADMIN_ADDR=0.0.0.0:9464 lfc supervise`,
	RunE: runSupervise,
}

func init() {
	rootCmd.AddCommand(superviseCmd)
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.New(256)
	defer bus.Close()

	spawner, err := supervisor.NewExecSpawner()
	if err != nil {
		return err
	}
	configFile := loader.ConfigFile()
	spawner.Args = func(name string) []string {
		args := []string{"worker", name,
			"--log-level", cfg.Log.Level,
			"--log-format", cfg.Log.Format}
		if configFile != "" {
			args = append(args, "--config", configFile)
		}
		return args
	}

	sup := supervisor.New(workerCatalog(), spawner, supervisor.Options{
		HealthInterval:   cfg.Supervisor.HealthInterval,
		HangThreshold:    cfg.Supervisor.HangThreshold,
		RetryDelay:       cfg.Supervisor.RetryDelay,
		RetryMaxAttempts: cfg.Supervisor.RetryMaxAttempts,
		MaxPending:       cfg.Supervisor.MaxPending,
		KillGrace:        cfg.Supervisor.KillGrace,
		Logger:           logger,
		Bus:              bus,
	})

	m := metrics.New()
	if err := m.RegisterSource(sup); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	go m.Consume(ctx, bus.Subscribe())

	for _, spec := range cfg.Workers {
		pids, err := sup.CreateWorker(ctx, spec.Name, spec.Count, workerConfig(cfg, spec))
		if err != nil {
			logger.Error("creating worker pool",
				slog.String("worker", spec.Name), slog.String("error", err.Error()))
			continue
		}
		logger.Info("worker pool started",
			slog.String("worker", spec.Name), slog.Any("pids", pids))
	}
	sup.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if addr := cfg.Supervisor.AdminAddr; addr != "" {
		admin := api.NewServer(sup, api.WithLogger(logger), api.WithMetrics(m.Handler()))
		g.Go(func() error {
			return admin.ListenAndServe(gctx, addr)
		})
	}
	if cfg.Supervisor.WatchConfig && configFile != "" {
		watcher, err := config.NewWatcher(configFile,
			func(next *config.Config) {
				sup.UpdateWorkerConfigs(workerConfigs(next))
				logger.Info("worker configs reloaded", slog.String("file", configFile))
			},
			func(err error) {
				logger.Warn("config reload failed", slog.String("error", err.Error()))
			})
		if err != nil {
			logger.Warn("config watcher disabled", slog.String("error", err.Error()))
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	<-gctx.Done()
	logger.Info("shutting down supervisor...")

	shutdownErr := sup.Shutdown()
	stop()
	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}
