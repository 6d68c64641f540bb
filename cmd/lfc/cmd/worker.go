package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/logging"
	"github.com/lfcbot/lfc/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker <name>",
	Short: "Run a single worker on stdin/stdout",
	Long: `Run one worker process. The supervisor starts workers this way; envelopes
arrive on stdin and are written to stdout, one JSON object per line, and
logs go to stderr. The startup configuration is read from ` + worker.ConfigEnvVar + `.`,
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.ForWorker(cfg.Log.Level, cfg.Log.Format))

	main, err := workerCatalog().Lookup(name)
	if err != nil {
		logger.Error("unknown worker", "worker", name, "error", err)
		return err
	}
	startup, err := worker.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("reading worker config: %w", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := workerEnv(cfg)
	env.Name = name
	env.PID = os.Getpid()
	env.Config = startup
	env.Logger = logger

	conn := envelope.NewConn(os.Stdin, os.Stdout, envelope.MultiCloser{os.Stdout, os.Stdin})
	defer conn.Close()

	if err := main(ctx, conn, env); err != nil {
		logger.WithProcess(name, env.PID).Error("worker stopped", "error", err)
		return err
	}
	return nil
}
