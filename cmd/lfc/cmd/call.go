package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lfcbot/lfc/internal/correlation"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/logging"
	"github.com/lfcbot/lfc/internal/supervisor"
	"github.com/lfcbot/lfc/internal/worker"
)

// callerName is the boundary worker the call command registers for itself.
const callerName = "LfcCli"

var callCmd = &cobra.Command{
	Use:   "call <route> [json-payload]",
	Short: "Send one correlated call to a worker and print the result",
	Long: `Start an in-process supervisor with the target worker, send it one
envelope and print the correlated result. Useful for exercising a worker
without the REST gateway.

Examples:
  lfc call DatabaseInteractionWorker/createNewHistory '{"question":"q","projectId":"p1"}'
  lfc call DatabaseInteractionWorker/getHistory/<id>`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

var callTimeout time.Duration

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0,
		"how long to wait for the reply (default: correlation.timeout)")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	route, err := envelope.ParseRoute(args[0])
	if err != nil {
		return err
	}
	var payload any
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("payload is not valid JSON")
		}
		payload = json.RawMessage(args[1])
	}
	timeout := callTimeout
	if timeout <= 0 {
		timeout = cfg.Correlation.Timeout
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	tables := make(chan *correlation.Table, 1)
	catalog := workerCatalog()
	catalog.Register(callerName, func(ctx context.Context, conn *envelope.Conn, env worker.Env) error {
		rt := worker.New(conn, env.RuntimeOptions())
		table := correlation.New(rt, env.Name,
			correlation.WithTimeout(timeout),
			correlation.WithLogger(rt.Logger()))
		rt.SetResolver(table)
		tables <- table
		return rt.Run(ctx)
	})

	sup := supervisor.New(catalog, &supervisor.InProcessSpawner{
		Catalog:  catalog,
		Template: workerEnv(cfg),
		Logger:   logger,
	}, supervisor.Options{
		RetryDelay:       cfg.Supervisor.RetryDelay,
		RetryMaxAttempts: cfg.Supervisor.RetryMaxAttempts,
		MaxPending:       cfg.Supervisor.MaxPending,
		KillGrace:        cfg.Supervisor.KillGrace,
		Logger:           logger,
	})
	defer func() { _ = sup.Shutdown() }()

	ctx := commandContext(cmd)
	if _, err := sup.CreateWorker(ctx, route.Worker, 1, workerConfig(cfg, specFor(cfg, route.Worker))); err != nil {
		return err
	}
	if _, err := sup.CreateWorker(ctx, callerName, 1, nil); err != nil {
		return err
	}

	var table *correlation.Table
	select {
	case table = <-tables:
	case <-ctx.Done():
		return ctx.Err()
	}

	res, err := table.Call(ctx, []string{route.String()}, payload)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("call %s: %s %s", route, res.Status, res.Reason)
	}
	return nil
}
