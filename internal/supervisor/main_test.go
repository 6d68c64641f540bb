package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/worker"
)

const helperEnv = "LFC_SUPERVISOR_TEST_HELPER"

// TestMain doubles as a worker process for ExecSpawner tests: when
// helperEnv is set the test binary runs an echo worker on stdin/stdout
// instead of the tests.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperWorker())
	}
	os.Exit(m.Run())
}

func runHelperWorker() int {
	name := os.Args[len(os.Args)-1]
	cfg, err := worker.ConfigFromEnv()
	if err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	conn := envelope.NewConn(os.Stdin, os.Stdout, envelope.MultiCloser{os.Stdin})
	rt := worker.New(conn, worker.Options{Name: name, HeartbeatInterval: 50 * time.Millisecond})
	rt.Handle("echo", func(_ context.Context, req worker.Request) error {
		return rt.Reply(req.Envelope, cfg)
	})
	if err := rt.Run(ctx); err != nil {
		return 1
	}
	return 0
}
