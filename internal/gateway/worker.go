package gateway

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lfcbot/lfc/internal/api"
	"github.com/lfcbot/lfc/internal/correlation"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/worker"
)

// Name is the worker name this package registers under.
const Name = "RestApiWorker"

// DefaultPort is the HTTP port used when the worker config names none.
const DefaultPort = 5000

// Config is the per-worker configuration.
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Addr returns the listen address.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Main is the worker entry point. It serves HTTP until ctx is done or the
// supervisor channel closes.
func Main(ctx context.Context, conn *envelope.Conn, env worker.Env) error {
	var cfg Config
	if err := env.Decode(&cfg); err != nil {
		return err
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = env.CallTimeout
	}

	rt := worker.New(conn, env.RuntimeOptions())
	table := correlation.New(rt, env.Name,
		correlation.WithTimeout(timeout),
		correlation.WithLogger(rt.Logger()))
	rt.SetResolver(table)
	rt.Handle(correlation.ReplyMethod, func(_ context.Context, req worker.Request) error {
		rt.Logger().WithMessage(req.Envelope.MessageID).Info("unmatched reply",
			"status", req.Envelope.Status,
			"reason", req.Envelope.Reason,
			"bytes", len(req.Envelope.Data))
		return nil
	})

	srv := NewServer(table, rt, rt.Logger(), cfg.AllowedOrigins)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return rt.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		rt.Logger().Info("starting gateway", "addr", cfg.Addr())
		if err := api.Serve(gctx, cfg.Addr(), srv.Handler()); err != nil {
			return fmt.Errorf("serving %s: %w", cfg.Addr(), err)
		}
		return nil
	})
	return g.Wait()
}
