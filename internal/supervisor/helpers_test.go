package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/events"
	"github.com/lfcbot/lfc/internal/worker"
)

// fixture wires a supervisor to in-process test workers:
//
//	Echo   runtime worker; echo replies with its payload, crash makes it exit
//	Sink   records every non-heartbeat envelope in arrival order
//	Silent never sends anything
type fixture struct {
	sup     *Supervisor
	bus     *events.Bus
	catalog *worker.Catalog

	sinkMu sync.Mutex
	sunk   []envelope.Envelope

	configsMu sync.Mutex
	configs   []map[string]interface{}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		bus:     events.New(256),
		catalog: worker.NewCatalog(),
	}
	f.catalog.Register("Echo", f.echoMain)
	f.catalog.Register("Sink", f.sinkMain)
	f.catalog.Register("Silent", silentMain)

	spawner := &InProcessSpawner{
		Catalog:  f.catalog,
		Template: worker.Env{HeartbeatInterval: time.Hour, MaxConcurrency: 4},
	}
	if opts.KillGrace == 0 {
		opts.KillGrace = 2 * time.Second
	}
	opts.Bus = f.bus
	f.sup = New(f.catalog, spawner, opts)

	t.Cleanup(func() {
		_ = f.sup.Shutdown()
		f.bus.Close()
	})
	return f
}

func (f *fixture) echoMain(ctx context.Context, conn *envelope.Conn, env worker.Env) error {
	f.configsMu.Lock()
	f.configs = append(f.configs, env.Config)
	f.configsMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt := worker.New(conn, env.RuntimeOptions())
	rt.Handle("echo", func(_ context.Context, req worker.Request) error {
		return rt.Reply(req.Envelope, req.Envelope.Data)
	})
	rt.Handle("crash", func(context.Context, worker.Request) error {
		cancel()
		return nil
	})
	return rt.Run(ctx)
}

func (f *fixture) sinkMain(ctx context.Context, conn *envelope.Conn, _ worker.Env) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		env, err := conn.Recv()
		if err != nil {
			var decErr *envelope.DecodeError
			if errors.As(err, &decErr) {
				continue
			}
			return nil
		}
		f.sinkMu.Lock()
		f.sunk = append(f.sunk, env)
		f.sinkMu.Unlock()
	}
}

func silentMain(ctx context.Context, _ *envelope.Conn, _ worker.Env) error {
	<-ctx.Done()
	return nil
}

func (f *fixture) sunkIDs() []string {
	f.sinkMu.Lock()
	defer f.sinkMu.Unlock()
	ids := make([]string, 0, len(f.sunk))
	for _, env := range f.sunk {
		ids = append(ids, env.MessageID)
	}
	return ids
}

func (f *fixture) sunkEnvelope(id string) (envelope.Envelope, bool) {
	f.sinkMu.Lock()
	defer f.sinkMu.Unlock()
	for _, env := range f.sunk {
		if env.MessageID == id {
			return env, true
		}
	}
	return envelope.Envelope{}, false
}

func (f *fixture) spawnedConfigs() []map[string]interface{} {
	f.configsMu.Lock()
	defer f.configsMu.Unlock()
	out := make([]map[string]interface{}, len(f.configs))
	copy(out, f.configs)
	return out
}

func msg(id string, destination ...string) envelope.Envelope {
	env := envelope.New(id, envelope.StatusProcessing)
	env.Destination = destination
	return env
}

func route(t *testing.T, s string) envelope.Route {
	t.Helper()
	r, err := envelope.ParseRoute(s)
	require.NoError(t, err)
	return r
}

func waitForEvent(t *testing.T, ch <-chan events.Event, eventType string) events.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("bus closed before %s", eventType)
			}
			if ev.EventType() == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", eventType)
			return nil
		}
	}
}
