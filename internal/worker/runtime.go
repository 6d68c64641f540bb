// Package worker implements the runtime every worker process runs: the
// receive loop on its end of the supervisor channel, the method dispatch
// table, the bounded handler pool that produces SERVER_BUSY replies, and the
// heartbeat emitter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/logging"
)

const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultMaxConcurrency    = 8
	inboxSize                = 64
)

// ErrUnknownMethod matches errors for messages naming a method the worker did
// not register. Such messages are replied as failed.
var ErrUnknownMethod = core.ErrValidation(core.CodeUnknownMethod, "unknown method")

// Request is a dispatched inbound message.
type Request struct {
	Envelope envelope.Envelope
	Route    envelope.Route
}

// HandlerFunc processes one request. A returned error is replied to the
// request's return path as a failed envelope.
type HandlerFunc func(ctx context.Context, req Request) error

// Resolver intercepts inbound envelopes before dispatch. Resolve returns true
// when the envelope was consumed.
type Resolver interface {
	Resolve(env envelope.Envelope) bool
}

// Options configures a Runtime.
type Options struct {
	Name              string
	PID               int
	HeartbeatInterval time.Duration
	// MaxConcurrency bounds in-flight handlers. Exclusive workers use 1.
	MaxConcurrency int
	Logger         *logging.Logger
}

// Runtime owns the worker end of a channel.
type Runtime struct {
	name   string
	pid    int
	conn   *envelope.Conn
	logger *logging.Logger

	heartbeatInterval time.Duration
	group             errgroup.Group

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	resolver Resolver
}

// New creates a runtime for the given channel end.
func New(conn *envelope.Conn, opts Options) *Runtime {
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	r := &Runtime{
		name:              opts.Name,
		pid:               opts.PID,
		conn:              conn,
		logger:            opts.Logger.WithProcess(opts.Name, opts.PID),
		heartbeatInterval: opts.HeartbeatInterval,
		handlers:          make(map[string]HandlerFunc),
	}
	r.group.SetLimit(opts.MaxConcurrency)
	return r
}

// Name returns the worker name.
func (r *Runtime) Name() string { return r.name }

// PID returns the process id reported in heartbeats.
func (r *Runtime) PID() int { return r.pid }

// Logger returns the runtime's scoped logger.
func (r *Runtime) Logger() *logging.Logger { return r.logger }

// Handle registers h for method. Registering the same method twice replaces
// the previous handler.
func (r *Runtime) Handle(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Lookup returns the handler for method, or an error matching
// ErrUnknownMethod.
func (r *Runtime) Lookup(method string) (HandlerFunc, error) {
	r.mu.RLock()
	h, ok := r.handlers[method]
	r.mu.RUnlock()
	if !ok {
		return nil, core.ErrValidation(core.CodeUnknownMethod, method).
			WithDetail("worker", r.name)
	}
	return h, nil
}

// SetResolver installs the interceptor consulted before dispatch.
func (r *Runtime) SetResolver(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = res
}

// Run processes inbound messages until ctx is canceled or the channel
// reaches EOF. It closes the channel on return and waits for in-flight
// handlers.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox := make(chan envelope.Envelope, inboxSize)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		r.readLoop(ctx, inbox)
	}()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.heartbeatLoop(ctx)
	}()

	defer func() {
		cancel()
		_ = r.conn.Close()
		<-readDone
		<-hbDone
		_ = r.group.Wait()
	}()

	r.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker stopping", "reason", ctx.Err())
			return nil
		case env, ok := <-inbox:
			if !ok {
				r.logger.Warn("channel closed, stopping receive loop")
				return nil
			}
			r.dispatch(ctx, env)
		}
	}
}

func (r *Runtime) readLoop(ctx context.Context, inbox chan<- envelope.Envelope) {
	defer close(inbox)
	for {
		env, err := r.conn.Recv()
		if err != nil {
			var decErr *envelope.DecodeError
			if errors.As(err, &decErr) {
				r.logger.Warn("dropping undecodable message", "error", err)
				continue
			}
			return
		}
		select {
		case inbox <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	r.sendHeartbeat()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendHeartbeat()
		}
	}
}

func (r *Runtime) sendHeartbeat() {
	env := envelope.New(fmt.Sprintf("%s-%d", r.name, r.pid), envelope.StatusHealthy)
	if err := r.conn.Send(env); err != nil && !errors.Is(err, envelope.ErrClosed) {
		r.logger.Warn("sending heartbeat", "error", err)
	}
}

func (r *Runtime) dispatch(ctx context.Context, env envelope.Envelope) {
	r.mu.RLock()
	resolver := r.resolver
	r.mu.RUnlock()

	if resolver != nil && resolver.Resolve(env) {
		return
	}

	log := r.logger.WithMessage(env.MessageID)

	route, err := envelope.ParseRoute(env.Target())
	if err != nil {
		log.Warn("dropping message with malformed destination",
			"destination", env.Target(), "error", err)
		return
	}
	if route.Worker != r.name {
		log.Debug("ignoring message for another worker", "destination", env.Target())
		return
	}

	h, err := r.Lookup(route.Method)
	if err != nil {
		log.Warn("unknown method", "method", route.Method)
		r.replyFailed(env, reasonFor(err), err)
		return
	}

	req := Request{Envelope: env, Route: route}
	started := r.group.TryGo(func() error {
		if err := h(ctx, req); err != nil {
			log.Warn("handler failed", "method", route.Method, "error", err)
			r.replyFailed(env, reasonFor(err), err)
		}
		return nil
	})
	if !started {
		log.Warn("worker busy, rejecting message", "method", route.Method)
		r.replyFailed(env, envelope.ReasonServerBusy, core.ErrWorkerBusy(r.name))
	}
}

func (r *Runtime) replyFailed(req envelope.Envelope, reason string, cause error) {
	if len(req.ReturnPath()) == 0 {
		return
	}
	if err := r.SendToOtherWorker(req.ReturnPath(), req.MessageID, nil, envelope.StatusFailed, reason); err != nil {
		r.logger.WithMessage(req.MessageID).Warn("sending failure reply",
			"error", err, "cause", cause)
	}
}

// SendToOtherWorker builds an envelope and writes it to the supervisor,
// which routes it by destination[0].
func (r *Runtime) SendToOtherWorker(destination []string, messageID string, data any, status envelope.Status, reason string) error {
	env := envelope.New(messageID, status)
	if len(destination) > 0 {
		env.Destination = destination
	}
	env.Reason = reason
	env, err := env.WithData(data)
	if err != nil {
		return err
	}
	return r.Send(env)
}

// Send writes a prepared envelope to the supervisor.
func (r *Runtime) Send(env envelope.Envelope) error {
	env.Normalize()
	if err := r.conn.Send(env); err != nil {
		return fmt.Errorf("sending %s to %s: %w", env.MessageID, env.Target(), err)
	}
	return nil
}

// Reply answers req on its return path with a completed envelope that keeps
// the request's message id. A request without a return path gets no reply.
func (r *Runtime) Reply(req envelope.Envelope, data any) error {
	path := req.ReturnPath()
	if len(path) == 0 {
		r.logger.WithMessage(req.MessageID).Debug("no return path, reply dropped")
		return nil
	}
	return r.SendToOtherWorker(path, req.MessageID, data, envelope.StatusCompleted, "")
}

func reasonFor(err error) string {
	var de *core.DomainError
	if errors.As(err, &de) {
		if de.Message == "" {
			return de.Code
		}
		return de.Code + ": " + de.Message
	}
	return err.Error()
}
