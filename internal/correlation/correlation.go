// Package correlation turns the fire-and-forget envelope fabric into blocking
// request/reply calls for boundary workers.
package correlation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/logging"
)

// DefaultTimeout bounds a call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// ReplyMethod is the method boundary workers expose for correlated replies.
const ReplyMethod = "onProcessed"

// Sender writes an envelope to the supervisor.
type Sender interface {
	Send(env envelope.Envelope) error
}

// Result is the outcome of a Call.
type Result struct {
	MessageID string          `json:"messageId"`
	Status    envelope.Status `json:"status"`
	Result    json.RawMessage `json:"result"`
	Reason    string          `json:"reason,omitempty"`
}

// OK reports whether the call completed.
func (r Result) OK() bool { return r.Status == envelope.StatusCompleted }

// Decode unmarshals the result payload into v.
func (r Result) Decode(v any) error {
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Option configures a Table.
type Option func(*Table)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(fn func() string) Option {
	return func(t *Table) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// Table tracks outstanding calls by message id. Each entry is consumed at
// most once, by whichever of reply or timeout happens first.
type Table struct {
	sender      Sender
	returnRoute string
	timeout     time.Duration
	logger      *logging.Logger
	newID       func() string

	mu      sync.Mutex
	pending map[string]chan envelope.Envelope
}

// New creates a table for the worker named self. Replies are addressed to
// self/onProcessed.
func New(sender Sender, self string, opts ...Option) *Table {
	t := &Table{
		sender:      sender,
		returnRoute: envelope.RouteTo(self, ReplyMethod),
		timeout:     DefaultTimeout,
		logger:      logging.NewNop(),
		newID:       uuid.NewString,
		pending:     make(map[string]chan envelope.Envelope),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ReturnRoute returns the route replies are expected on.
func (t *Table) ReturnRoute() string { return t.returnRoute }

// Call sends data along destination and blocks until the reply arrives or
// the timeout elapses. A timeout is reported through Result.Status, not as
// an error. Errors are returned for send failures and context cancellation.
func (t *Table) Call(ctx context.Context, destination []string, data any) (Result, error) {
	id := t.newID()
	log := t.logger.WithMessage(id)

	route := make([]string, 0, len(destination)+1)
	route = append(route, destination...)
	route = append(route, t.returnRoute)

	env, err := envelope.New(id, envelope.StatusProcessing).WithData(data)
	if err != nil {
		return Result{}, err
	}
	env.Destination = route

	ch := make(chan envelope.Envelope, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.sender.Send(env); err != nil {
		t.purge(id)
		return Result{}, err
	}
	log.Debug("call sent", "destination", route[0])

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		res := Result{MessageID: id, Status: reply.Status, Reason: reply.Reason}
		if reply.Status == envelope.StatusCompleted {
			res.Result = reply.Data
		}
		return res, nil
	case <-timer.C:
		if t.purge(id) {
			log.Warn("call timed out", "destination", route[0], "timeout", t.timeout)
			return Result{MessageID: id, Status: envelope.StatusTimeout}, nil
		}
		// The reply won the race with the purge.
		reply := <-ch
		return Result{MessageID: id, Status: reply.Status, Result: reply.Data, Reason: reply.Reason}, nil
	case <-ctx.Done():
		t.purge(id)
		return Result{MessageID: id, Status: envelope.StatusTimeout}, ctx.Err()
	}
}

// Resolve delivers env to the matching outstanding call and reports whether
// one existed. Destination is not consulted.
func (t *Table) Resolve(env envelope.Envelope) bool {
	t.mu.Lock()
	ch, ok := t.pending[env.MessageID]
	if ok {
		delete(t.pending, env.MessageID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	ch <- env
	return true
}

// Pending returns the number of outstanding calls.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table) purge(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}
