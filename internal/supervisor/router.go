package supervisor

import (
	"sync"
	"time"

	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/events"
)

type retryKey struct {
	name string
	id   string
}

type retryState struct {
	attempts int
	timer    *time.Timer
}

// HandleWorkerMessage consumes heartbeats and routes everything else by its
// first destination.
func (s *Supervisor) HandleWorkerMessage(env envelope.Envelope, senderPID int) {
	env.Normalize()

	if env.IsHeartbeat() {
		s.recordHeartbeat(env, senderPID)
		return
	}

	log := s.logger.WithMessage(env.MessageID)
	if env.IsForSupervisor() {
		log.Debug("ignoring non-heartbeat message for supervisor",
			"pid", senderPID, "status", env.Status)
		return
	}

	route, err := envelope.ParseRoute(env.Target())
	if err != nil {
		log.Warn("dropping message with malformed destination",
			"pid", senderPID, "destination", env.Target(), "error", err)
		s.publish(events.NewMessageEvent(events.TypeMessageDropped, env.Target(), env.MessageID))
		return
	}

	_ = s.SendToWorker(route, env)
}

// SendToWorker tracks env as pending for route.Worker and replays the
// name's pending envelopes in order, so env is written only after anything
// queued before it. When env cannot be written it stays pending and a retry
// is scheduled.
func (s *Supervisor) SendToWorker(route envelope.Route, env envelope.Envelope) error {
	env.Normalize()
	s.TrackPendingMessage(route.Worker, env)

	lock := s.flushLock(route.Worker)
	lock.Lock()
	_, err := s.flushLocked(route.Worker)
	_, stillPending := s.pending.Get(route.Worker, env.MessageID)
	lock.Unlock()

	if stillPending {
		s.scheduleRetry(route.Worker, env.MessageID)
		if err == nil {
			err = core.ErrWorkerUnavailable(route.Worker)
		}
		return err
	}
	return nil
}

// deliver writes env to a worker of route.Worker and removes it from the
// pending store on success.
func (s *Supervisor) deliver(route envelope.Route, env envelope.Envelope) error {
	name := route.Worker
	log := s.logger.WithMessage(env.MessageID)

	reg, ok := s.registry.FirstOpen(name)
	if !ok {
		if !s.modules.Has(name) {
			log.Warn("no module for destination, message pending until purged",
				"worker", name, "method", route.Method)
		} else {
			log.Warn("no worker available, message pending", "worker", name, "method", route.Method)
		}
		s.publish(events.NewMessageEvent(events.TypeMessagePending, name, env.MessageID))
		return core.ErrWorkerUnavailable(name)
	}

	if err := reg.Process.Conn().Send(env); err != nil {
		log.Warn("writing to worker failed, message pending",
			"worker", name, "pid", reg.PID, "error", err)
		s.publish(events.NewMessageEvent(events.TypeMessagePending, name, env.MessageID))
		return core.ErrWorkerUnavailable(name).WithCause(err)
	}

	s.RemovePendingMessage(name, env.MessageID)
	s.clearRetry(name, env.MessageID)

	log.Info("message delivered",
		"worker", name,
		"pid", reg.PID,
		"method", route.Method,
		"status", env.Status,
		"reason", env.Reason,
	)
	ev := events.NewMessageEvent(events.TypeMessageDelivered, name, env.MessageID)
	ev.Method = route.Method
	ev.PID = reg.PID
	ev.Status = string(env.Status)
	ev.Reason = env.Reason
	s.publish(ev)
	return nil
}

// TrackPendingMessage records env as awaiting delivery to name. When name
// is at the pending limit its oldest envelope is dropped.
func (s *Supervisor) TrackPendingMessage(name string, env envelope.Envelope) {
	evicted, ok := s.pending.Track(name, env)
	if !ok {
		return
	}
	s.clearRetry(name, evicted.MessageID)
	s.logger.WithMessage(evicted.MessageID).Warn("pending limit reached, dropping oldest message",
		"worker", name, "limit", s.opts.MaxPending)
	s.publish(events.NewMessageEvent(events.TypeMessageDropped, name, evicted.MessageID))
}

// RemovePendingMessage deletes the pending envelope id for name.
func (s *Supervisor) RemovePendingMessage(name, id string) bool {
	return s.pending.Remove(name, id)
}

// PendingMessages returns name's pending envelopes in arrival order.
func (s *Supervisor) PendingMessages(name string) []envelope.Envelope {
	return s.pending.List(name)
}

// PendingCounts returns the number of pending envelopes per name.
func (s *Supervisor) PendingCounts() map[string]int {
	return s.pending.Counts()
}

// PurgePending drops every pending envelope for name and cancels their
// retries.
func (s *Supervisor) PurgePending(name string) int {
	lock := s.flushLock(name)
	lock.Lock()
	defer lock.Unlock()

	for _, env := range s.pending.List(name) {
		s.clearRetry(name, env.MessageID)
	}
	n := s.pending.Purge(name)
	if n > 0 {
		s.logger.WithWorker(name).Warn("purged pending messages", "count", n)
	}
	return n
}

// ResendPendingMessages replays name's pending envelopes in order. Replay
// stops at the first envelope that cannot be written, which gets a retry.
func (s *Supervisor) ResendPendingMessages(name string) {
	lock := s.flushLock(name)
	lock.Lock()
	blocked, err := s.flushLocked(name)
	lock.Unlock()
	if err != nil {
		s.scheduleRetry(name, blocked.MessageID)
	}
}

// flushLocked writes name's pending envelopes in arrival order and returns
// the envelope that could not be written. The caller holds name's flush
// lock; every write to a worker goes through here.
func (s *Supervisor) flushLocked(name string) (envelope.Envelope, error) {
	for _, env := range s.pending.List(name) {
		route, err := envelope.ParseRoute(env.Target())
		if err != nil || route.Worker != name {
			route = envelope.Route{Worker: name}
		}
		if err := s.deliver(route, env); err != nil {
			return env, err
		}
	}
	return envelope.Envelope{}, nil
}

func (s *Supervisor) flushLock(name string) *sync.Mutex {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	l, ok := s.flushLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.flushLocks[name] = l
	}
	return l
}

func (s *Supervisor) scheduleRetry(name, id string) {
	if s.closed.Load() || s.opts.RetryMaxAttempts == 0 {
		return
	}
	key := retryKey{name: name, id: id}

	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	st, ok := s.retries[key]
	if !ok {
		st = &retryState{}
		s.retries[key] = st
	}
	if st.timer != nil {
		return
	}
	st.timer = time.AfterFunc(s.opts.RetryDelay, func() { s.retry(key) })
}

func (s *Supervisor) retry(key retryKey) {
	s.retryMu.Lock()
	st, ok := s.retries[key]
	if !ok {
		s.retryMu.Unlock()
		return
	}
	st.timer = nil
	st.attempts++
	attempts := st.attempts
	s.retryMu.Unlock()

	if s.closed.Load() {
		return
	}

	// Replay the whole name so a retried envelope never overtakes one
	// queued before it.
	lock := s.flushLock(key.name)
	lock.Lock()
	if _, pending := s.pending.Get(key.name, key.id); !pending {
		lock.Unlock()
		s.clearRetry(key.name, key.id)
		return
	}
	_, _ = s.flushLocked(key.name)
	_, pending := s.pending.Get(key.name, key.id)
	lock.Unlock()
	if !pending {
		return
	}

	if attempts >= s.opts.RetryMaxAttempts {
		s.clearRetry(key.name, key.id)
		s.logger.WithMessage(key.id).Error("retry attempts exhausted, message stays pending until a worker registers",
			"worker", key.name, "attempts", attempts)
		s.publish(events.NewMessageEvent(events.TypeRetryExhausted, key.name, key.id))
		return
	}
	s.scheduleRetry(key.name, key.id)
}

func (s *Supervisor) clearRetry(name, id string) {
	key := retryKey{name: name, id: id}
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	if st, ok := s.retries[key]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(s.retries, key)
	}
}

func (s *Supervisor) cancelRetries() {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	for key, st := range s.retries {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(s.retries, key)
	}
}

// retryCount returns the number of scheduled retry timers.
func (s *Supervisor) retryCount() int {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	n := 0
	for _, st := range s.retries {
		if st.timer != nil {
			n++
		}
	}
	return n
}
