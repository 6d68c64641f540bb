// Package supervisor spawns worker processes, routes envelopes between them,
// buffers envelopes for workers that are not yet available, and replaces
// workers that die or stop sending heartbeats.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/events"
	"github.com/lfcbot/lfc/internal/logging"
)

// Modules resolves worker names to loadable entry points.
type Modules interface {
	Has(name string) bool
}

// Options configures a Supervisor.
type Options struct {
	HealthInterval   time.Duration
	HangThreshold    time.Duration
	RetryDelay       time.Duration
	RetryMaxAttempts int
	KillGrace        time.Duration
	// MaxPending caps pending envelopes per worker name; the oldest is
	// dropped beyond it. Zero means unlimited.
	MaxPending int
	Logger     *logging.Logger
	// Bus receives lifecycle and routing events. Optional.
	Bus *events.Bus
}

// DefaultOptions returns the default supervisor options.
func DefaultOptions() Options {
	return Options{
		HealthInterval:   5 * time.Second,
		RetryDelay:       2 * time.Second,
		RetryMaxAttempts: 10,
		KillGrace:        3 * time.Second,
	}
}

// Supervisor owns the worker registry, the pending store and the health
// table.
type Supervisor struct {
	modules Modules
	spawner Spawner
	opts    Options
	logger  *logging.Logger
	bus     *events.Bus

	registry *Registry
	pending  *PendingStore
	health   *healthTable

	configMu   sync.RWMutex
	lastConfig map[string]map[string]interface{}

	retryMu sync.Mutex
	retries map[retryKey]*retryState

	flushMu    sync.Mutex
	flushLocks map[string]*sync.Mutex

	listeners sync.WaitGroup
	stopOnce  sync.Once
	stop      chan struct{}
	closed    atomic.Bool
}

// New creates a supervisor.
func New(modules Modules, spawner Spawner, opts Options) *Supervisor {
	def := DefaultOptions()
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = def.HealthInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.RetryMaxAttempts < 0 {
		opts.RetryMaxAttempts = 0
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = def.KillGrace
	}
	if opts.MaxPending < 0 {
		opts.MaxPending = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	return &Supervisor{
		modules:    modules,
		spawner:    spawner,
		opts:       opts,
		logger:     opts.Logger,
		bus:        opts.Bus,
		registry:   NewRegistry(),
		pending:    NewPendingStore().WithLimit(opts.MaxPending),
		health:     newHealthTable(),
		lastConfig: make(map[string]map[string]interface{}),
		retries:    make(map[retryKey]*retryState),
		flushLocks: make(map[string]*sync.Mutex),
		stop:       make(chan struct{}),
	}
}

// CreateWorker spawns count instances of name, each started with config.
// It returns the pids of the instances that were registered.
func (s *Supervisor) CreateWorker(ctx context.Context, name string, count int, config map[string]interface{}) ([]int, error) {
	if name == "" {
		return nil, core.ErrValidation(core.CodeEmptyName, "worker name is required")
	}
	if count <= 0 {
		return nil, core.ErrValidation(core.CodeInvalidCount,
			fmt.Sprintf("count must be positive, got %d", count))
	}
	if s.closed.Load() {
		return nil, core.ErrChannelClosed("supervisor is shut down")
	}

	log := s.logger.WithWorker(name)
	if !s.modules.Has(name) {
		log.Error("worker module not found")
		s.publish(events.NewWorkerEvent(events.TypeModuleNotFound, name, 0, ""))
		return nil, core.ErrModuleNotFound(name)
	}

	s.setLastConfig(name, config)
	log.Debug("worker config", "count", count, "config", s.logger.Sanitizer().SanitizeMap(config))

	pids := make([]int, 0, count)
	for i := 0; i < count; i++ {
		proc, err := s.spawner.Spawn(ctx, name, config)
		if err != nil {
			log.Error("spawning worker", "error", err)
			if len(pids) > 0 {
				s.ResendPendingMessages(name)
			}
			return pids, fmt.Errorf("spawning %s: %w", name, err)
		}

		reg := &Registration{
			PID:       proc.PID(),
			Name:      name,
			Process:   proc,
			StartedAt: time.Now(),
		}
		if !s.registry.Add(reg) {
			_ = proc.Terminate(s.opts.KillGrace)
			return pids, core.ErrValidation(core.CodeDuplicatePID,
				fmt.Sprintf("pid %d already registered", reg.PID))
		}

		s.listeners.Add(1)
		go s.listen(reg)

		pids = append(pids, reg.PID)
		log.Info("worker spawned", "pid", reg.PID)
		s.publish(events.NewWorkerEvent(events.TypeWorkerSpawned, name, reg.PID, ""))
	}

	s.ResendPendingMessages(name)
	return pids, nil
}

// listen forwards everything a worker writes into the router.
func (s *Supervisor) listen(reg *Registration) {
	defer s.listeners.Done()
	log := s.logger.WithProcess(reg.Name, reg.PID)
	conn := reg.Process.Conn()

	for {
		env, err := conn.Recv()
		if err != nil {
			var decErr *envelope.DecodeError
			if errors.As(err, &decErr) {
				log.Warn("dropping undecodable message from worker", "error", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				log.Info("worker channel closed")
			} else {
				log.Warn("reading from worker", "error", err)
			}
			s.publish(events.NewWorkerEvent(events.TypeChannelClosed, reg.Name, reg.PID, ""))
			return
		}
		s.HandleWorkerMessage(env, reg.PID)
	}
}

// KillWorker closes the channel of pid, terminates the process and removes
// its registration.
func (s *Supervisor) KillWorker(pid int) error {
	reg, ok := s.registry.Remove(pid)
	if !ok {
		return core.ErrNotFound("worker", strconv.Itoa(pid))
	}
	s.health.remove(pid)

	err := reg.Process.Terminate(s.opts.KillGrace)
	log := s.logger.WithProcess(reg.Name, pid)
	if err != nil {
		log.Warn("terminating worker", "error", err)
	} else {
		log.Info("worker killed")
	}
	s.publish(events.NewWorkerEvent(events.TypeWorkerKilled, reg.Name, pid, ""))
	return err
}

// IsWorkerAlive reports whether pid is registered and its process is alive.
func (s *Supervisor) IsWorkerAlive(pid int) bool {
	reg, ok := s.registry.Get(pid)
	if !ok {
		return false
	}
	return reg.Process.Alive()
}

// WorkerInfo is a registry snapshot entry.
type WorkerInfo struct {
	PID       int           `json:"pid"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Alive     bool          `json:"alive"`
	Stats     *ProcessStats `json:"stats,omitempty"`
}

// Workers returns a snapshot of the registry.
func (s *Supervisor) Workers() []WorkerInfo {
	regs := s.registry.All()
	out := make([]WorkerInfo, 0, len(regs))
	for _, reg := range regs {
		info := WorkerInfo{
			PID:       reg.PID,
			Name:      reg.Name,
			StartedAt: reg.StartedAt,
			Alive:     reg.Process.Alive(),
		}
		if _, isExec := reg.Process.(*execProcess); isExec {
			if st, ok := processStats(reg.PID); ok {
				info.Stats = &st
			}
		}
		out = append(out, info)
	}
	return out
}

// WorkerCounts returns the number of registered processes per name.
func (s *Supervisor) WorkerCounts() map[string]int {
	return s.registry.Counts()
}

// LastConfig returns the config most recently used to create name.
func (s *Supervisor) LastConfig(name string) map[string]interface{} {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.lastConfig[name]
}

// UpdateWorkerConfigs replaces the remembered config of each named worker.
// Running instances are unaffected; replacements use the new config.
func (s *Supervisor) UpdateWorkerConfigs(configs map[string]map[string]interface{}) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	for name, cfg := range configs {
		s.lastConfig[name] = cfg
	}
}

func (s *Supervisor) setLastConfig(name string, cfg map[string]interface{}) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.lastConfig[name] = cfg
}

// Start runs the health monitor until ctx is canceled or Shutdown is
// called. It returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	go s.healthLoop(ctx)
}

// Shutdown stops the health monitor and retries and kills every worker.
func (s *Supervisor) Shutdown() error {
	s.closed.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })
	s.cancelRetries()

	var g errgroup.Group
	for _, reg := range s.registry.All() {
		pid := reg.PID
		g.Go(func() error {
			return s.KillWorker(pid)
		})
	}
	err := g.Wait()
	s.listeners.Wait()
	s.logger.Info("supervisor stopped")
	return err
}

func (s *Supervisor) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
