package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/events"
)

// HealthRecord is the last heartbeat seen from a worker process.
type HealthRecord struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	IsHealthy bool      `json:"is_healthy"`
	LastSeen  time.Time `json:"last_seen"`
}

type healthTable struct {
	mu      sync.RWMutex
	records map[int]HealthRecord
}

func newHealthTable() *healthTable {
	return &healthTable{records: make(map[int]HealthRecord)}
}

func (h *healthTable) upsert(rec HealthRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[rec.PID] = rec
}

func (h *healthTable) get(pid int) (HealthRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[pid]
	return rec, ok
}

func (h *healthTable) remove(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, pid)
}

func (h *healthTable) snapshot() []HealthRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]HealthRecord, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func (s *Supervisor) recordHeartbeat(env envelope.Envelope, pid int) {
	reg, ok := s.registry.Get(pid)
	if !ok {
		s.logger.Debug("heartbeat from unregistered pid", "pid", pid, "message_id", env.MessageID)
		return
	}
	healthy := env.Status == envelope.StatusHealthy
	s.health.upsert(HealthRecord{
		PID:       pid,
		Name:      reg.Name,
		IsHealthy: healthy,
		LastSeen:  time.Now(),
	})
	if !healthy {
		s.logger.WithProcess(reg.Name, pid).Warn("worker reports unhealthy", "reason", env.Reason)
	}
	s.publish(events.NewHeartbeatEvent(reg.Name, pid, healthy))
}

// HealthRecords returns the heartbeat table ordered by pid.
func (s *Supervisor) HealthRecords() []HealthRecord {
	return s.health.snapshot()
}

// CheckWorkerHealth replaces every registered worker that is no longer alive
// or, when a hang threshold is set, has not sent a heartbeat within it. It
// returns the number of workers replaced.
func (s *Supervisor) CheckWorkerHealth(ctx context.Context) int {
	now := time.Now()
	replaced := 0

	for _, reg := range s.registry.All() {
		kind := ""
		switch {
		case !reg.Process.Alive():
			kind = events.TypeWorkerCrashed
		case s.opts.HangThreshold > 0 && s.isHung(reg, now):
			kind = events.TypeWorkerHung
		default:
			continue
		}

		// Another caller may have removed it since the snapshot.
		if _, still := s.registry.Get(reg.PID); !still {
			continue
		}

		log := s.logger.WithProcess(reg.Name, reg.PID)
		if kind == events.TypeWorkerHung {
			log.Warn("worker missed heartbeats, replacing", "threshold", s.opts.HangThreshold)
		} else {
			log.Warn("worker not alive, replacing", "error", core.ErrWorkerCrashed(reg.Name, reg.PID))
		}

		_ = s.KillWorker(reg.PID)
		s.publish(events.NewWorkerEvent(kind, reg.Name, reg.PID, ""))
		replaced++

		if _, err := s.CreateWorker(ctx, reg.Name, 1, s.LastConfig(reg.Name)); err != nil {
			log.Error("replacing worker", "error", err)
		}
	}
	return replaced
}

func (s *Supervisor) isHung(reg *Registration, now time.Time) bool {
	last := reg.StartedAt
	if rec, ok := s.health.get(reg.PID); ok {
		last = rec.LastSeen
	}
	return now.Sub(last) > s.opts.HangThreshold
}

func (s *Supervisor) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.CheckWorkerHealth(ctx)
		}
	}
}
