package events

// Worker lifecycle event types.
const (
	TypeWorkerSpawned  = "worker_spawned"
	TypeWorkerKilled   = "worker_killed"
	TypeWorkerCrashed  = "worker_crashed"
	TypeWorkerHung     = "worker_hung"
	TypeModuleNotFound = "module_not_found"
	TypeHeartbeat      = "heartbeat"
	TypeChannelClosed  = "channel_closed"
)

// WorkerEvent describes a change in a worker process's lifecycle.
type WorkerEvent struct {
	BaseEvent
	PID    int    `json:"pid,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewWorkerEvent creates a worker lifecycle event.
func NewWorkerEvent(eventType, worker string, pid int, reason string) WorkerEvent {
	return WorkerEvent{
		BaseEvent: NewBaseEvent(eventType, worker),
		PID:       pid,
		Reason:    reason,
	}
}

// HeartbeatEvent is published for every heartbeat the supervisor consumes.
type HeartbeatEvent struct {
	BaseEvent
	PID     int  `json:"pid"`
	Healthy bool `json:"healthy"`
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent(worker string, pid int, healthy bool) HeartbeatEvent {
	return HeartbeatEvent{
		BaseEvent: NewBaseEvent(TypeHeartbeat, worker),
		PID:       pid,
		Healthy:   healthy,
	}
}
