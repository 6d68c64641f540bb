// Package envelope defines the message contract exchanged between the
// supervisor and its worker processes, the route grammar used to address
// them, and the newline-delimited JSON codec carried on every channel.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle status carried by an Envelope.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusHealthy    Status = "healthy"
	StatusUnhealthy  Status = "unhealthy"
	StatusTimeout    Status = "timeout"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed,
		StatusHealthy, StatusUnhealthy, StatusTimeout:
		return true
	}
	return false
}

// IsHeartbeat reports whether s is a liveness status.
func (s Status) IsHeartbeat() bool {
	return s == StatusHealthy || s == StatusUnhealthy
}

// SupervisorDestination is the reserved route for messages consumed by the
// supervisor itself (heartbeats).
const SupervisorDestination = "supervisor"

// ReasonServerBusy is the reason carried by busy backpressure replies.
const ReasonServerBusy = "SERVER_BUSY"

// emptyData is the default payload: an empty JSON array.
var emptyData = json.RawMessage(`[]`)

// Envelope is the structured message exchanged over a channel.
type Envelope struct {
	MessageID   string          `json:"messageId"`
	Status      Status          `json:"status"`
	Reason      string          `json:"reason"`
	Destination []string        `json:"destination"`
	Data        json.RawMessage `json:"data"`
}

// New builds an Envelope with default destination and payload filled in.
func New(messageID string, status Status) Envelope {
	return Envelope{
		MessageID:   messageID,
		Status:      status,
		Destination: []string{SupervisorDestination},
		Data:        emptyData,
	}
}

// WithData marshals v into the envelope payload.
func (e Envelope) WithData(v any) (Envelope, error) {
	if v == nil {
		e.Data = emptyData
		return e, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		e.Data = raw
		return e, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return e, fmt.Errorf("encoding payload for %s: %w", e.MessageID, err)
	}
	e.Data = raw
	return e, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding payload for %s: %w", e.MessageID, err)
	}
	return nil
}

// Normalize fills the wire defaults for fields left empty by the sender.
func (e *Envelope) Normalize() {
	if len(e.Destination) == 0 {
		e.Destination = []string{SupervisorDestination}
	}
	if len(e.Data) == 0 {
		e.Data = emptyData
	}
}

// Target returns the first destination entry, the only one consulted for
// routing.
func (e Envelope) Target() string {
	if len(e.Destination) == 0 {
		return SupervisorDestination
	}
	return e.Destination[0]
}

// ReturnPath returns the destinations after the routed hop.
func (e Envelope) ReturnPath() []string {
	if len(e.Destination) < 2 {
		return nil
	}
	out := make([]string, len(e.Destination)-1)
	copy(out, e.Destination[1:])
	return out
}

// IsForSupervisor reports whether the envelope is addressed to the supervisor
// alone.
func (e Envelope) IsForSupervisor() bool {
	return len(e.Destination) == 1 && e.Destination[0] == SupervisorDestination
}

// IsHeartbeat reports whether the envelope is a liveness signal addressed to
// the supervisor.
func (e Envelope) IsHeartbeat() bool {
	return e.IsForSupervisor() && e.Status.IsHeartbeat()
}
