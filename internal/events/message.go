package events

// Message routing event types.
const (
	TypeMessageDelivered = "message_delivered"
	TypeMessagePending   = "message_pending"
	TypeMessageDropped   = "message_dropped"
	TypeRetryExhausted   = "retry_exhausted"
)

// MessageEvent describes what the router did with an envelope.
type MessageEvent struct {
	BaseEvent
	MessageID string `json:"message_id"`
	Method    string `json:"method,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewMessageEvent creates a routing event for a message bound to worker.
func NewMessageEvent(eventType, worker, messageID string) MessageEvent {
	return MessageEvent{
		BaseEvent: NewBaseEvent(eventType, worker),
		MessageID: messageID,
	}
}
