package bus

import (
	"time"

	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

// EventType partitions bus traffic by topic.
type EventType string

const (
	// OutboundQueued carries a host-app event that should go out on the
	// session socket.
	OutboundQueued EventType = "event.outbound"
	// InboundReceived carries an event the assurance service sent us.
	InboundReceived EventType = "event.inbound"
	// SessionStateChanged reports socket lifecycle transitions.
	SessionStateChanged EventType = "session.state_changed"
)

// Event is the base interface for all bus events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

// OutboundEvent asks the session to transmit one assurance event.
type OutboundEvent struct {
	BaseEvent
	Event *assurancedto.Event
}

func NewOutboundEvent(ev *assurancedto.Event) OutboundEvent {
	return OutboundEvent{
		BaseEvent: BaseEvent{EventType: OutboundQueued, EventTime: time.Now()},
		Event:     ev,
	}
}

// InboundEvent is one assurance event received on the session socket.
type InboundEvent struct {
	BaseEvent
	SessionID string
	Event     *assurancedto.Event
}

func NewInboundEvent(sessionID string, ev *assurancedto.Event) InboundEvent {
	return InboundEvent{
		BaseEvent: BaseEvent{EventType: InboundReceived, EventTime: time.Now()},
		SessionID: sessionID,
		Event:     ev,
	}
}

// SessionStateEvent mirrors the socket lifecycle onto the bus so host
// code can observe connect/disconnect without holding the socket client.
type SessionStateEvent struct {
	BaseEvent
	SessionID string
	State     string
	CloseCode int
	Reason    string
	WasClean  bool
	Err       error
}

func NewSessionStateEvent(sessionID, state string) SessionStateEvent {
	return SessionStateEvent{
		BaseEvent: BaseEvent{EventType: SessionStateChanged, EventTime: time.Now()},
		SessionID: sessionID,
		State:     state,
	}
}
