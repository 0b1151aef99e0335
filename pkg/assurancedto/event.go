package assurancedto

import (
	"time"

	"github.com/google/uuid"
)

// Vendor identifiers carried in the event envelope.
const (
	VendorAgent   = "com.assurekit.agent"
	VendorService = "com.assurekit.service"
)

// Event types understood by the assurance service.
const (
	TypeGeneric = "generic"
	TypeControl = "control"
	TypeLog     = "log"
	TypeBlob    = "blob"
)

// Payload keys used by control events.
const (
	payloadKeyType   = "type"
	payloadKeyDetail = "detail"
)

// Control commands carried in the payload of TypeControl events.
const (
	// ControlClientInfo announces the connecting client to the service.
	ControlClientInfo = "clientInfo"
	// ControlShutdown asks the agent to close its session socket.
	ControlShutdown = "shutdown"
)

// Event is the envelope exchanged with the assurance service. The socket
// layer treats it as opaque; only the sending and receiving ends interpret
// the payload.
type Event struct {
	ID        string         `json:"eventID"`
	Vendor    string         `json:"vendor"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Number    int64          `json:"eventNumber,omitempty"`
}

// New builds an event with a fresh ID and a millisecond timestamp.
// Number is left at zero; the session layer stamps it on send.
func New(vendor, typ string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Vendor:    vendor,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewControl builds a control event addressed to the agent vendor.
func NewControl(controlType string, detail map[string]any) *Event {
	payload := map[string]any{payloadKeyType: controlType}
	if detail != nil {
		payload[payloadKeyDetail] = detail
	}
	return New(VendorAgent, TypeControl, payload)
}

// ControlType returns the control command carried by a control event,
// or "" when the event is not a control event or the payload is malformed.
func (e *Event) ControlType() string {
	if e == nil || e.Type != TypeControl || e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[payloadKeyType].(string)
	return s
}

// Detail returns the detail map of a control event, or nil.
func (e *Event) Detail() map[string]any {
	if e == nil || e.Payload == nil {
		return nil
	}
	m, _ := e.Payload[payloadKeyDetail].(map[string]any)
	return m
}

// Time converts the millisecond timestamp back to time.Time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
