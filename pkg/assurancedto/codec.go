package assurancedto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameBytes caps the encoded size of a single frame. Oversized events
// are rejected at encode time instead of being truncated on the wire.
const MaxFrameBytes = 1 << 20

var (
	ErrNilEvent      = errors.New("assurancedto: nil event")
	ErrFrameTooLarge = errors.New("assurancedto: frame exceeds size limit")
)

// EncodeFrame serializes an event for the socket: JSON bytes wrapped in
// standard base64. The service speaks text frames only, so the base64 text
// is what goes on the wire.
func EncodeFrame(e *Event) ([]byte, error) {
	if e == nil {
		return nil, ErrNilEvent
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("assurancedto: marshal event: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if len(encoded) > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	return []byte(encoded), nil
}

// DecodeFrame is the inverse of EncodeFrame. It fails on anything that is
// not base64-wrapped JSON or that lacks the mandatory envelope fields.
func DecodeFrame(data []byte) (*Event, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("assurancedto: base64 decode: %w", err)
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("assurancedto: unmarshal event: %w", err)
	}
	if e.Vendor == "" || e.Type == "" {
		return nil, errors.New("assurancedto: event missing vendor or type")
	}
	return &e, nil
}
