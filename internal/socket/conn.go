package socket

import (
	"context"
	"errors"
	"fmt"
)

// MessageType identifies the kind of frame read from a connection.
type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

// WebSocket close status codes the client cares about.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// ErrNotConnected is reported through Listener.OnError when Send is called
// without an established connection.
var ErrNotConnected = errors.New("socket: not connected")

// CloseError is returned by Conn.Read when the connection terminated with a
// close status. Code 1006 means the peer vanished without a close handshake.
type CloseError struct {
	Code   int
	Reason string
}

func (e CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("socket: closed with status %d", e.Code)
	}
	return fmt.Sprintf("socket: closed with status %d: %s", e.Code, e.Reason)
}

// Conn is one transport-level connection. A Client owns at most one live
// Conn at a time and replaces it on every Connect call.
type Conn interface {
	// Read blocks until the next frame, a close (returned as CloseError)
	// or a transport failure.
	Read(ctx context.Context) (MessageType, []byte, error)
	// Write sends one text frame. Binary frames are never produced.
	Write(ctx context.Context, data []byte) error
	// Close starts the close handshake with the given status code.
	Close(code int, reason string) error
}

// Dialer opens connections. The default is the WebSocket dialer in this
// package; tests substitute MockDialer.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
