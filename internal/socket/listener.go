package socket

import (
	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

// Listener receives lifecycle and data callbacks from a Client. Callbacks
// are invoked from the client's background goroutines, never from the
// goroutine that called Connect/Disconnect/Send; implementations that need
// a particular execution context must re-dispatch themselves.
//
// A Client holds exactly one Listener, supplied at construction.
type Listener interface {
	// OnStateChange fires on every state transition, after the new state
	// became observable through Client.State.
	OnStateChange(c *Client, s State)
	// OnConnect fires once per successful open, after the transition to
	// StateOpen.
	OnConnect(c *Client)
	// OnDisconnect fires once per close completion with the close status,
	// the best-effort decoded reason and whether the shutdown was clean.
	OnDisconnect(c *Client, code int, reason string, wasClean bool)
	// OnReceiveEvent fires for every inbound text frame that decoded to a
	// valid event. Malformed frames are dropped silently.
	OnReceiveEvent(c *Client, ev *assurancedto.Event)
	// OnError fires on transport-level failures (open, send, receive).
	// Errors do not change the connection state.
	OnError(c *Client, err error)
}

// NopListener discards every callback. Embed it to implement only part of
// the Listener contract.
type NopListener struct{}

func (NopListener) OnStateChange(*Client, State) {}

func (NopListener) OnConnect(*Client) {}

func (NopListener) OnDisconnect(*Client, int, string, bool) {}

func (NopListener) OnReceiveEvent(*Client, *assurancedto.Event) {}

func (NopListener) OnError(*Client, error) {}
