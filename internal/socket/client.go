package socket

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

// Connectable is the control surface a Client exposes to its caller.
type Connectable interface {
	Connect(ctx context.Context, url string)
	Disconnect()
	Send(ev *assurancedto.Event)
	State() State
}

// Client drives one logical socket connection to the assurance service
// through the UNKNOWN/CONNECTING/OPEN/CLOSING/CLOSED state machine and
// reports everything to its Listener.
//
// Connect, Disconnect and Send return immediately; completion arrives via
// listener callbacks on background goroutines. State changes follow
// mutate-then-notify: the new state is readable through State before the
// OnStateChange callback fires. The client serializes nothing for its
// caller; concurrent Connect/Disconnect calls from multiple goroutines
// need external synchronization.
//
// An error never changes the state; only a close completion moves the
// machine to StateClosed. The same instance supports repeated
// connect/disconnect cycles.
type Client struct {
	dialer   Dialer
	listener Listener
	log      *zap.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	gen        uint64
	dialing    bool
	cancelDial context.CancelFunc
}

var _ Connectable = (*Client)(nil)

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient builds a client around the given listener. A nil listener is
// replaced with NopListener. The default transport is a WSDialer.
func NewClient(listener Listener, opts ...Option) *Client {
	c := &Client{
		state:    StateUnknown,
		listener: listener,
		dialer:   NewWSDialer(),
		log:      zap.NewNop(),
	}
	if c.listener == nil {
		c.listener = NopListener{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect moves to StateConnecting synchronously, then dials in the
// background. A previous connection is not silently abandoned: it gets a
// going-away close, and its remaining callbacks are suppressed. The
// context governs only the dial.
func (c *Client) Connect(ctx context.Context, url string) {
	dialCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.conn
	prevCancel := c.cancelDial
	c.conn = nil
	c.cancelDial = cancel
	c.dialing = true
	changed := c.state != StateConnecting
	c.state = StateConnecting
	c.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		go func() { _ = prev.Close(CloseGoingAway, "superseded") }()
	}
	if changed {
		c.listener.OnStateChange(c, StateConnecting)
	}
	c.log.Debug("socket_connecting", zap.Uint64("gen", gen), zap.String("url", url))
	go c.dial(dialCtx, gen, url)
}

func (c *Client) dial(ctx context.Context, gen uint64, url string) {
	conn, err := c.dialer.Dial(ctx, url)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseGoingAway, "superseded")
		}
		return
	}
	c.dialing = false
	if c.state == StateClosing {
		c.mu.Unlock()
		if err != nil {
			// Disconnect aborted the dial before a transport existed.
			c.completeClose(gen, CloseAbnormal, "", false)
			return
		}
		// Disconnect raced the dial and lost; shut the fresh conn down.
		_ = conn.Close(CloseNormal, "")
		c.completeClose(gen, CloseNormal, "", true)
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn("socket_open_failed", zap.String("url", url), zap.Error(err))
		c.listener.OnError(c, err)
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.log.Info("socket_open", zap.Uint64("gen", gen), zap.String("url", url))
	c.listener.OnStateChange(c, StateOpen)
	c.listener.OnConnect(c)
	go c.readLoop(conn, gen)
}

// Disconnect moves to StateClosing synchronously and requests a normal
// closure. Safe to call in any state; when already closed it does nothing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	st := c.state
	if st == StateUnknown || st == StateClosed {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	conn := c.conn
	dialing := c.dialing
	cancel := c.cancelDial
	changed := st != StateClosing
	c.state = StateClosing
	c.mu.Unlock()

	if changed {
		c.listener.OnStateChange(c, StateClosing)
	}
	switch {
	case conn != nil:
		go func() {
			if err := conn.Close(CloseNormal, ""); err != nil {
				c.log.Debug("socket_close_request_failed", zap.Error(err))
			}
			c.completeClose(gen, CloseNormal, "", true)
		}()
	case dialing:
		// No transport yet; abort the dial. The dial goroutine reports
		// the close completion.
		cancel()
	default:
		// Nothing in flight to close.
		c.completeClose(gen, CloseAbnormal, "", false)
	}
}

// Send serializes the event and writes it as one text frame. Fire and
// forget: an event that cannot be encoded is dropped without any
// callback, a transport failure is reported via OnError and the event is
// lost. Send never blocks on delivery confirmation.
func (c *Client) Send(ev *assurancedto.Event) {
	data, err := assurancedto.EncodeFrame(ev)
	if err != nil {
		c.log.Warn("socket_event_drop_unencodable", zap.Error(err))
		return
	}

	c.mu.Lock()
	conn := c.conn
	gen := c.gen
	c.mu.Unlock()

	if conn == nil {
		c.listener.OnError(c, ErrNotConnected)
		return
	}
	if err := conn.Write(context.Background(), data); err != nil {
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		c.log.Warn("socket_send_failed", zap.Error(err))
		c.listener.OnError(c, err)
	}
}

// readLoop keeps the receive side armed until the connection dies. Text
// frames that decode become OnReceiveEvent; undecodable or non-text
// frames are dropped with a diagnostic only.
func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			stale := c.gen != gen
			closing := c.state == StateClosing
			c.mu.Unlock()
			if stale {
				return
			}
			var ce CloseError
			if errors.As(err, &ce) {
				c.completeClose(gen, ce.Code, ce.Reason, ce.Code != CloseAbnormal)
				return
			}
			if closing {
				// Our own close request tore the read down.
				c.completeClose(gen, CloseNormal, "", true)
				return
			}
			c.log.Warn("socket_receive_failed", zap.Error(err))
			c.listener.OnError(c, err)
			return
		}

		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		if typ != MessageText {
			c.log.Debug("socket_frame_dropped", zap.Int("frame_type", int(typ)), zap.Int("bytes", len(data)))
			continue
		}
		ev, derr := assurancedto.DecodeFrame(data)
		if derr != nil {
			c.log.Debug("socket_frame_undecodable", zap.Error(derr), zap.Int("bytes", len(data)))
			continue
		}
		c.listener.OnReceiveEvent(c, ev)
	}
}

// completeClose is the single path into StateClosed. It no-ops for
// superseded generations and for cycles that already completed, so
// OnDisconnect fires exactly once per cycle.
func (c *Client) completeClose(gen uint64, code int, reason string, wasClean bool) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.log.Info("socket_closed",
		zap.Int("close_code", code),
		zap.String("reason", reason),
		zap.Bool("was_clean", wasClean))
	c.listener.OnStateChange(c, StateClosed)
	c.listener.OnDisconnect(c, code, reason, wasClean)
}
