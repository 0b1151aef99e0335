package socket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

// HeaderProvider injects headers into the WebSocket handshake (session
// token, client identity). A nil provider means no extra headers.
type HeaderProvider func() map[string]string

// WSDialer opens real WebSocket connections. It is the default Dialer of
// a Client.
type WSDialer struct {
	dialTimeout    time.Duration
	headerProvider HeaderProvider
}

type WSDialerOption func(*WSDialer)

// WithDialTimeout bounds the handshake. Zero disables the bound.
func WithDialTimeout(d time.Duration) WSDialerOption {
	return func(w *WSDialer) { w.dialTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) WSDialerOption {
	return func(w *WSDialer) { w.headerProvider = h }
}

func NewWSDialer(opts ...WSDialerOption) *WSDialer {
	d := &WSDialer{dialTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.dialTimeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      d.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(assurancedto.MaxFrameBytes)
	return &wsConn{conn: conn}, nil
}

func (d *WSDialer) buildHeaders() http.Header {
	hdr := http.Header{}
	if d.headerProvider == nil {
		return hdr
	}
	for k, v := range d.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (MessageType, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return 0, nil, CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return 0, nil, err
	}
	switch typ {
	case websocket.MessageText:
		return MessageText, data, nil
	case websocket.MessageBinary:
		return MessageBinary, data, nil
	default:
		return MessageType(typ), data, nil
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
