package socket

import (
	"context"
	"errors"
	"sync"
)

type mockFrame struct {
	typ  MessageType
	data []byte
}

// MockConn is an in-memory Conn for tests. Inbound traffic is injected
// with Deliver/PeerClose/FailRead, outbound writes are recorded, and a
// close from either side unblocks a pending Read.
type MockConn struct {
	frames    chan mockFrame
	readErrs  chan error
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	writes      [][]byte
	writeErr    error
	closed      bool
	closeErr    error
	reqCode     int
	reqReason   string
	reqReceived bool
}

func NewMockConn() *MockConn {
	return &MockConn{
		frames:   make(chan mockFrame, 16),
		readErrs: make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (m *MockConn) Read(ctx context.Context) (MessageType, []byte, error) {
	// Drain queued frames before reporting a close, so nothing delivered
	// ahead of the close gets lost.
	select {
	case f := <-m.frames:
		return f.typ, f.data, nil
	default:
	}
	select {
	case f := <-m.frames:
		return f.typ, f.data, nil
	case err := <-m.readErrs:
		return 0, nil, err
	case <-m.done:
		m.mu.Lock()
		err := m.closeErr
		m.mu.Unlock()
		return 0, nil, err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (m *MockConn) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.closed {
		return errors.New("socket: mock conn is closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.writes = append(m.writes, buf)
	return nil
}

func (m *MockConn) Close(code int, reason string) error {
	m.mu.Lock()
	already := m.closed
	m.closed = true
	if !already {
		m.reqCode = code
		m.reqReason = reason
		m.reqReceived = true
		if m.closeErr == nil {
			m.closeErr = CloseError{Code: code, Reason: reason}
		}
	}
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.done) })
	if already {
		return errors.New("socket: mock conn already closed")
	}
	return nil
}

// Deliver queues one inbound frame.
func (m *MockConn) Deliver(typ MessageType, data []byte) {
	m.frames <- mockFrame{typ: typ, data: data}
}

// PeerClose simulates the remote side completing a close handshake:
// the next Read returns a CloseError with the given status.
func (m *MockConn) PeerClose(code int, reason string) {
	m.mu.Lock()
	m.closed = true
	if m.closeErr == nil {
		m.closeErr = CloseError{Code: code, Reason: reason}
	}
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.done) })
}

// FailRead makes the next Read return err as a transport failure.
func (m *MockConn) FailRead(err error) {
	m.readErrs <- err
}

// SetWriteErr forces subsequent writes to fail with err.
func (m *MockConn) SetWriteErr(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Writes returns a copy of the recorded outbound frames.
func (m *MockConn) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// CloseRequested reports the status the local side closed with, if any.
func (m *MockConn) CloseRequested() (code int, reason string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqCode, m.reqReason, m.reqReceived
}

// Closed reports whether either side closed the connection.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDialer hands scripted MockConns to the client in order, minting
// fresh ones once the script runs out.
type MockDialer struct {
	mu     sync.Mutex
	queue  []*MockConn
	dialed []*MockConn
	urls   []string
	err    error
	gate   chan struct{}
}

func NewMockDialer(conns ...*MockConn) *MockDialer {
	return &MockDialer{queue: conns}
}

func (d *MockDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	var conn *MockConn
	if len(d.queue) > 0 {
		conn = d.queue[0]
		d.queue = d.queue[1:]
	} else {
		conn = NewMockConn()
	}
	d.dialed = append(d.dialed, conn)
	return conn, nil
}

// SetDialError makes every subsequent Dial fail with err; nil restores
// normal dialing.
func (d *MockDialer) SetDialError(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Hold blocks subsequent Dial calls until Release, keeping a dial
// observable mid-flight.
func (d *MockDialer) Hold() {
	d.mu.Lock()
	d.gate = make(chan struct{})
	d.mu.Unlock()
}

func (d *MockDialer) Release() {
	d.mu.Lock()
	gate := d.gate
	d.gate = nil
	d.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Dialed returns the connections handed out so far.
func (d *MockDialer) Dialed() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockConn, len(d.dialed))
	copy(out, d.dialed)
	return out
}

// URLs returns the addresses dialed so far.
func (d *MockDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}
