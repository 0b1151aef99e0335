package socket

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

const waitTimeout = 2 * time.Second

func newTestClient(conns ...*MockConn) (*Client, *RecordingListener, *MockDialer) {
	rec := &RecordingListener{}
	dialer := NewMockDialer(conns...)
	return NewClient(rec, WithDialer(dialer)), rec, dialer
}

func openClient(t *testing.T, c *Client, rec *RecordingListener) {
	t.Helper()
	c.Connect(context.Background(), "wss://assure.test/session/abc")
	if !WaitUntil(waitTimeout, func() bool { return rec.ConnectCount() == 1 }) {
		t.Fatalf("client did not open, state=%v", c.State())
	}
	if got := c.State(); got != StateOpen {
		t.Fatalf("state after open: got %v want %v", got, StateOpen)
	}
}

func waitDisconnects(t *testing.T, rec *RecordingListener, n int) {
	t.Helper()
	if !WaitUntil(waitTimeout, func() bool { return len(rec.Disconnects()) == n }) {
		t.Fatalf("disconnect callbacks: got %d want %d", len(rec.Disconnects()), n)
	}
}

func TestStateString(t *testing.T) {
	pairs := []struct {
		s    State
		want string
	}{
		{StateUnknown, "unknown"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{State(99), "invalid"},
	}
	for _, p := range pairs {
		if got := p.s.String(); got != p.want {
			t.Fatalf("State(%d).String(): got %q want %q", int(p.s), got, p.want)
		}
	}
}

func TestFullCycleStateOrder(t *testing.T) {
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)
	openClient(t, c, rec)

	c.Disconnect()
	waitDisconnects(t, rec, 1)

	want := []State{StateConnecting, StateOpen, StateClosing, StateClosed}
	got := rec.States()
	if len(got) != len(want) {
		t.Fatalf("state sequence: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state sequence: got %v want %v", got, want)
		}
	}
	if n := rec.ConnectCount(); n != 1 {
		t.Fatalf("connect callbacks: got %d want 1", n)
	}
	dis := rec.Disconnects()
	if dis[0] != (DisconnectRecord{Code: CloseNormal, Reason: "", WasClean: true}) {
		t.Fatalf("disconnect record: got %+v", dis[0])
	}
	if code, _, ok := conn.CloseRequested(); !ok || code != CloseNormal {
		t.Fatalf("transport close request: code=%d ok=%v", code, ok)
	}
}

func TestSendRoundTrip(t *testing.T) {
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)
	openClient(t, c, rec)

	var sent []*assurancedto.Event
	for i := 0; i < 5; i++ {
		ev := assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeGeneric, map[string]any{"seq": float64(i)})
		sent = append(sent, ev)
		c.Send(ev)
	}

	writes := conn.Writes()
	if len(writes) != len(sent) {
		t.Fatalf("outbound frames: got %d want %d", len(writes), len(sent))
	}
	for i, frame := range writes {
		ev, err := assurancedto.DecodeFrame(frame)
		if err != nil {
			t.Fatalf("frame %d not decodable: %v", i, err)
		}
		if ev.ID != sent[i].ID {
			t.Fatalf("frame %d out of order: got %s want %s", i, ev.ID, sent[i].ID)
		}
		if ev.Payload["seq"] != sent[i].Payload["seq"] {
			t.Fatalf("frame %d payload mismatch: %v vs %v", i, ev.Payload, sent[i].Payload)
		}
	}
	if errs := rec.Errors(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestSendUnencodableDropped(t *testing.T) {
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)
	openClient(t, c, rec)

	big := assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeBlob,
		map[string]any{"data": strings.Repeat("x", assurancedto.MaxFrameBytes)})
	c.Send(big)

	if n := len(conn.Writes()); n != 0 {
		t.Fatalf("expected no frames for unencodable event, got %d", n)
	}
	if errs := rec.Errors(); len(errs) != 0 {
		t.Fatalf("encode failure must not surface: %v", errs)
	}
}

func TestMalformedInboundDropped(t *testing.T) {
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)
	openClient(t, c, rec)

	conn.Deliver(MessageText, []byte("!!not base64!!"))
	conn.Deliver(MessageText, []byte(base64.StdEncoding.EncodeToString([]byte("not json"))))

	// A valid frame afterwards proves the loop kept running.
	valid := assurancedto.New(assurancedto.VendorService, assurancedto.TypeControl, map[string]any{"type": "ping"})
	frame, err := assurancedto.EncodeFrame(valid)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	conn.Deliver(MessageText, frame)

	if !WaitUntil(waitTimeout, func() bool { return len(rec.Events()) == 1 }) {
		t.Fatalf("events: got %d want 1", len(rec.Events()))
	}
	if got := rec.Events()[0].ID; got != valid.ID {
		t.Fatalf("delivered event: got %s want %s", got, valid.ID)
	}
	if errs := rec.Errors(); len(errs) != 0 {
		t.Fatalf("malformed frames must not surface as errors: %v", errs)
	}
}

func TestBinaryInboundDropped(t *testing.T) {
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)
	openClient(t, c, rec)

	decodable := assurancedto.New(assurancedto.VendorService, assurancedto.TypeGeneric, nil)
	frame, err := assurancedto.EncodeFrame(decodable)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	// Even a frame that would decode fine is dropped when it is binary.
	conn.Deliver(MessageBinary, frame)

	valid := assurancedto.New(assurancedto.VendorService, assurancedto.TypeGeneric, nil)
	textFrame, err := assurancedto.EncodeFrame(valid)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	conn.Deliver(MessageText, textFrame)

	if !WaitUntil(waitTimeout, func() bool { return len(rec.Events()) == 1 }) {
		t.Fatalf("events: got %d want 1", len(rec.Events()))
	}
	if got := rec.Events()[0].ID; got != valid.ID {
		t.Fatalf("binary frame leaked through: got %s", got)
	}
}

func TestDisconnectSafety(t *testing.T) {
	// Fresh client: disconnect is a no-op.
	c0, rec0, _ := newTestClient()
	c0.Disconnect()
	time.Sleep(20 * time.Millisecond)
	if got := c0.State(); got != StateUnknown {
		t.Fatalf("state after no-op disconnect: got %v", got)
	}
	if n := len(rec0.States()); n != 0 {
		t.Fatalf("expected no callbacks, got %d state changes", n)
	}

	// After a completed cycle a second disconnect changes nothing.
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)
	openClient(t, c, rec)
	c.Disconnect()
	waitDisconnects(t, rec, 1)

	c.Disconnect()
	time.Sleep(20 * time.Millisecond)
	if n := rec.ConnectCount(); n != 1 {
		t.Fatalf("connect callbacks after redundant disconnect: got %d", n)
	}
	if n := len(rec.Disconnects()); n != 1 {
		t.Fatalf("disconnect callbacks after redundant disconnect: got %d", n)
	}
	if n := len(rec.States()); n != 4 {
		t.Fatalf("state changes after redundant disconnect: got %d (%v)", n, rec.States())
	}
}

func TestOpenFailureKeepsConnecting(t *testing.T) {
	c, rec, dialer := newTestClient()
	dialer.SetDialError(errors.New("connection refused"))

	c.Connect(context.Background(), "wss://assure.test/session/abc")
	if !WaitUntil(waitTimeout, func() bool { return len(rec.Errors()) == 1 }) {
		t.Fatalf("errors: got %d want 1", len(rec.Errors()))
	}
	if got := c.State(); got != StateConnecting {
		t.Fatalf("state after open failure: got %v want %v", got, StateConnecting)
	}

	// Exactly one error per failure, and no lifecycle callbacks.
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.Errors()); n != 1 {
		t.Fatalf("errors after settling: got %d want 1", n)
	}
	if rec.ConnectCount() != 0 || len(rec.Disconnects()) != 0 {
		t.Fatalf("unexpected lifecycle callbacks: connects=%d disconnects=%d", rec.ConnectCount(), len(rec.Disconnects()))
	}
}

func TestOpenThenPeerClose(t *testing.T) {
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)

	c.Connect(context.Background(), "wss://assure.test/session/abc")
	if !WaitUntil(waitTimeout, func() bool { return rec.ConnectCount() == 1 }) {
		t.Fatalf("connect callbacks: got %d want 1", rec.ConnectCount())
	}
	if got := c.State(); got != StateOpen {
		t.Fatalf("state after open: got %v want %v", got, StateOpen)
	}

	conn.PeerClose(CloseNormal, "")
	waitDisconnects(t, rec, 1)
	dis := rec.Disconnects()[0]
	if dis.Code != CloseNormal || dis.Reason != "" || !dis.WasClean {
		t.Fatalf("disconnect record: got %+v want {1000 \"\" true}", dis)
	}
	if got := c.State(); got != StateClosed {
		t.Fatalf("state after peer close: got %v want %v", got, StateClosed)
	}
	if n := rec.ConnectCount(); n != 1 {
		t.Fatalf("connect callbacks: got %d want 1", n)
	}
}

func TestSendFailureKeepsState(t *testing.T) {
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)
	openClient(t, c, rec)

	conn.SetWriteErr(errors.New("broken pipe"))
	c.Send(assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeGeneric, nil))

	if n := len(rec.Errors()); n != 1 {
		t.Fatalf("errors: got %d want 1", n)
	}
	if got := c.State(); got != StateOpen {
		t.Fatalf("state after send failure: got %v want %v", got, StateOpen)
	}
	if n := len(rec.Disconnects()); n != 0 {
		t.Fatalf("send failure must not close: got %d disconnects", n)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	c, rec, _ := newTestClient()
	c.Send(assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeGeneric, nil))

	errs := rec.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrNotConnected) {
		t.Fatalf("errors: got %v want [%v]", errs, ErrNotConnected)
	}
	if got := c.State(); got != StateUnknown {
		t.Fatalf("state: got %v want %v", got, StateUnknown)
	}
}

func TestReceiveFailureKeepsState(t *testing.T) {
	conn := NewMockConn()
	c, rec, _ := newTestClient(conn)
	openClient(t, c, rec)

	conn.FailRead(errors.New("connection reset"))
	if !WaitUntil(waitTimeout, func() bool { return len(rec.Errors()) == 1 }) {
		t.Fatalf("errors: got %d want 1", len(rec.Errors()))
	}
	if got := c.State(); got != StateOpen {
		t.Fatalf("state after receive failure: got %v want %v", got, StateOpen)
	}
	if n := len(rec.Disconnects()); n != 0 {
		t.Fatalf("receive failure must not close: got %d disconnects", n)
	}
}

func TestConnectSupersedesPrevious(t *testing.T) {
	conn1 := NewMockConn()
	conn2 := NewMockConn()
	c, rec, _ := newTestClient(conn1, conn2)
	openClient(t, c, rec)

	c.Connect(context.Background(), "wss://assure.test/session/abc")
	if !WaitUntil(waitTimeout, func() bool { return rec.ConnectCount() == 2 }) {
		t.Fatalf("connect callbacks: got %d want 2", rec.ConnectCount())
	}
	if !WaitUntil(waitTimeout, func() bool { return conn1.Closed() }) {
		t.Fatalf("previous connection was not closed")
	}
	if code, _, ok := conn1.CloseRequested(); !ok || code != CloseGoingAway {
		t.Fatalf("previous connection close: code=%d ok=%v want %d", code, ok, CloseGoingAway)
	}

	// The superseded connection must not leak callbacks.
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.Disconnects()); n != 0 {
		t.Fatalf("stale disconnect leaked: %v", rec.Disconnects())
	}
	want := []State{StateConnecting, StateOpen, StateConnecting, StateOpen}
	got := rec.States()
	if len(got) != len(want) {
		t.Fatalf("state sequence: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state sequence: got %v want %v", got, want)
		}
	}
}

func TestDisconnectDuringDial(t *testing.T) {
	c, rec, dialer := newTestClient()
	dialer.Hold()

	c.Connect(context.Background(), "wss://assure.test/session/abc")
	if got := c.State(); got != StateConnecting {
		t.Fatalf("state after connect: got %v want %v", got, StateConnecting)
	}

	c.Disconnect()
	waitDisconnects(t, rec, 1)
	dis := rec.Disconnects()[0]
	if dis.Code != CloseAbnormal || dis.WasClean {
		t.Fatalf("aborted dial disconnect: got %+v want {1006 \"\" false}", dis)
	}
	if got := c.State(); got != StateClosed {
		t.Fatalf("state: got %v want %v", got, StateClosed)
	}
	if n := rec.ConnectCount(); n != 0 {
		t.Fatalf("connect callbacks: got %d want 0", n)
	}
}

func TestDisconnectAfterOpenFailure(t *testing.T) {
	c, rec, dialer := newTestClient()
	dialer.SetDialError(errors.New("connection refused"))

	c.Connect(context.Background(), "wss://assure.test/session/abc")
	if !WaitUntil(waitTimeout, func() bool { return len(rec.Errors()) == 1 }) {
		t.Fatalf("errors: got %d want 1", len(rec.Errors()))
	}

	c.Disconnect()
	waitDisconnects(t, rec, 1)
	dis := rec.Disconnects()[0]
	if dis.Code != CloseAbnormal || dis.WasClean {
		t.Fatalf("disconnect after failed open: got %+v want {1006 \"\" false}", dis)
	}
	if got := c.State(); got != StateClosed {
		t.Fatalf("state: got %v want %v", got, StateClosed)
	}
}

func TestRepeatedCycles(t *testing.T) {
	conn1 := NewMockConn()
	conn2 := NewMockConn()
	c, rec, _ := newTestClient(conn1, conn2)

	ctx := context.Background()
	c.Connect(ctx, "wss://assure.test/session/abc")
	if !WaitUntil(waitTimeout, func() bool { return rec.ConnectCount() == 1 }) {
		t.Fatalf("first open: connects=%d", rec.ConnectCount())
	}
	c.Disconnect()
	waitDisconnects(t, rec, 1)

	c.Connect(ctx, "wss://assure.test/session/abc")
	if !WaitUntil(waitTimeout, func() bool { return rec.ConnectCount() == 2 }) {
		t.Fatalf("second open: connects=%d", rec.ConnectCount())
	}
	c.Disconnect()
	waitDisconnects(t, rec, 2)

	want := []State{
		StateConnecting, StateOpen, StateClosing, StateClosed,
		StateConnecting, StateOpen, StateClosing, StateClosed,
	}
	got := rec.States()
	if len(got) != len(want) {
		t.Fatalf("state sequence: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state sequence: got %v want %v", got, want)
		}
	}
	for _, dis := range rec.Disconnects() {
		if dis.Code != CloseNormal || !dis.WasClean {
			t.Fatalf("cycle disconnect record: got %+v", dis)
		}
	}
}
