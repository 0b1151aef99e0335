package socket

import (
	"sync"
	"time"

	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

// DisconnectRecord is one OnDisconnect callback captured by a
// RecordingListener.
type DisconnectRecord struct {
	Code     int
	Reason   string
	WasClean bool
}

// RecordingListener captures every callback for later assertions. The
// zero value is ready to use; all accessors return copies and are safe
// for concurrent use.
type RecordingListener struct {
	mu          sync.Mutex
	states      []State
	connects    int
	disconnects []DisconnectRecord
	events      []*assurancedto.Event
	errs        []error
}

func (r *RecordingListener) OnStateChange(_ *Client, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *RecordingListener) OnConnect(*Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
}

func (r *RecordingListener) OnDisconnect(_ *Client, code int, reason string, wasClean bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, DisconnectRecord{Code: code, Reason: reason, WasClean: wasClean})
}

func (r *RecordingListener) OnReceiveEvent(_ *Client, ev *assurancedto.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *RecordingListener) OnError(_ *Client, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *RecordingListener) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func (r *RecordingListener) ConnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

func (r *RecordingListener) Disconnects() []DisconnectRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DisconnectRecord, len(r.disconnects))
	copy(out, r.disconnects)
	return out
}

func (r *RecordingListener) Events() []*assurancedto.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*assurancedto.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *RecordingListener) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

// WaitUntil polls cond until it holds or the timeout elapses. Meant for
// asserting on callbacks that arrive from background goroutines.
func WaitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
