// Package session bridges the socket client, the event bus and the
// persistence layers into one supervised assurance session: it forwards
// queued outbound events to the socket, republishes inbound events,
// journals traffic, and reconnects with exponential backoff when the
// socket dies underneath it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/assurekit/assurekit-go/internal/bus"
	"github.com/assurekit/assurekit-go/internal/journal"
	"github.com/assurekit/assurekit-go/internal/sessionlog"
	"github.com/assurekit/assurekit-go/internal/socket"
	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

// ErrRetriesExhausted is returned by Run when the reconnect budget is
// spent without re-establishing the socket.
var ErrRetriesExhausted = errors.New("session: reconnect retries exhausted")

// errSessionDone signals a deliberate session end inside Run's group.
var errSessionDone = errors.New("session: finished")

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second
	summaryWriteTimeout    = 3 * time.Second
	teardownTimeout        = 5 * time.Second
)

type Config struct {
	// SessionID names the session; empty means a generated UUID.
	SessionID string
	// SocketURL is the assurance service socket endpoint.
	SocketURL string
	// ClientID identifies this agent in the clientInfo greeting.
	ClientID string
	// VendorAllowlist limits which inbound vendors are processed.
	// Empty means every vendor is accepted.
	VendorAllowlist []string
	// MaxRetries caps reconnect attempts per outage; <= 0 means
	// unlimited.
	MaxRetries int
	// InitialInterval seeds the reconnect backoff.
	InitialInterval time.Duration
	// MaxInterval caps the reconnect backoff.
	MaxInterval time.Duration
}

// Session owns one socket client and implements its listener contract.
// Create it with New, drive it with Run, stop it with Close or by
// cancelling Run's context.
type Session struct {
	cfg Config
	bus *bus.Bus
	log *zap.Logger

	client  socket.Connectable
	journal *journal.Recorder
	store   *sessionlog.Store
	allow   map[string]struct{}

	socketOpts []socket.Option

	seq      atomic.Int64
	sent     atomic.Int64
	received atomic.Int64

	mu        sync.Mutex
	bo        *backoff.ExponentialBackOff
	retries   int
	closed    bool
	reconnect bool
	startedAt time.Time

	retryCh  chan struct{}
	doneCh   chan struct{}
	doneOnce sync.Once
}

var _ socket.Listener = (*Session)(nil)

type Option func(*Session)

// WithJournal records transmitted and received events in Redis.
func WithJournal(r *journal.Recorder) Option {
	return func(s *Session) { s.journal = r }
}

// WithStore persists a session summary on every close.
func WithStore(st *sessionlog.Store) Option {
	return func(s *Session) { s.store = st }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSocketOptions passes options through to the underlying socket
// client, e.g. a custom dialer.
func WithSocketOptions(opts ...socket.Option) Option {
	return func(s *Session) { s.socketOpts = append(s.socketOpts, opts...) }
}

func New(cfg Config, b *bus.Bus, opts ...Option) (*Session, error) {
	if b == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if strings.TrimSpace(cfg.SocketURL) == "" {
		return nil, fmt.Errorf("session socket URL is required")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		cfg.SessionID = uuid.New().String()
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = uuid.New().String()
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.Reset()

	s := &Session{
		cfg:     cfg,
		bus:     b,
		log:     zap.NewNop(),
		bo:      bo,
		retryCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}
	if len(cfg.VendorAllowlist) > 0 {
		s.allow = make(map[string]struct{}, len(cfg.VendorAllowlist))
		for _, v := range cfg.VendorAllowlist {
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" {
				s.allow[v] = struct{}{}
			}
		}
	}
	for _, opt := range opts {
		opt(s)
	}

	sockOpts := append([]socket.Option{socket.WithLogger(s.log.Named("socket"))}, s.socketOpts...)
	s.client = socket.NewClient(s, sockOpts...)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.SessionID }

// State reports the current socket state.
func (s *Session) State() socket.State { return s.client.State() }

// Counts reports how many events this session transmitted and accepted.
func (s *Session) Counts() (sent, received int64) {
	return s.sent.Load(), s.received.Load()
}

// Run connects the socket and supervises it until the session ends.
// It returns nil after a deliberate close or a clean normal closure
// from the service, ErrRetriesExhausted when reconnecting gives up,
// and the context error when ctx ends the session.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	sub := s.bus.SubscribeFunc(bus.OutboundQueued, s.handleOutbound)
	defer sub.Unsubscribe()

	s.log.Info("session_starting",
		zap.String("session_id", s.cfg.SessionID),
		zap.String("client_id", s.cfg.ClientID),
		zap.String("url", s.cfg.SocketURL))

	g, gctx := errgroup.WithContext(ctx)
	s.client.Connect(gctx, s.cfg.SocketURL)

	g.Go(func() error { return s.supervise(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.teardown()
		return gctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, errSessionDone) {
		return nil
	}
	return err
}

// supervise waits for reconnect requests, applies the backoff, and
// redials until the session finishes or the retry budget runs out.
func (s *Session) supervise(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.doneCh:
			return errSessionDone
		case <-s.retryCh:
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		s.retries++
		attempt := s.retries
		wait := s.bo.NextBackOff()
		s.mu.Unlock()

		if s.cfg.MaxRetries > 0 && attempt > s.cfg.MaxRetries {
			s.log.Error("session_retries_exhausted",
				zap.String("session_id", s.cfg.SessionID),
				zap.Int("attempts", attempt-1))
			s.finish()
			return ErrRetriesExhausted
		}

		s.log.Info("session_reconnect_scheduled",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.doneCh:
			timer.Stop()
			return errSessionDone
		case <-timer.C:
		}
		s.client.Connect(ctx, s.cfg.SocketURL)
	}
}

// Close ends the session permanently: the socket is disconnected and no
// reconnect follows. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	switch s.client.State() {
	case socket.StateConnecting, socket.StateOpen, socket.StateClosing:
		s.client.Disconnect()
	default:
		s.finish()
	}
}

func (s *Session) teardown() {
	s.Close()
	select {
	case <-s.doneCh:
	case <-time.After(teardownTimeout):
		s.log.Warn("session_teardown_timeout", zap.String("session_id", s.cfg.SessionID))
	}
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.doneCh) })
}

func (s *Session) signalRetry() {
	select {
	case s.retryCh <- struct{}{}:
	default:
	}
}

func (s *Session) handleOutbound(ctx context.Context, e bus.Event) error {
	oe, ok := e.(bus.OutboundEvent)
	if !ok {
		return fmt.Errorf("unexpected event on %s: %T", bus.OutboundQueued, e)
	}
	if oe.Event == nil {
		return nil
	}
	s.transmit(ctx, oe.Event)
	return nil
}

// transmit stamps the monotonic event number, hands the event to the
// socket and journals it. Delivery stays fire-and-forget.
func (s *Session) transmit(ctx context.Context, ev *assurancedto.Event) {
	ev.Number = s.seq.Add(1)
	s.client.Send(ev)
	s.sent.Add(1)
	if s.journal != nil {
		if err := s.journal.Record(ctx, s.cfg.SessionID, journal.DirectionOutbound, ev); err != nil {
			s.log.Warn("session_journal_write_failed", zap.Error(err))
		}
	}
}

func (s *Session) vendorAllowed(vendor string) bool {
	if len(s.allow) == 0 {
		return true
	}
	_, ok := s.allow[strings.ToLower(strings.TrimSpace(vendor))]
	return ok
}

func (s *Session) OnStateChange(_ *socket.Client, st socket.State) {
	s.log.Debug("session_socket_state", zap.String("state", st.String()))
	if st == socket.StateClosed {
		// OnDisconnect publishes the close together with its status.
		return
	}
	if err := s.bus.Publish(bus.NewSessionStateEvent(s.cfg.SessionID, st.String())); err != nil {
		s.log.Warn("session_state_publish_failed", zap.Error(err))
	}
}

func (s *Session) OnConnect(_ *socket.Client) {
	s.mu.Lock()
	s.retries = 0
	s.bo.Reset()
	s.mu.Unlock()

	s.log.Info("session_open", zap.String("session_id", s.cfg.SessionID))
	hello := assurancedto.NewControl(assurancedto.ControlClientInfo, map[string]any{
		"clientId":  s.cfg.ClientID,
		"sessionId": s.cfg.SessionID,
	})
	s.transmit(context.Background(), hello)
}

func (s *Session) OnReceiveEvent(_ *socket.Client, ev *assurancedto.Event) {
	if !s.vendorAllowed(ev.Vendor) {
		s.log.Debug("session_event_filtered",
			zap.String("vendor", ev.Vendor),
			zap.String("type", ev.Type))
		return
	}
	s.received.Add(1)
	if s.journal != nil {
		if err := s.journal.Record(context.Background(), s.cfg.SessionID, journal.DirectionInbound, ev); err != nil {
			s.log.Warn("session_journal_write_failed", zap.Error(err))
		}
	}
	if ev.ControlType() == assurancedto.ControlShutdown {
		s.log.Info("session_shutdown_requested", zap.String("event_id", ev.ID))
		s.Close()
		return
	}
	if err := s.bus.Publish(bus.NewInboundEvent(s.cfg.SessionID, ev)); err != nil {
		s.log.Warn("session_inbound_publish_failed", zap.Error(err))
	}
}

func (s *Session) OnDisconnect(_ *socket.Client, code int, reason string, wasClean bool) {
	s.mu.Lock()
	closed := s.closed
	forced := s.reconnect
	s.reconnect = false
	startedAt := s.startedAt
	s.mu.Unlock()

	s.log.Info("session_socket_closed",
		zap.String("session_id", s.cfg.SessionID),
		zap.Int("close_code", code),
		zap.String("reason", reason),
		zap.Bool("was_clean", wasClean))

	ev := bus.NewSessionStateEvent(s.cfg.SessionID, socket.StateClosed.String())
	ev.CloseCode = code
	ev.Reason = reason
	ev.WasClean = wasClean
	if err := s.bus.Publish(ev); err != nil {
		s.log.Warn("session_state_publish_failed", zap.Error(err))
	}

	s.writeSummary(startedAt, code, reason, wasClean)

	switch {
	case closed:
		s.finish()
	case !forced && code == socket.CloseNormal && wasClean:
		// The service ended the session; a clean normal closure is final.
		s.finish()
	default:
		s.signalRetry()
	}
}

func (s *Session) OnError(c *socket.Client, err error) {
	st := c.State()
	s.log.Warn("session_socket_error",
		zap.String("state", st.String()),
		zap.Error(err))

	sev := bus.NewSessionStateEvent(s.cfg.SessionID, st.String())
	sev.Err = err
	if perr := s.bus.Publish(sev); perr != nil {
		s.log.Warn("session_state_publish_failed", zap.Error(perr))
	}

	if errors.Is(err, socket.ErrNotConnected) {
		// A send raced a closed socket; no transport to recover.
		return
	}
	switch st {
	case socket.StateConnecting:
		// The dial failed; the state machine holds CONNECTING until the
		// next attempt.
		s.signalRetry()
	case socket.StateOpen:
		// The transport died under an open socket; cycle the connection
		// and let OnDisconnect schedule the redial.
		s.mu.Lock()
		closed := s.closed
		if !closed {
			s.reconnect = true
		}
		s.mu.Unlock()
		if !closed {
			c.Disconnect()
		}
	}
}

func (s *Session) writeSummary(startedAt time.Time, code int, reason string, wasClean bool) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), summaryWriteTimeout)
	defer cancel()
	sum := &sessionlog.Summary{
		SessionID:      s.cfg.SessionID,
		ClientID:       s.cfg.ClientID,
		StartedAt:      startedAt,
		EndedAt:        time.Now(),
		EventsSent:     s.sent.Load(),
		EventsReceived: s.received.Load(),
		CloseCode:      code,
		CloseReason:    reason,
		WasClean:       wasClean,
	}
	if err := s.store.SaveSummary(ctx, sum); err != nil {
		s.log.Warn("session_summary_save_failed", zap.Error(err))
	}
}
