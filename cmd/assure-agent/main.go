package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/assurekit/assurekit-go/internal/bus"
	appcfg "github.com/assurekit/assurekit-go/internal/config"
	"github.com/assurekit/assurekit-go/internal/control"
	"github.com/assurekit/assurekit-go/internal/journal"
	"github.com/assurekit/assurekit-go/internal/obslog"
	"github.com/assurekit/assurekit-go/internal/session"
	"github.com/assurekit/assurekit-go/internal/sessionlog"
	"github.com/assurekit/assurekit-go/internal/socket"
	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

var (
	errSignal       = errors.New("shutdown signal")
	errSessionEnded = errors.New("session ended")
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.APIKey != "" {
			h["X-API-Key"] = cfg.APIKey
		}
		if cfg.ClientID != "" {
			h["X-Client-Id"] = cfg.ClientID
		}
		return h
	}

	var ctl *control.Client
	if cfg.ControlURL != "" {
		ctl = control.NewClient(cfg.ControlURL,
			control.WithTimeout(cfg.HTTPTimeout),
			control.WithHeaderProvider(headers))
	}

	// A configured socket URL wins; otherwise ask the control plane for a
	// fresh session.
	sessionID := ""
	socketURL := cfg.SessionURL
	createdSession := false
	if socketURL == "" && ctl != nil {
		cctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		info, cerr := ctl.CreateSession(cctx, control.CreateSessionRequest{
			ClientID: cfg.ClientID,
			AppName:  "assure-agent",
		})
		cancel()
		if cerr != nil {
			log.Fatalf("create session error: %v", cerr)
		}
		sessionID = info.SessionID
		socketURL = info.SocketURL
		createdSession = true
		logger.Info("session_created",
			zap.String("session_id", info.SessionID),
			zap.String("socket_url", info.SocketURL))
	}
	if socketURL == "" {
		log.Fatal("no session socket URL available; set ASSURE_SESSION_URL or ASSURE_CONTROL_URL")
	}

	b := bus.New(logger, 256)

	sessOpts := []session.Option{
		session.WithLogger(logger.Named("session")),
		session.WithSocketOptions(socket.WithDialer(socket.NewWSDialer(
			socket.WithDialTimeout(cfg.HTTPTimeout),
			socket.WithHeaderProvider(headers)))),
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if perr := rdb.Ping(pctx).Err(); perr != nil {
			logger.Warn("redis_unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(perr))
		}
		pcancel()
		sessOpts = append(sessOpts, session.WithJournal(journal.NewRecorder(rdb, cfg.JournalTTL)))
	}

	var store *sessionlog.Store
	if cfg.DatabaseURL != "" {
		store, err = sessionlog.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("session store init error: %v", err)
		}
		sessOpts = append(sessOpts, session.WithStore(store))
	}

	sess, err := session.New(session.Config{
		SessionID:       sessionID,
		SocketURL:       socketURL,
		ClientID:        cfg.ClientID,
		VendorAllowlist: cfg.VendorAllowlist,
		MaxRetries:      cfg.ReconnectMaxRetries,
		MaxInterval:     cfg.ReconnectMaxInterval,
	}, b, sessOpts...)
	if err != nil {
		log.Fatalf("session init error: %v", err)
	}

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if rerr := sess.Run(gctx); rerr != nil {
			return rerr
		}
		// A nil return means the service ended the session; unwind the
		// rest of the group.
		return errSessionEnded
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.Info("shutdown_signal", zap.String("signal", sig.String()))
			return errSignal
		case <-gctx.Done():
			return nil
		}
	})
	if cfg.StatusInterval > 0 {
		g.Go(func() error {
			return statusLoop(gctx, b, sess, cfg.StatusInterval, logger)
		})
	}

	runErr := g.Wait()

	if ctl != nil && createdSession {
		ectx, ecancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		if eerr := ctl.EndSession(ectx, sessionID); eerr != nil {
			logger.Warn("end_session_failed", zap.Error(eerr))
		}
		ecancel()
	}
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = b.Shutdown(sctx)
	scancel()
	if store != nil {
		_ = store.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}

	switch {
	case runErr == nil,
		errors.Is(runErr, errSignal),
		errors.Is(runErr, errSessionEnded),
		errors.Is(runErr, context.Canceled):
		logger.Info("agent_stopped")
	default:
		logger.Error("agent_exit", zap.Error(runErr))
		obslog.Sync()
		os.Exit(1)
	}
}

// statusLoop periodically reports the session and, while the socket is
// open, queues a status event for the service.
func statusLoop(ctx context.Context, b *bus.Bus, sess *session.Session, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sent, received := sess.Counts()
			st := sess.State()
			logger.Info("agent_status",
				zap.String("session_id", sess.ID()),
				zap.String("state", st.String()),
				zap.Int64("events_sent", sent),
				zap.Int64("events_received", received))
			if st != socket.StateOpen {
				continue
			}
			ev := assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeLog, map[string]any{
				"message":        "agent status",
				"state":          st.String(),
				"eventsSent":     sent,
				"eventsReceived": received,
			})
			if err := b.Publish(bus.NewOutboundEvent(ev)); err != nil {
				logger.Warn("status_publish_failed", zap.Error(err))
			}
		}
	}
}
