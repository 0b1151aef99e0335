package sessionlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Summary is the persisted record of one session socket cycle.
type Summary struct {
	SessionID      string
	ClientID       string
	StartedAt      time.Time
	EndedAt        time.Time
	EventsSent     int64
	EventsReceived int64
	CloseCode      int
	CloseReason    string
	WasClean       bool
}

// Store persists session summaries to Postgres. Writes upsert on
// session_id so reconnect cycles update the same row.
type Store struct {
	db *sql.DB
}

func New(databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) SaveSummary(ctx context.Context, sum *Summary) error {
	if s == nil || s.db == nil || sum == nil {
		return nil
	}
	if strings.TrimSpace(sum.SessionID) == "" {
		return fmt.Errorf("sessionlog: summary without session id")
	}

	duration := sum.EndedAt.Sub(sum.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO assure_sessions (
	    session_id, client_id,
	    started_at, ended_at, duration_ms,
	    events_sent, events_received,
	    close_code, close_reason, was_clean
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	  ) ON CONFLICT (session_id) DO UPDATE SET
	    client_id=EXCLUDED.client_id,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms,
	    events_sent=EXCLUDED.events_sent,
	    events_received=EXCLUDED.events_received,
	    close_code=EXCLUDED.close_code,
	    close_reason=EXCLUDED.close_reason,
	    was_clean=EXCLUDED.was_clean`

	_, err := s.db.ExecContext(ctx, q,
		sum.SessionID, sum.ClientID,
		sum.StartedAt, sum.EndedAt, duration,
		sum.EventsSent, sum.EventsReceived,
		sum.CloseCode, strings.TrimSpace(sum.CloseReason), sum.WasClean,
	)
	return err
}
