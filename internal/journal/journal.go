package journal

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

// Direction of a journaled event relative to the agent.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Entry is stored as a JSON element of the session's journal list.
type Entry struct {
	Direction Direction           `json:"direction"`
	At        time.Time           `json:"at"`
	Event     *assurancedto.Event `json:"event"`
}

// Recorder keeps a per-session journal of transmitted and received events
// in Redis, with per-direction counters for the session summary.
type Recorder struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRecorder(rdb *redis.Client, ttl time.Duration) *Recorder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Recorder{rdb: rdb, ttl: ttl}
}

func (r *Recorder) keyJournal(sessionID string) string {
	return "assure:journal:" + strings.TrimSpace(sessionID)
}

func (r *Recorder) keyCounts(sessionID string) string {
	return r.keyJournal(sessionID) + ":counts"
}

func (r *Recorder) Record(ctx context.Context, sessionID string, dir Direction, ev *assurancedto.Event) error {
	if ev == nil || strings.TrimSpace(sessionID) == "" {
		return nil
	}
	raw, err := json.Marshal(Entry{Direction: dir, At: time.Now(), Event: ev})
	if err != nil {
		return err
	}
	key := r.keyJournal(sessionID)
	if err := r.rdb.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	_ = r.rdb.Expire(ctx, key, r.ttl).Err()

	counts := r.keyCounts(sessionID)
	if err := r.rdb.HIncrBy(ctx, counts, string(dir), 1).Err(); err != nil {
		return err
	}
	return r.rdb.Expire(ctx, counts, r.ttl).Err()
}

// Recent returns the newest n entries, oldest first. Undecodable elements
// are skipped.
func (r *Recorder) Recent(ctx context.Context, sessionID string, n int64) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := r.rdb.LRange(ctx, r.keyJournal(sessionID), -n, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Recorder) Len(ctx context.Context, sessionID string) (int64, error) {
	return r.rdb.LLen(ctx, r.keyJournal(sessionID)).Result()
}

// Counts returns how many events this session sent and received.
func (r *Recorder) Counts(ctx context.Context, sessionID string) (outbound, inbound int64, err error) {
	vals, err := r.rdb.HGetAll(ctx, r.keyCounts(sessionID)).Result()
	if err == redis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	parse := func(s string) int64 {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return parse(vals[string(DirectionOutbound)]), parse(vals[string(DirectionInbound)]), nil
}
