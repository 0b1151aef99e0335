package journal

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

func newTestRecorder(t *testing.T) (*Recorder, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRecorder(rdb, time.Hour), mr
}

func TestRecordAndRecent(t *testing.T) {
	r, mr := newTestRecorder(t)
	ctx := context.Background()

	first := assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeGeneric, map[string]any{"n": float64(1)})
	second := assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeLog, map[string]any{"n": float64(2)})
	inbound := assurancedto.New(assurancedto.VendorService, assurancedto.TypeControl, map[string]any{"type": "ping"})

	if err := r.Record(ctx, "s1", DirectionOutbound, first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record(ctx, "s1", DirectionOutbound, second); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record(ctx, "s1", DirectionInbound, inbound); err != nil {
		t.Fatalf("Record: %v", err)
	}

	n, err := r.Len(ctx, "s1")
	if err != nil || n != 3 {
		t.Fatalf("Len: got %d err=%v", n, err)
	}

	entries, err := r.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent: got %d entries", len(entries))
	}
	if entries[0].Event.ID != second.ID || entries[0].Direction != DirectionOutbound {
		t.Fatalf("entry 0 mismatch: %+v", entries[0])
	}
	if entries[1].Event.ID != inbound.ID || entries[1].Direction != DirectionInbound {
		t.Fatalf("entry 1 mismatch: %+v", entries[1])
	}

	if ttl := mr.TTL("assure:journal:s1"); ttl <= 0 {
		t.Fatalf("journal key has no TTL")
	}
}

func TestCounts(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeGeneric, nil)
		if err := r.Record(ctx, "s2", DirectionOutbound, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	ev := assurancedto.New(assurancedto.VendorService, assurancedto.TypeGeneric, nil)
	if err := r.Record(ctx, "s2", DirectionInbound, ev); err != nil {
		t.Fatalf("Record: %v", err)
	}

	out, in, err := r.Counts(ctx, "s2")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if out != 3 || in != 1 {
		t.Fatalf("Counts: got out=%d in=%d", out, in)
	}

	// Unknown sessions count as zero.
	out, in, err = r.Counts(ctx, "nope")
	if err != nil || out != 0 || in != 0 {
		t.Fatalf("Counts for unknown session: out=%d in=%d err=%v", out, in, err)
	}
}

func TestRecordIgnoresEmpty(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	if err := r.Record(ctx, "s3", DirectionOutbound, nil); err != nil {
		t.Fatalf("nil event: %v", err)
	}
	if err := r.Record(ctx, "", DirectionOutbound, assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeGeneric, nil)); err != nil {
		t.Fatalf("empty session: %v", err)
	}
	if n, _ := r.Len(ctx, "s3"); n != 0 {
		t.Fatalf("expected empty journal, got %d", n)
	}
}
