package store

import (
	"strings"
	"testing"
	"time"

	"github.com/dreamware/meshkv/internal/cluster"
)

func TestEngineNumShardsRoundsUpToPowerOfTwo(t *testing.T) {
	e := NewEngine(10, 0, cluster.EvictionLRU, nil, nil)
	if e.NumShards() != 16 {
		t.Fatalf("NumShards() = %d, want 16", e.NumShards())
	}
}

func TestEngineSetGetDeterministicRouting(t *testing.T) {
	e := NewEngine(8, 0, cluster.EvictionLRU, nil, nil)
	if err := e.Set("user:1", []byte("alice"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := e.Get("user:1")
	if err != nil || string(v) != "alice" {
		t.Fatalf("Get = %q, %v", v, err)
	}

	// same key always resolves to the same shard
	a := e.shardFor("user:1")
	b := e.shardFor("user:1")
	if a != b {
		t.Fatal("shardFor is not deterministic for the same key")
	}
}

func TestEngineFlush(t *testing.T) {
	e := NewEngine(4, 0, cluster.EvictionLRU, nil, nil)
	_ = e.Set("a", []byte("1"), 0)
	_ = e.Set("b", []byte("2"), 0)

	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := e.Get("a"); err != ErrNotFound {
		t.Fatalf("expected a gone after Flush, got %v", err)
	}
	total := 0
	for _, n := range e.ShardSizes() {
		total += n
	}
	if total != 0 {
		t.Fatalf("expected 0 total keys after Flush, got %d", total)
	}
}

func TestEngineFlushAppendsOneWALRecord(t *testing.T) {
	wal := &recordingWAL{}
	e := NewEngine(4, 0, cluster.EvictionLRU, wal, nil)
	_ = e.Set("a", []byte("1"), 0)
	_ = e.Set("b", []byte("2"), 0)

	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	flushes := 0
	for _, rec := range wal.records {
		if rec.Op == OpFlush {
			flushes++
		}
	}
	if flushes != 1 {
		t.Fatalf("expected exactly 1 OpFlush record across the shared WAL, got %d", flushes)
	}
}

func TestEngineInfoReportsCounters(t *testing.T) {
	e := NewEngine(4, 0, cluster.EvictionLRU, nil, nil)
	_ = e.Set("a", []byte("1"), 0)
	if _, err := e.Get("a"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := e.Get("missing"); err != ErrNotFound {
		t.Fatalf("Get(missing): %v", err)
	}

	info := e.Info()
	for _, want := range []string{"shards:4", "keys:1", "hits:1", "misses:1", "hit_rate:0.5000"} {
		if !strings.Contains(info, want) {
			t.Fatalf("Info() = %q, expected to contain %q", info, want)
		}
	}
}

func TestEngineZSetDistribution(t *testing.T) {
	e := NewEngine(4, 0, cluster.EvictionLRU, nil, nil)
	if _, err := e.ZAdd("lb", "alice", 10); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	card, err := e.ZCard("lb")
	if err != nil || card != 1 {
		t.Fatalf("ZCard = %d, %v", card, err)
	}
	members, err := e.ZRange("lb", 0, -1)
	if err != nil || len(members) != 1 || members[0].Member != "alice" {
		t.Fatalf("ZRange = %+v, %v", members, err)
	}
}

func TestEngineStartStopSweepers(t *testing.T) {
	e := NewEngine(2, 0, cluster.EvictionLRU, nil, nil)
	_ = e.Set("k", []byte("v"), time.Millisecond)
	e.StartSweepers(5 * time.Millisecond)
	defer e.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		total := 0
		for _, n := range e.ShardSizes() {
			total += n
		}
		if total == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweepers did not reclaim expired key across engine")
}
