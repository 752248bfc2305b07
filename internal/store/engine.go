package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/metrics"
)

// Engine is the partitioned keyspace a single node serves: a fixed number
// of independently-locked Shards, addressed by hashing the key. Engine
// itself holds no lock — every method resolves straight to one shard and
// never touches two shards for the same call, so there is no cross-shard
// lock ordering to get wrong.
type Engine struct {
	shards  []*Shard
	mask    uint64
	metrics *metrics.Metrics
}

// NewEngine builds an Engine with numShards shards, each capped at
// maxSize entries under policy. numShards is rounded up to the next power
// of two so key→shard hashing can use a mask instead of a modulo. wal, if non-nil, is attached to every shard.
func NewEngine(numShards, maxSize int, policy cluster.EvictionPolicy, wal WALAppender, m *metrics.Metrics) *Engine {
	n := nextPowerOfTwo(numShards)
	shards := make([]*Shard, n)
	for i := range shards {
		shards[i] = NewShard(i, maxSize, policy, walForShard(wal, i), m)
	}
	return &Engine{shards: shards, mask: uint64(n - 1), metrics: m}
}

// walForShard adapts a node-wide WALAppender so each shard still calls
// Append with its own id; kept as a thin pass-through today but gives the
// durability layer a seam to shard the log file itself later without
// Engine callers changing.
func walForShard(wal WALAppender, _ int) WALAppender {
	return wal
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// NumShards returns the (power-of-two) shard count.
func (e *Engine) NumShards() int { return len(e.shards) }

// Shard returns the shard at position i, primarily for the durability
// layer's snapshot/recovery pass, which must iterate shards directly.
func (e *Engine) Shard(i int) *Shard { return e.shards[i] }

func (e *Engine) shardFor(key string) *Shard {
	h := xxhash.Sum64String(key)
	return e.shards[h&e.mask]
}

// StartSweepers starts every shard's TTL sweeper at interval.
func (e *Engine) StartSweepers(interval time.Duration) {
	for _, s := range e.shards {
		s.StartSweeper(interval)
	}
}

// Stop halts every shard's sweeper and waits for them to exit.
func (e *Engine) Stop() {
	for _, s := range e.shards {
		s.Stop()
	}
}

func (e *Engine) Get(key string) ([]byte, error) {
	return e.shardFor(key).Get(key, time.Now())
}

func (e *Engine) Set(key string, value []byte, ttl time.Duration) error {
	return e.shardFor(key).Set(key, value, ttl, time.Now())
}

func (e *Engine) Del(key string) (bool, error) {
	return e.shardFor(key).Del(key)
}

func (e *Engine) Exists(key string) bool {
	return e.shardFor(key).Exists(key, time.Now())
}

func (e *Engine) Expire(key string, ttl time.Duration) (bool, error) {
	return e.shardFor(key).Expire(key, ttl, time.Now())
}

func (e *Engine) TTL(key string) (time.Duration, bool, bool) {
	return e.shardFor(key).TTL(key, time.Now())
}

func (e *Engine) ZAdd(key, member string, score float64) (bool, error) {
	return e.shardFor(key).ZAdd(key, member, score, time.Now())
}

func (e *Engine) ZRem(key, member string) (bool, error) {
	return e.shardFor(key).ZRem(key, member, time.Now())
}

func (e *Engine) ZScore(key, member string) (float64, error) {
	return e.shardFor(key).ZScore(key, member, time.Now())
}

func (e *Engine) ZRank(key, member string) (int, error) {
	return e.shardFor(key).ZRank(key, member, time.Now())
}

func (e *Engine) ZRevRank(key, member string) (int, error) {
	return e.shardFor(key).ZRevRank(key, member, time.Now())
}

func (e *Engine) ZRange(key string, start, stop int) ([]ZMember, error) {
	return e.shardFor(key).ZRange(key, start, stop, time.Now())
}

func (e *Engine) ZRevRange(key string, start, stop int) ([]ZMember, error) {
	return e.shardFor(key).ZRevRange(key, start, stop, time.Now())
}

func (e *Engine) ZCard(key string) (int, error) {
	return e.shardFor(key).ZCard(key, time.Now())
}

// Flush drops every key on every shard, recording exactly one OpFlush
// record so a crash immediately after replays as a flush rather than
// resurrecting the removed keys. The record is appended through shard 0,
// since every shard shares the same underlying WAL (see walForShard).
func (e *Engine) Flush() error {
	if len(e.shards) > 0 {
		if err := e.shards[0].appendWAL(WALRecord{Op: OpFlush}); err != nil {
			return err
		}
	}
	e.clearAll()
	return nil
}

// clearAll wipes every shard's map without touching the WAL. Used by
// Flush (after a successful append) and by Restore, which replaces the
// engine's contents wholesale during startup recovery and must not write
// a spurious flush record to the log it is about to replay.
func (e *Engine) clearAll() {
	for _, s := range e.shards {
		s.mu.Lock()
		s.data = make(map[string]*Entry)
		s.mu.Unlock()
		s.reportSize()
	}
}

// Info returns a human-readable summary for the INFO/STATS command:
// shard count, total live keys, aggregate hit/miss/eviction/expiration
// counters, hit rate, and each shard's individual size.
func (e *Engine) Info() string {
	var total int
	var hits, misses, evictions, expirations int64
	sizes := make([]string, len(e.shards))
	for i, s := range e.shards {
		st := s.Stats()
		total += st.Size
		hits += st.Hits
		misses += st.Misses
		evictions += st.Evictions
		expirations += st.Expirations
		sizes[i] = fmt.Sprintf("shard%d:%d", i, st.Size)
	}

	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "shards:%d\r\n", len(e.shards))
	fmt.Fprintf(&b, "keys:%d\r\n", total)
	fmt.Fprintf(&b, "hits:%d\r\n", hits)
	fmt.Fprintf(&b, "misses:%d\r\n", misses)
	fmt.Fprintf(&b, "evictions:%d\r\n", evictions)
	fmt.Fprintf(&b, "expirations:%d\r\n", expirations)
	fmt.Fprintf(&b, "hit_rate:%.4f\r\n", hitRate)
	for _, line := range sizes {
		fmt.Fprintf(&b, "%s\r\n", line)
	}
	return b.String()
}

// ShardSizes returns the live key count per shard, in shard-index order.
func (e *Engine) ShardSizes() []int {
	out := make([]int, len(e.shards))
	for i, s := range e.shards {
		out[i] = s.Len()
	}
	return out
}
