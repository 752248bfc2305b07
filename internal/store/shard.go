package store

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/metrics"
)

// Op tags a mutation for the write-ahead log. The durability package
// depends on store for this type, not the other way around, so store
// stays free to be tested and used without a WAL attached.
type Op uint8

const (
	OpSet Op = iota
	OpDel
	OpZAdd
	OpZRem
	// OpFlush carries no Key/Member/Value; replaying it clears the whole
	// store before continuing.
	OpFlush
)

// WALRecord is the shard-level view of a single mutation, independent of
// how the log chooses to serialize it on disk.
type WALRecord struct {
	Op        Op
	Key       string
	Value     []byte
	Member    string
	Score     float64
	ExpireAt  time.Time
	HasExpire bool
}

// WALAppender is the one method a shard needs from a write-ahead log. A
// nil WALAppender is valid — a shard with no recorder simply isn't
// durable, which the non-persistent test harness and PersistenceOn=false
// configuration both rely on.
type WALAppender interface {
	Append(shardID int, rec WALRecord) error
}

// Shard owns a disjoint slice of the keyspace: a plain map guarded by one
// mutex, a capacity quota enforced by cooperative eviction, and a
// background sweeper that reclaims expired keys. There is never a
// cross-shard lock — every command the dispatcher handles resolves to
// exactly one shard before Shard.mu is touched.
type Shard struct {
	mu   sync.RWMutex
	data map[string]*Entry

	id      int
	maxSize int
	policy  cluster.EvictionPolicy
	wal     WALAppender
	metrics *metrics.Metrics
	rnd     *rand.Rand

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// ShardStats is the atomic-counter snapshot STATS/INFO reports per shard.
type ShardStats struct {
	Size        int
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// Stats returns a point-in-time snapshot of this shard's counters.
func (s *Shard) Stats() ShardStats {
	return ShardStats{
		Size:        s.Len(),
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
	}
}

// NewShard builds an empty shard. maxSize <= 0 means unbounded (eviction
// never triggers). wal and m may both be nil.
func NewShard(id, maxSize int, policy cluster.EvictionPolicy, wal WALAppender, m *metrics.Metrics) *Shard {
	return &Shard{
		data:    make(map[string]*Entry),
		id:      id,
		maxSize: maxSize,
		policy:  policy,
		wal:     wal,
		metrics: m,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
}

// ID returns the shard's ordinal within the engine's Shards slice.
func (s *Shard) ID() int { return s.id }

func (s *Shard) appendWAL(rec WALRecord) error {
	if s.wal == nil {
		return nil
	}
	return s.wal.Append(s.id, rec)
}

// Get returns the string value for key, ErrNotFound if absent or expired,
// or ErrWrongType if it holds a sorted set.
func (s *Shard) Get(key string, now time.Time) ([]byte, error) {
	s.mu.Lock() // upgradeable: lazy expiry on read mutates the map
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		s.misses.Add(1)
		return nil, ErrNotFound
	}
	if e.Expired(now) {
		s.removeLocked(key, now)
		s.misses.Add(1)
		return nil, ErrNotFound
	}
	if e.Kind != KindString {
		return nil, ErrWrongType
	}
	e.touch(now)
	s.hits.Add(1)
	return e.Str, nil
}

// Set stores value under key. If ttl > 0 the key expires ttl after now; a
// zero ttl means no expiration.
func (s *Shard) Set(key string, value []byte, ttl time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		if err := s.evictIfFullLocked(now); err != nil {
			return err
		}
	}

	e := newStringEntry(value, now)
	if ttl > 0 {
		e.HasExpire = true
		e.ExpireAt = now.Add(ttl)
	}

	rec := WALRecord{Op: OpSet, Key: key, Value: value, HasExpire: e.HasExpire, ExpireAt: e.ExpireAt}
	if err := s.appendWAL(rec); err != nil {
		return err
	}
	s.data[key] = e
	s.reportSize()
	return nil
}

// Del removes key, reporting whether it was present (and unexpired).
func (s *Shard) Del(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return false, nil
	}
	now := time.Now()
	wasVisible := !e.Expired(now)
	if err := s.appendWAL(WALRecord{Op: OpDel, Key: key}); err != nil {
		return false, err
	}
	delete(s.data, key)
	s.reportSize()
	return wasVisible, nil
}

// Exists reports whether key holds a live, unexpired value.
func (s *Shard) Exists(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		s.misses.Add(1)
		return false
	}
	if e.Expired(now) {
		s.removeLocked(key, now)
		s.misses.Add(1)
		return false
	}
	s.hits.Add(1)
	return true
}

// Expire sets key's TTL. Returns false if key doesn't exist or is already
// expired.
func (s *Shard) Expire(key string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || e.Expired(now) {
		return false, nil
	}
	expireAt := now.Add(ttl)
	if err := s.appendWAL(WALRecord{Op: OpSet, Key: key, Value: e.Str, HasExpire: true, ExpireAt: expireAt}); err != nil {
		return false, err
	}
	e.HasExpire = true
	e.ExpireAt = expireAt
	return true, nil
}

// TTL returns the remaining time-to-live for key. ok is false if the key
// doesn't exist; hasExpire is false if the key exists but never expires.
func (s *Shard) TTL(key string, now time.Time) (ttl time.Duration, hasExpire, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.data[key]
	if !exists || e.Expired(now) {
		return 0, false, false
	}
	if !e.HasExpire {
		return 0, false, true
	}
	return e.ExpireAt.Sub(now), true, true
}

// zsetFor fetches the existing sorted set at key, enforcing WRONGTYPE
// against string keys. Returns ErrNotFound if key is absent or expired.
// Caller holds s.mu.
func (s *Shard) zsetFor(key string, now time.Time) (*Entry, error) {
	e, ok := s.data[key]
	if ok && e.Expired(now) {
		s.removeLocked(key, now)
		ok = false
	}
	if !ok {
		return nil, ErrNotFound
	}
	if e.Kind != KindZSet {
		return nil, ErrWrongType
	}
	return e, nil
}

// ZAdd upserts member's score in the sorted set at key, creating the key
// if necessary. Returns whether member was newly added.
func (s *Shard) ZAdd(key, member string, score float64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.zsetFor(key, now)
	creating := err == ErrNotFound
	if err != nil && !creating {
		return false, err
	}
	if creating {
		if err := s.evictIfFullLocked(now); err != nil {
			return false, err
		}
	}

	if err := s.appendWAL(WALRecord{Op: OpZAdd, Key: key, Member: member, Score: score}); err != nil {
		return false, err
	}

	if creating {
		e = newZSetEntry(now)
		s.data[key] = e
	}
	added := e.ZSet.Add(member, score)
	e.touch(now)
	s.reportSize()
	return added, nil
}

// ZRem removes member from the sorted set at key.
func (s *Shard) ZRem(key, member string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.zsetFor(key, now)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, present := e.ZSet.Score(member); !present {
		return false, nil
	}
	if err := s.appendWAL(WALRecord{Op: OpZRem, Key: key, Member: member}); err != nil {
		return false, err
	}
	removed := e.ZSet.Rem(member)
	return removed, nil
}

// ZScore, ZRank, ZRevRank, ZRange, ZRevRange, ZCard are read-only views
// over the sorted set at key; all return ErrWrongType if it holds a string.
// If key is absent, ZScore, ZRank and ZRevRank return ErrNotFound, ZCard
// returns 0, and ZRange and ZRevRange return an empty result.

func (s *Shard) ZScore(key, member string, now time.Time) (float64, error) {
	s.mu.Lock() // zsetFor may reclaim an expired key
	defer s.mu.Unlock()
	e, err := s.zsetFor(key, now)
	if err != nil {
		return 0, err
	}
	sc, ok := e.ZSet.Score(member)
	if !ok {
		return 0, ErrNotFound
	}
	return sc, nil
}

func (s *Shard) ZCard(key string, now time.Time) (int, error) {
	s.mu.Lock() // zsetFor may reclaim an expired key
	defer s.mu.Unlock()
	e, err := s.zsetFor(key, now)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return e.ZSet.Card(), nil
}

func (s *Shard) ZRank(key, member string, now time.Time) (int, error) {
	s.mu.Lock() // zsetFor may reclaim an expired key
	defer s.mu.Unlock()
	e, err := s.zsetFor(key, now)
	if err != nil {
		return -1, err
	}
	r, ok := e.ZSet.Rank(member)
	if !ok {
		return -1, ErrNotFound
	}
	return r, nil
}

func (s *Shard) ZRevRank(key, member string, now time.Time) (int, error) {
	s.mu.Lock() // zsetFor may reclaim an expired key
	defer s.mu.Unlock()
	e, err := s.zsetFor(key, now)
	if err != nil {
		return -1, err
	}
	r, ok := e.ZSet.RevRank(member)
	if !ok {
		return -1, ErrNotFound
	}
	return r, nil
}

func (s *Shard) ZRange(key string, start, stop int, now time.Time) ([]ZMember, error) {
	s.mu.Lock() // zsetFor may reclaim an expired key
	defer s.mu.Unlock()
	e, err := s.zsetFor(key, now)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.ZSet.Range(start, stop), nil
}

func (s *Shard) ZRevRange(key string, start, stop int, now time.Time) ([]ZMember, error) {
	s.mu.Lock() // zsetFor may reclaim an expired key
	defer s.mu.Unlock()
	e, err := s.zsetFor(key, now)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.ZSet.RevRange(start, stop), nil
}

// removeLocked deletes an already-expired entry and records an OpDel WAL
// record.
// Caller holds s.mu for writing.
func (s *Shard) removeLocked(key string, now time.Time) {
	_ = s.appendWAL(WALRecord{Op: OpDel, Key: key})
	delete(s.data, key)
	s.expirations.Add(1)
	s.metrics.IncExpiration(s.id)
}

func (s *Shard) reportSize() {
	s.metrics.SetShardSize(s.id, len(s.data))
}

// Len returns the current key count, including not-yet-swept expired
// entries.
func (s *Shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Keys returns a snapshot of all live (unexpired) keys.
func (s *Shard) Keys(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k, e := range s.data {
		if !e.Expired(now) {
			out = append(out, k)
		}
	}
	return out
}
