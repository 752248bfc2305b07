package store

import (
	"time"

	"github.com/dreamware/meshkv/internal/cluster"
)

// evictIfFullLocked evicts exactly one entry if the shard is at capacity,
// making room for the insert the caller is about to perform. Caller holds
// s.mu for writing. Cooperative eviction (evict-one-before-insert) keeps
// the shard's size bounded without a separate background evictor racing
// the write path.
func (s *Shard) evictIfFullLocked(now time.Time) error {
	if s.maxSize <= 0 || len(s.data) < s.maxSize {
		return nil
	}

	victim, ok := s.chooseVictimLocked(now)
	if !ok {
		// No victim was found; let the insert proceed over quota rather
		// than reject the write outright.
		return nil
	}
	if err := s.appendWAL(WALRecord{Op: OpDel, Key: victim}); err != nil {
		return err
	}
	delete(s.data, victim)
	s.evictions.Add(1)
	s.metrics.IncEviction(s.id)
	return nil
}

// chooseVictimLocked selects the key to evict under the shard's configured
// policy. Caller holds s.mu.
func (s *Shard) chooseVictimLocked(now time.Time) (string, bool) {
	if len(s.data) == 0 {
		return "", false
	}

	switch s.policy {
	case cluster.EvictionLFU:
		return s.leastOf(func(k string, e *Entry) float64 { return float64(e.AccessCount) })
	case cluster.EvictionRandom:
		return s.randomKey()
	case cluster.EvictionTTL:
		if k, ok := s.soonestExpiring(now); ok {
			return k, true
		}
		// No key carries a TTL: fall back to LRU so eviction still makes
		// progress.
		return s.leastOf(func(k string, e *Entry) float64 { return float64(e.LastAccess.UnixNano()) })
	case cluster.EvictionLRU:
		fallthrough
	default:
		return s.leastOf(func(k string, e *Entry) float64 { return float64(e.LastAccess.UnixNano()) })
	}
}

// leastOf scans the shard for the key minimizing score(k, e). O(n) in the
// shard's size — acceptable because it only runs once per insert that
// would exceed quota, not on every operation.
func (s *Shard) leastOf(score func(string, *Entry) float64) (string, bool) {
	var best string
	var bestScore float64
	first := true
	for k, e := range s.data {
		sc := score(k, e)
		if first || sc < bestScore {
			best, bestScore, first = k, sc, false
		}
	}
	return best, !first
}

func (s *Shard) soonestExpiring(now time.Time) (string, bool) {
	var best string
	var bestAt time.Time
	found := false
	for k, e := range s.data {
		if !e.HasExpire {
			continue
		}
		if !found || e.ExpireAt.Before(bestAt) {
			best, bestAt, found = k, e.ExpireAt, true
		}
	}
	return best, found
}

func (s *Shard) randomKey() (string, bool) {
	n := s.rnd.Intn(len(s.data))
	i := 0
	for k := range s.data {
		if i == n {
			return k, true
		}
		i++
	}
	return "", false
}

// StartSweeper launches a background goroutine that proactively removes
// expired keys every interval, so TTLs are reclaimed even on keys nobody
// reads again. Stop must be called exactly once to release it.
func (s *Shard) StartSweeper(interval time.Duration) {
	if s.stopSweep != nil {
		return // already running
	}
	s.stopSweep = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopSweep:
				return
			case <-ticker.C:
				s.sweepExpired()
			}
		}
	}()
}

// sweepExpired removes every currently-expired key in one locked pass.
func (s *Shard) sweepExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.data {
		if e.Expired(now) {
			s.removeLocked(k, now)
		}
	}
}

// Stop halts the sweeper goroutine, if one was started, and waits for it
// to exit.
func (s *Shard) Stop() {
	if s.stopSweep == nil {
		return
	}
	close(s.stopSweep)
	<-s.sweepDone
}
