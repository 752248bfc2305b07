package store

import "time"

// DumpEntry is the engine's key/value in a form the durability package can
// serialize without reaching into Shard's unexported fields.
type DumpEntry struct {
	Key       string
	Kind      Kind
	Str       []byte
	HasExpire bool
	ExpireAt  time.Time
	ZMembers  []ZMember
}

// Dump returns a consistent-enough snapshot of every live entry across all
// shards, each shard copied under its own read lock.
func (e *Engine) Dump() []DumpEntry {
	now := time.Now()
	var out []DumpEntry
	for _, s := range e.shards {
		s.mu.RLock()
		for k, entry := range s.data {
			if entry.Expired(now) {
				continue
			}
			d := DumpEntry{Key: k, Kind: entry.Kind, HasExpire: entry.HasExpire, ExpireAt: entry.ExpireAt}
			switch entry.Kind {
			case KindString:
				d.Str = append([]byte(nil), entry.Str...)
			case KindZSet:
				d.ZMembers = entry.ZSet.Range(0, -1)
			}
			out = append(out, d)
		}
		s.mu.RUnlock()
	}
	return out
}

// Restore replaces the engine's contents with entries, preserving each
// entry's TTL as an absolute ExpireAt (the WAL replay that follows a
// snapshot load carries on from exactly this state).
func (e *Engine) Restore(entries []DumpEntry) {
	e.clearAll()
	now := time.Now()
	for _, d := range entries {
		sh := e.shardFor(d.Key)
		sh.mu.Lock()
		switch d.Kind {
		case KindString:
			en := newStringEntry(d.Str, now)
			en.HasExpire = d.HasExpire
			en.ExpireAt = d.ExpireAt
			sh.data[d.Key] = en
		case KindZSet:
			en := newZSetEntry(now)
			en.HasExpire = d.HasExpire
			en.ExpireAt = d.ExpireAt
			for _, m := range d.ZMembers {
				en.ZSet.Add(m.Member, m.Score)
			}
			sh.data[d.Key] = en
		}
		sh.mu.Unlock()
		sh.reportSize()
	}
}

// ApplyWALRecord installs a single replayed WAL record directly, bypassing
// re-append (the recovery path must not write back to the log it is
// reading from).
func (e *Engine) ApplyWALRecord(rec WALRecord) {
	if rec.Op == OpFlush {
		e.clearAll()
		return
	}

	sh := e.shardFor(rec.Key)
	now := time.Now()
	sh.mu.Lock()
	defer sh.mu.Unlock()

	switch rec.Op {
	case OpSet:
		en := newStringEntry(rec.Value, now)
		en.HasExpire = rec.HasExpire
		en.ExpireAt = rec.ExpireAt
		sh.data[rec.Key] = en
	case OpDel:
		delete(sh.data, rec.Key)
	case OpZAdd:
		en, ok := sh.data[rec.Key]
		if !ok || en.Kind != KindZSet {
			en = newZSetEntry(now)
			sh.data[rec.Key] = en
		}
		en.ZSet.Add(rec.Member, rec.Score)
	case OpZRem:
		if en, ok := sh.data[rec.Key]; ok && en.Kind == KindZSet {
			en.ZSet.Rem(rec.Member)
			if en.ZSet.Card() == 0 {
				delete(sh.data, rec.Key)
			}
		}
	}
}
