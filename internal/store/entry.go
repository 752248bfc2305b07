package store

import "time"

// Kind tags the value a key currently holds. meshkv implements the string
// and sorted-set value types; lists/sets/hashes are out of scope.
type Kind uint8

const (
	KindString Kind = iota
	KindZSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindZSet:
		return "zset"
	default:
		return "unknown"
	}
}

// Entry is the value a single key maps to, plus the bookkeeping fields
// TTL, eviction, and STATS need. Exactly one of Str/ZSet is meaningful,
// selected by Kind — a tagged sum rather than an interface,
// note to replace dynamic-dispatch-over-value-kinds with a match on an
// explicit tag.
type Entry struct {
	// ExpireAt is the absolute expiration instant. HasExpire false means
	// the key never expires.
	ExpireAt time.Time

	ZSet *SortedSet

	CreatedAt  time.Time
	LastAccess time.Time
	Str        []byte
	AccessCount uint64
	Kind        Kind
	HasExpire   bool
}

// Expired reports whether e is no longer visible at instant now. An entry
// is visible iff expiration is unset or now is strictly less than the
// expiration.
func (e *Entry) Expired(now time.Time) bool {
	return e.HasExpire && !now.Before(e.ExpireAt)
}

// touch records an access for LRU/LFU bookkeeping and STATS.
func (e *Entry) touch(now time.Time) {
	e.LastAccess = now
	e.AccessCount++
}

// newStringEntry builds a fresh string entry at instant now.
func newStringEntry(value []byte, now time.Time) *Entry {
	return &Entry{
		Kind:       KindString,
		Str:        value,
		CreatedAt:  now,
		LastAccess: now,
	}
}

// newZSetEntry builds a fresh, empty sorted-set entry at instant now.
func newZSetEntry(now time.Time) *Entry {
	return &Entry{
		Kind:       KindZSet,
		ZSet:       newSortedSet(),
		CreatedAt:  now,
		LastAccess: now,
	}
}
