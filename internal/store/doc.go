// Package store implements meshkv's partitioned in-memory keyspace: the
// string and sorted-set value types, TTL, eviction, and the per-shard
// single-writer partitioning that the WAL and command dispatcher sit on
// top of.
//
// # Overview
//
// The keyspace is split into a fixed number of shards by hashing the key
// (xxHash-64, see Engine.shardFor). Each shard owns a plain Go map guarded
// by a mutex held only for the operation's critical section — there is no
// cross-shard lock, ever. Reads that may reclaim an expired key (GET,
// EXISTS, the sorted-set reads) take the write lock, as do writes; TTL, Len
// and Keys take the read lock. Writes append to the WAL before the map
// mutation becomes visible, so WAL order always matches apply order.
//
//	┌─────────────────────────────────────────────┐
//	│                  Engine                      │
//	│  ┌────────┐  ┌────────┐        ┌────────┐   │
//	│  │Shard 0 │  │Shard 1 │  ...   │Shard P-1│   │
//	│  │mu+map  │  │mu+map  │        │mu+map   │   │
//	│  │sweeper │  │sweeper │        │sweeper  │   │
//	│  └────────┘  └────────┘        └────────┘   │
//	└─────────────────────────────────────────────┘
//
// # Core types
//
// Entry is the tagged-sum value every key maps to (string or sorted set).
// SortedSet is the dual-view (member→score map, plus a skip-list ordered
// index); skiplist.go implements the ordered index as an arena of nodes
// addressed by integer index rather than pointers, avoiding a cyclic
// pointer graph between the map and the ordered index — the whole
// structure is freed atomically by dropping the SortedSet's slices when
// the owning Entry is deleted.
//
// No third-party library available implements a skip list or a
// Redis-style sorted set; this subsystem is original engineering grounded
// directly in the target data model rather than adapted from an example
// file.
package store
