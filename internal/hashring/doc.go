// Package hashring implements the consistent hash ring used by meshkv's
// proxy to route a key to exactly one storage node.
//
// Keys route through a proper consistent hash ring rather than a fixed
// modulo-shard table: each node occupies many virtual positions on a
// 64-bit circle, a key is routed to the first position clockwise of its
// own hash, and removing or adding a node only reassigns the fraction of
// keys whose successor actually changed — unlike a round-robin rebalance,
// which reshuffles nearly everything on every membership change.
//
// Hashing uses xxHash-64 (github.com/cespare/xxhash/v2), the same function
// internal/store uses for shard routing, keeping one hash family across
// the whole node/proxy path.
//
// A Ring is immutable once built. Manager holds the live ring behind an
// atomic.Pointer so that concurrent readers always see a complete ring —
// either the old membership or the new one, never a partially rebuilt one.
package hashring
