// Package durability implements meshkv's write-ahead log and snapshot
// layer: a length-prefixed append-only log per node, a
// periodic, optionally compressed snapshot of the whole keyspace, and the recovery
// procedure that replays one against the other at startup.
//
// The overall write-ahead-log-then-snapshot-then-truncate shape is
// grounded on the "godkv" store's internal/store/store.go (WAL-first
// writes, temp-file-then-rename snapshots, WAL truncation after a
// successful snapshot); this package generalizes that shape to meshkv's
// binary length-prefixed record format, sequence-number floor, and
// torn-tail recovery, none of which the reference file implements (it
// uses newline-delimited JSON records and whole-file truncation instead
// of a sequence floor).
//
// Snapshot bodies are gob-encoded and, when compression is on, zstd-compressed via
// github.com/klauspost/compress, the same compression library the wider
// example pack reaches for.
package durability
