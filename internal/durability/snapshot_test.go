package durability

import (
	"testing"
	"time"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/store"
)

func TestSnapshotWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	eng := store.NewEngine(4, 0, cluster.EvictionLRU, nil, nil)
	_ = eng.Set("a", []byte("1"), 0)
	_ = eng.Set("b", []byte("2"), 0)
	if _, err := eng.ZAdd("lb", "alice", 10); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	path, err := WriteSnapshot(dir, "node1", eng, nil, 42, time.Unix(0, 1000), nil, true)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	entries, seq, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if seq != 42 {
		t.Fatalf("seq = %d, want 42", seq)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (a, b, lb), got %d", len(entries))
	}
}

func TestSnapshotWriteAndLoadUncompressed(t *testing.T) {
	dir := t.TempDir()
	eng := store.NewEngine(4, 0, cluster.EvictionLRU, nil, nil)
	_ = eng.Set("a", []byte("1"), 0)

	path, err := WriteSnapshot(dir, "node1", eng, nil, 7, time.Unix(0, 1000), nil, false)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	entries, seq, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if seq != 7 {
		t.Fatalf("seq = %d, want 7", seq)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestLatestSnapshotOrdering(t *testing.T) {
	dir := t.TempDir()
	eng := store.NewEngine(2, 0, cluster.EvictionLRU, nil, nil)
	_ = eng.Set("a", []byte("1"), 0)

	first, err := WriteSnapshot(dir, "node1", eng, nil, 1, time.Unix(0, 1000), nil, true)
	if err != nil {
		t.Fatalf("first WriteSnapshot: %v", err)
	}
	second, err := WriteSnapshot(dir, "node1", eng, nil, 2, time.Unix(0, 2000), nil, true)
	if err != nil {
		t.Fatalf("second WriteSnapshot: %v", err)
	}

	firstSeq, err := parseSnapshotSeq(first)
	if err != nil {
		t.Fatalf("parseSnapshotSeq(first): %v", err)
	}
	secondSeq, err := parseSnapshotSeq(second)
	if err != nil {
		t.Fatalf("parseSnapshotSeq(second): %v", err)
	}
	if secondSeq <= firstSeq {
		t.Fatalf("expected lexicographic order to match chronological order: %d then %d", firstSeq, secondSeq)
	}

	latest, found, err := LatestSnapshot(dir, "node1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if !found {
		t.Fatal("expected a snapshot to be found")
	}
	if latest != second {
		t.Fatalf("LatestSnapshot = %q, want %q", latest, second)
	}
}

func TestLatestSnapshotNoneExists(t *testing.T) {
	dir := t.TempDir()
	_, found, err := LatestSnapshot(dir, "node1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if found {
		t.Fatal("expected no snapshot to be found in an empty data dir")
	}
}

func TestWriteSnapshotTruncatesWAL(t *testing.T) {
	dir := t.TempDir()
	walPath := WALPath(dir, "node1")
	wal, _, err := Open(walPath, nil)
	if err != nil {
		t.Fatalf("Open wal: %v", err)
	}
	defer wal.Close()

	eng := store.NewEngine(2, 0, cluster.EvictionLRU, wal, nil)
	_ = eng.Set("a", []byte("1"), 0)
	_ = eng.Set("b", []byte("2"), 0)
	seq := wal.Seq()

	if _, err := WriteSnapshot(dir, "node1", eng, wal, seq, time.Unix(0, 5000), nil, true); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	_, entries, err := Open(walPath, nil)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	for _, e := range entries {
		if e.Seq <= seq {
			t.Fatalf("expected wal truncated up to seq %d, found entry %+v", seq, e)
		}
	}
}
