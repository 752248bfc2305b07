package durability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dreamware/meshkv/internal/metrics"
	"github.com/dreamware/meshkv/internal/store"
)

// Recover implements startup procedure: load the latest
// snapshot (if any) into eng, then open the WAL, replay every record past
// the snapshot's sequence floor, and hand back a ready-to-append WAL
// positioned at the correct next sequence number.
func Recover(dataDir, nodeID string, eng *store.Engine, m *metrics.Metrics) (*WAL, error) {
	floor := uint64(0)

	path, found, err := LatestSnapshot(dataDir, nodeID)
	if err != nil {
		return nil, fmt.Errorf("durability: locate snapshot: %w", err)
	}
	if found {
		entries, seq, err := LoadSnapshot(path)
		if err != nil {
			return nil, fmt.Errorf("durability: load snapshot: %w", err)
		}
		eng.Restore(entries)
		floor = seq
	}

	walPath := WALPath(dataDir, nodeID)
	if err := os.MkdirAll(filepath.Dir(walPath), 0755); err != nil {
		return nil, fmt.Errorf("durability: create wal dir: %w", err)
	}

	wal, walEntries, err := Open(walPath, m)
	if err != nil {
		return nil, fmt.Errorf("durability: open wal: %w", err)
	}

	// A snapshot may have truncated the log to nothing, leaving the reopened
	// WAL at seq 0; resume past the floor so new records are not skipped on
	// the next recovery.
	if wal.seq < floor {
		wal.seq = floor
	}

	for _, e := range walEntries {
		if e.Seq <= floor {
			continue
		}
		eng.ApplyWALRecord(e.Rec)
	}

	return wal, nil
}
