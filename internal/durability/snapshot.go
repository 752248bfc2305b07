package durability

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/dreamware/meshkv/internal/metrics"
	"github.com/dreamware/meshkv/internal/store"
)

// snapshotFile is the gob-encoded body written to disk, optionally
// zstd-compressed. Seq is the WAL sequence number the snapshot is
// consistent as-of; recovery treats it as the replay floor.
type snapshotFile struct {
	Seq     uint64
	Entries []store.DumpEntry
}

// zstdMagic is the four-byte frame magic number every zstd frame starts
// with. LoadSnapshot sniffs this to tell a compressed snapshot from a raw
// gob one without needing its own format version byte.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// snapshotDir / WALPath give the on-disk layout names:
//
//	<data-dir>/wal/<nodeId>.wal
//	<data-dir>/snapshots/<nodeId>_<ts>.snap
func snapshotDir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }
func WALPath(dataDir, nodeID string) string {
	return filepath.Join(dataDir, "wal", nodeID+".wal")
}

// WriteSnapshot captures eng's current contents at seq (the WAL sequence
// number already durable at capture time) and writes it to
// <data-dir>/snapshots/<nodeId>_<ts>.snap following a
// temp-file→fsync→atomic-rename→fsync-parent-dir protocol, then truncates
// wal to that point. now is passed in (rather than time.Now()) so callers
// can make the timestamp suffix deterministic in tests. When compress is
// false the gob body is written raw; LoadSnapshot tells the two apart by
// sniffing the zstd magic number, so old and new snapshots in the same
// directory both load correctly.
func WriteSnapshot(dataDir, nodeID string, eng *store.Engine, wal *WAL, seq uint64, now time.Time, m *metrics.Metrics, compress bool) (string, error) {
	start := time.Now()
	dir := snapshotDir(dataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("durability: create snapshot dir: %w", err)
	}

	sf := snapshotFile{Seq: seq, Entries: eng.Dump()}

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(sf); err != nil {
		return "", fmt.Errorf("durability: encode snapshot: %w", err)
	}

	body := raw.Bytes()
	if compress {
		zw, err := zstd.NewWriter(nil)
		if err != nil {
			return "", fmt.Errorf("durability: init zstd encoder: %w", err)
		}
		body = zw.EncodeAll(raw.Bytes(), nil)
		_ = zw.Close()
	}

	finalName := fmt.Sprintf("%s_%020d.snap", nodeID, now.UnixNano())
	finalPath := filepath.Join(dir, finalName)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("durability: create snapshot temp file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return "", fmt.Errorf("durability: write snapshot temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("durability: fsync snapshot temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("durability: close snapshot temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("durability: rename snapshot into place: %w", err)
	}

	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		_ = dirF.Close()
	}

	if wal != nil {
		if err := wal.Truncate(seq); err != nil {
			return finalPath, fmt.Errorf("durability: truncate wal after snapshot: %w", err)
		}
	}

	m.ObserveSnapshot(time.Since(start).Seconds())
	return finalPath, nil
}

// LatestSnapshot returns the path of the lexicographically-last snapshot
// file for nodeID, or found=false if none exists; the sequence floor is
// read from the file by LoadSnapshot. The timestamp suffix is a fixed-width zero-padded nanosecond
// count, so lexicographic order matches chronological order.
func LatestSnapshot(dataDir, nodeID string) (path string, found bool, err error) {
	dir := snapshotDir(dataDir)
	ents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("durability: list snapshots: %w", err)
	}

	prefix := nodeID + "_"
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".snap") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", false, nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), true, nil
}

// LoadSnapshot gob-decodes the snapshot at path, decompressing first if
// its leading bytes carry the zstd frame magic number.
func LoadSnapshot(path string) (entries []store.DumpEntry, seq uint64, err error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("durability: read snapshot %s: %w", path, err)
	}

	raw := body
	if bytes.HasPrefix(body, zstdMagic) {
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, 0, fmt.Errorf("durability: init zstd decoder: %w", err)
		}
		raw, err = zr.DecodeAll(body, nil)
		zr.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("durability: decompress snapshot %s: %w", path, err)
		}
	}

	var sf snapshotFile
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&sf); err != nil {
		return nil, 0, fmt.Errorf("durability: decode snapshot %s: %w", path, err)
	}
	return sf.Entries, sf.Seq, nil
}

// parseSnapshotSeq is exposed for tests that need to assert on the
// timestamp suffix's ordering property without round-tripping a full file.
func parseSnapshotSeq(name string) (int64, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".snap")
	idx := strings.LastIndexByte(base, '_')
	if idx < 0 {
		return 0, fmt.Errorf("durability: malformed snapshot name %q", name)
	}
	return strconv.ParseInt(base[idx+1:], 10, 64)
}
