package durability

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/dreamware/meshkv/internal/metrics"
	"github.com/dreamware/meshkv/internal/store"
)

// Entry is one record read back off the log, tagged with the sequence
// number it was written under.
type Entry struct {
	Seq     uint64
	ShardID int
	Rec     store.WALRecord
}

// WAL is a single node's append-only, length-prefixed write-ahead log.
// Appending is serialized through mu so records always land with
// monotonically increasing sequence numbers.
type WAL struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	seq     uint64
	metrics *metrics.Metrics
}

// Open opens (creating if needed) the WAL at path, replays it to recover
// its record list and discover the torn tail (if any), physically
// truncates away that torn tail, and returns the WAL ready for further
// appends plus every valid entry found — the caller (internal/durability
// recovery or a test) applies those to a store.
func Open(path string, m *metrics.Metrics) (*WAL, []Entry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("durability: open wal %s: %w", path, err)
	}

	entries, validEnd, err := decodeStream(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("durability: decode wal %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("durability: stat wal %s: %w", path, err)
	}
	if validEnd < info.Size() {
		// Torn tail from a crash mid-append: discard the partial record so
		// later appends don't leave garbage in the middle of the file.
		if err := f.Truncate(validEnd); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("durability: truncate torn tail of %s: %w", path, err)
		}
	}
	if _, err := f.Seek(validEnd, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("durability: seek wal %s: %w", path, err)
	}

	var seq uint64
	if len(entries) > 0 {
		seq = entries[len(entries)-1].Seq
	}

	return &WAL{f: f, path: path, seq: seq, metrics: m}, entries, nil
}

// Append serializes rec and writes it to the log, fsyncing before
// returning so a success here means the record survives a crash. It
// implements store.WALAppender.
func (w *WAL) Append(shardID int, rec store.WALRecord) error {
	start := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	payload := encodeRecord(w.seq, shardID, rec)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))

	if _, err := w.f.Write(lenPrefix[:]); err != nil {
		w.seq--
		return fmt.Errorf("durability: wal write length: %w", err)
	}
	if _, err := w.f.Write(payload); err != nil {
		w.seq--
		return fmt.Errorf("durability: wal write record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.seq--
		return fmt.Errorf("durability: wal fsync: %w", err)
	}

	w.metrics.ObserveWALAppend(time.Since(start).Seconds())
	return nil
}

// Seq returns the most recently assigned sequence number.
func (w *WAL) Seq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close fsyncs and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.f.Sync()
	return w.f.Close()
}

// Truncate rewrites the log to contain only records with Seq > floor, the
// step a successful snapshot performs afterward. It is
// not on the hot path, so correctness (read everything, rewrite
// atomically) is favored over incremental cleverness.
func (w *WAL) Truncate(floor uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("durability: seek wal for truncate: %w", err)
	}
	entries, _, err := decodeStream(w.f)
	if err != nil {
		return fmt.Errorf("durability: decode wal for truncate: %w", err)
	}

	tmpPath := w.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("durability: create wal compaction temp: %w", err)
	}

	for _, e := range entries {
		if e.Seq <= floor {
			continue
		}
		payload := encodeRecord(e.Seq, e.ShardID, e.Rec)
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
		if _, err := tmp.Write(lenPrefix[:]); err != nil {
			tmp.Close()
			return err
		}
		if _, err := tmp.Write(payload); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := w.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("durability: rename compacted wal: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("durability: reopen wal after truncate: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}
	w.f = f
	return nil
}

// decodeStream reads length-prefixed records from the current position of
// r until EOF or a torn (incomplete) record, returning every fully valid
// entry and the byte offset immediately after the last one.
func decodeStream(r io.ReadSeeker) ([]Entry, int64, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, err
	}
	br := bufio.NewReader(r)
	var entries []Entry
	offset := start

	for {
		var lenBuf [4]byte
		n, err := io.ReadFull(br, lenBuf[:])
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil {
			// Torn length prefix: stop here, offset already points at the
			// start of this incomplete record.
			break
		}
		recLen := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, recLen)
		if _, err := io.ReadFull(br, payload); err != nil {
			break
		}
		seq, shardID, rec, err := decodeRecord(payload)
		if err != nil {
			break
		}
		entries = append(entries, Entry{Seq: seq, ShardID: shardID, Rec: rec})
		offset += 4 + int64(recLen)
	}
	return entries, offset, nil
}

// encodeRecord serializes a record as:
// seq(8) op(1) shardID(4) hasExpire(1) expireAtUnixNano(8) score(8)
// keyLen(4) key memberLen(4) member valueLen(4) value
func encodeRecord(seq uint64, shardID int, rec store.WALRecord) []byte {
	buf := make([]byte, 0, 34+len(rec.Key)+len(rec.Member)+len(rec.Value))
	var tmp8 [8]byte

	binary.BigEndian.PutUint64(tmp8[:], seq)
	buf = append(buf, tmp8[:]...)

	buf = append(buf, byte(rec.Op))

	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(int32(shardID)))
	buf = append(buf, tmp4[:]...)

	if rec.HasExpire {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	binary.BigEndian.PutUint64(tmp8[:], uint64(rec.ExpireAt.UnixNano()))
	buf = append(buf, tmp8[:]...)

	binary.BigEndian.PutUint64(tmp8[:], math.Float64bits(rec.Score))
	buf = append(buf, tmp8[:]...)

	buf = appendLenPrefixed(buf, []byte(rec.Key))
	buf = appendLenPrefixed(buf, []byte(rec.Member))
	buf = appendLenPrefixed(buf, rec.Value)

	return buf
}

func appendLenPrefixed(buf, b []byte) []byte {
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(b)))
	buf = append(buf, tmp4[:]...)
	return append(buf, b...)
}

func decodeRecord(buf []byte) (seq uint64, shardID int, rec store.WALRecord, err error) {
	const fixedLen = 8 + 1 + 4 + 1 + 8 + 8
	if len(buf) < fixedLen {
		return 0, 0, store.WALRecord{}, fmt.Errorf("durability: record too short")
	}
	seq = binary.BigEndian.Uint64(buf[0:8])
	rec.Op = store.Op(buf[8])
	shardID = int(int32(binary.BigEndian.Uint32(buf[9:13])))
	rec.HasExpire = buf[13] != 0
	expireNanos := int64(binary.BigEndian.Uint64(buf[14:22]))
	rec.ExpireAt = time.Unix(0, expireNanos)
	rec.Score = math.Float64frombits(binary.BigEndian.Uint64(buf[22:30]))

	cursor := buf[30:]
	key, rest, err := readLenPrefixed(cursor)
	if err != nil {
		return 0, 0, store.WALRecord{}, err
	}
	member, rest, err := readLenPrefixed(rest)
	if err != nil {
		return 0, 0, store.WALRecord{}, err
	}
	value, rest, err := readLenPrefixed(rest)
	if err != nil {
		return 0, 0, store.WALRecord{}, err
	}
	if len(rest) != 0 {
		return 0, 0, store.WALRecord{}, fmt.Errorf("durability: trailing bytes in record")
	}

	rec.Key = string(key)
	rec.Member = string(member)
	rec.Value = value
	return seq, shardID, rec, nil
}

func readLenPrefixed(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("durability: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[0:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, fmt.Errorf("durability: truncated field")
	}
	return buf[:n], buf[n:], nil
}
