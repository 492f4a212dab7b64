package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/concordkv/concordkv/internal/dbformat"
)

// segmentNamePattern matches "wal-000001.log" style segment filenames.
var segmentNamePattern = regexp.MustCompile(`^wal-(\d{6,})\.log$`)

// SegmentName returns the canonical filename for segment id.
func SegmentName(id uint64) string {
	return fmt.Sprintf("wal-%06d.log", id)
}

// Dir manages the WAL subdirectory: segment rotation by size, listing
// segments in creation order for recovery, and removing segments once
// every record they hold has been durably flushed.
type Dir struct {
	path    string
	mode    SyncMode
	maxSize int64

	nextID  uint64
	writer  *Writer
	curID   uint64
	curSize int64
}

// Open creates dir (if missing) and prepares a fresh segment for writing.
// existingIDs, if any are found on disk, determine the next segment id.
func Open(dir string, mode SyncMode, maxSize int64) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		maxSize = 64 << 20
	}
	ids, err := ListSegmentIDs(dir)
	if err != nil {
		return nil, err
	}
	next := uint64(1)
	if len(ids) > 0 {
		next = ids[len(ids)-1] + 1
	}
	d := &Dir{path: dir, mode: mode, maxSize: maxSize, nextID: next}
	if err := d.rotate(); err != nil {
		return nil, err
	}
	return d, nil
}

// ListSegmentIDs returns every segment id present in dir, ascending
// (creation order), the order recovery must replay them in.
func ListSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SegmentPath returns the full path of segment id under dir.
func SegmentPath(dir string, id uint64) string {
	return filepath.Join(dir, SegmentName(id))
}

func (d *Dir) rotate() error {
	if d.writer != nil {
		if err := d.writer.Close(); err != nil {
			return err
		}
	}
	id := d.nextID
	d.nextID++
	w, err := NewWriter(SegmentPath(d.path, id), d.mode)
	if err != nil {
		return err
	}
	d.writer = w
	d.curID = id
	d.curSize = 0
	return nil
}

// Append writes a record to the current segment, rotating first if the
// segment has already crossed maxSize.
func (d *Dir) Append(key, value []byte, kind dbformat.Kind, seq dbformat.SequenceNumber) (segmentID uint64, err error) {
	if d.curSize >= d.maxSize {
		if err := d.rotate(); err != nil {
			return 0, err
		}
	}
	if err := d.writer.Append(key, value, kind, seq); err != nil {
		return 0, err
	}
	size, err := d.writer.Size()
	if err != nil {
		return 0, err
	}
	d.curSize = size
	return d.curID, nil
}

// Sync fsyncs the current segment.
func (d *Dir) Sync() error { return d.writer.Sync() }

// CurrentSegmentID returns the id of the segment currently being written.
func (d *Dir) CurrentSegmentID() uint64 { return d.curID }

// Rotate closes the current segment and opens a fresh one, exposed so the
// facade can start a brand-new empty segment once it knows every record in
// the old one is durably flushed (e.g. on a clean shutdown).
func (d *Dir) Rotate() error { return d.rotate() }

// Path returns the directory this Dir manages.
func (d *Dir) Path() string { return d.path }

// Remove deletes segment id's file. Called once every record it holds has
// been flushed into a persisted SSTable and the manifest update durable.
func (d *Dir) Remove(id uint64) error {
	return os.Remove(SegmentPath(d.path, id))
}

// Close fsyncs and closes the current segment.
func (d *Dir) Close() error {
	if d.writer == nil {
		return nil
	}
	return d.writer.Close()
}
