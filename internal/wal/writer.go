package wal

import (
	"bufio"
	"os"

	"github.com/concordkv/concordkv/internal/checksum"
	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/encoding"
	"github.com/concordkv/concordkv/internal/testutil"
)

// SyncMode controls when a Writer flushes to stable storage.
type SyncMode int

const (
	// Buffered appends to OS buffers and only fsyncs on Close or when
	// the caller explicitly calls Sync (the facade's segment-rotation
	// path does this).
	Buffered SyncMode = iota
	// Sync fsyncs after every single Append.
	Sync
)

// Writer appends mutation records to one WAL segment file.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
	mode SyncMode
}

// NewWriter opens (or creates) path for append and wraps it as a Writer.
func NewWriter(path string, mode SyncMode) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{file: f, buf: bufio.NewWriter(f), mode: mode}, nil
}

// Append encodes and writes a single mutation record, fsyncing
// immediately if the writer's mode is Sync.
func (w *Writer) Append(key, value []byte, kind dbformat.Kind, seq dbformat.SequenceNumber) error {
	payload := make([]byte, 0, RecordOverhead+len(key)+len(value))
	payload = append(payload, byte(kind))
	payload = encoding.AppendFixed64(payload, uint64(seq))
	payload = encoding.AppendFixed32(payload, uint32(len(key)))
	payload = encoding.AppendFixed32(payload, uint32(len(value)))
	payload = append(payload, key...)
	payload = append(payload, value...)
	crc := checksum.Value(payload)
	payload = encoding.AppendFixed32(payload, crc)

	testutil.MaybeKill("WAL.Append:0")

	record := make([]byte, 0, HeaderSize+len(payload))
	record = encoding.AppendFixed16(record, Magic)
	record = encoding.AppendFixed32(record, uint32(len(payload)))
	record = append(record, payload...)

	if _, err := w.buf.Write(record); err != nil {
		return err
	}

	testutil.MaybeKill("WAL.Append:1")

	if w.mode == Sync {
		return w.Sync()
	}
	return nil
}

// Sync flushes the bufio.Writer and fsyncs the underlying file.
func (w *Writer) Sync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	testutil.MaybeKill("WAL.Sync:0")
	err := w.file.Sync()
	testutil.MaybeKill("WAL.Sync:1")
	return err
}

// Size returns the current on-disk size of the segment (post-flush).
func (w *Writer) Size() (int64, error) {
	if err := w.buf.Flush(); err != nil {
		return 0, err
	}
	info, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close flushes, fsyncs, and closes the segment file.
func (w *Writer) Close() error {
	if err := w.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
