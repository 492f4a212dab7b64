// Package manifest implements the durable record of the current set of
// live SSTables per level and the next file-id to allocate, written
// atomically via a tmp-file-then-rename sequence.
//
// The on-disk record is a short binary record with one flat list of file
// entries — no column families, no blob files, no atomic groups, no
// timestamps — just a serializable edit log with a CRC, written with an
// atomic rename.
package manifest

import (
	"encoding/binary"

	"github.com/concordkv/concordkv/internal/checksum"
	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
)

// Magic identifies a ConcordKV manifest record.
const Magic uint32 = 0x434B4D46 // "CKMF"

// FormatVersion is the current manifest format version.
const FormatVersion uint32 = 1

// FileEntry describes one live SSTable: its level, id, size, and the key
// and sequence ranges the level manager needs without opening the file.
type FileEntry struct {
	Level    int
	FileID   uint64
	Size     uint64
	MinKey   []byte
	MaxKey   []byte
	MinSeq   dbformat.SequenceNumber
	MaxSeq   dbformat.SequenceNumber
}

// Manifest is the full durable state: every live file plus the next
// file-id to allocate.
type Manifest struct {
	NextFileID uint64
	Files      []FileEntry
}

// Encode serializes m into its on-disk byte representation: {magic,
// version, next_file_id, entry_count, [entries]…, crc32}.
func (m Manifest) Encode() []byte {
	buf := make([]byte, 0, 64+len(m.Files)*64)
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	buf = binary.LittleEndian.AppendUint32(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint64(buf, m.NextFileID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Files)))

	for _, e := range m.Files {
		buf = append(buf, byte(e.Level))
		buf = binary.LittleEndian.AppendUint64(buf, e.FileID)
		buf = binary.LittleEndian.AppendUint64(buf, e.Size)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.MinSeq))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.MaxSeq))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.MinKey)))
		buf = append(buf, e.MinKey...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.MaxKey)))
		buf = append(buf, e.MaxKey...)
	}

	crc := checksum.Value(buf)
	buf = binary.LittleEndian.AppendUint32(buf, crc)
	return buf
}

// Decode parses a manifest byte buffer, verifying its trailing CRC32
// before trusting any field — a manifest CRC failure is fatal (the
// engine refuses further writes until manually repaired), so Decode
// must never return a partially-trusted result.
func Decode(data []byte) (Manifest, error) {
	const fixedHeader = 4 + 4 + 8 + 4
	if len(data) < fixedHeader+4 {
		return Manifest{}, errs.New(errs.Corruption, "manifest: too short")
	}

	body := data[:len(data)-4]
	wantCRC := binary.LittleEndian.Uint32(data[len(data)-4:])
	if checksum.Value(body) != wantCRC {
		return Manifest{}, errs.New(errs.Corruption, "manifest: checksum mismatch")
	}

	magic := binary.LittleEndian.Uint32(body[0:4])
	if magic != Magic {
		return Manifest{}, errs.New(errs.Corruption, "manifest: bad magic")
	}
	version := binary.LittleEndian.Uint32(body[4:8])
	if version != FormatVersion {
		return Manifest{}, errs.New(errs.UnsupportedFormat, "manifest: unsupported version")
	}
	nextFileID := binary.LittleEndian.Uint64(body[8:16])
	count := binary.LittleEndian.Uint32(body[16:20])

	pos := fixedHeader
	files := make([]FileEntry, 0, count)
	for range count {
		e, n, err := decodeFileEntry(body[pos:])
		if err != nil {
			return Manifest{}, err
		}
		files = append(files, e)
		pos += n
	}

	return Manifest{NextFileID: nextFileID, Files: files}, nil
}

func decodeFileEntry(data []byte) (FileEntry, int, error) {
	const minSize = 1 + 8 + 8 + 8 + 8 + 4
	if len(data) < minSize {
		return FileEntry{}, 0, errs.New(errs.Corruption, "manifest: truncated file entry")
	}
	e := FileEntry{Level: int(data[0])}
	e.FileID = binary.LittleEndian.Uint64(data[1:9])
	e.Size = binary.LittleEndian.Uint64(data[9:17])
	e.MinSeq = dbformat.SequenceNumber(binary.LittleEndian.Uint64(data[17:25]))
	e.MaxSeq = dbformat.SequenceNumber(binary.LittleEndian.Uint64(data[25:33]))
	minKeyLen := binary.LittleEndian.Uint32(data[33:37])
	pos := 37
	if len(data) < pos+int(minKeyLen)+4 {
		return FileEntry{}, 0, errs.New(errs.Corruption, "manifest: truncated min key")
	}
	e.MinKey = append([]byte(nil), data[pos:pos+int(minKeyLen)]...)
	pos += int(minKeyLen)
	maxKeyLen := binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4
	if len(data) < pos+int(maxKeyLen) {
		return FileEntry{}, 0, errs.New(errs.Corruption, "manifest: truncated max key")
	}
	e.MaxKey = append([]byte(nil), data[pos:pos+int(maxKeyLen)]...)
	pos += int(maxKeyLen)
	return e, pos, nil
}
