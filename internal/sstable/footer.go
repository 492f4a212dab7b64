package sstable

import (
	"encoding/binary"

	"github.com/concordkv/concordkv/internal/checksum"
	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
)

// FormatVersion is the current on-disk SSTable format version. open()
// rejects any other value with errs.UnsupportedFormat.
const FormatVersion uint32 = 1

// footerMagic is always the final 8 bytes of a well-formed SSTable file.
const footerMagic uint64 = 0x434F4E434F524446 // "CONCORDF"

// FooterSize is the fixed on-disk size of a footer. This implementation's
// field set needs more than the typical 64 bytes, so 128 bytes was
// chosen — still fixed-size and always the final bytes of the file.
const FooterSize = 128

// Footer is the trailer every SSTable file ends with, pointing at the
// index block, bloom block, and a small min/max-key blob, plus summary
// statistics used by the level manager and read path without opening
// those blocks.
type Footer struct {
	FormatVersion uint32
	IndexOffset   uint64
	IndexSize     uint32
	BloomOffset   uint64
	BloomSize     uint32
	MinKeyOffset  uint64
	MinKeyLen     uint32
	MaxKeyOffset  uint64
	MaxKeyLen     uint32
	MinSeq        dbformat.SequenceNumber
	MaxSeq        dbformat.SequenceNumber
	TotalEntries  uint64
}

// Encode serializes f into a FooterSize-byte buffer, with the last 8
// bytes always footerMagic and a CRC32 of everything before it covering
// the rest.
func (f Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.FormatVersion)
	binary.LittleEndian.PutUint64(buf[4:12], f.IndexOffset)
	binary.LittleEndian.PutUint32(buf[12:16], f.IndexSize)
	binary.LittleEndian.PutUint64(buf[16:24], f.BloomOffset)
	binary.LittleEndian.PutUint32(buf[24:28], f.BloomSize)
	binary.LittleEndian.PutUint64(buf[28:36], f.MinKeyOffset)
	binary.LittleEndian.PutUint32(buf[36:40], f.MinKeyLen)
	binary.LittleEndian.PutUint64(buf[40:48], f.MaxKeyOffset)
	binary.LittleEndian.PutUint32(buf[48:52], f.MaxKeyLen)
	binary.LittleEndian.PutUint64(buf[52:60], uint64(f.MinSeq))
	binary.LittleEndian.PutUint64(buf[60:68], uint64(f.MaxSeq))
	binary.LittleEndian.PutUint64(buf[68:76], f.TotalEntries)

	crc := checksum.Value(buf[:76])
	binary.LittleEndian.PutUint32(buf[76:80], crc)
	// buf[80:120] reserved, zero.
	binary.LittleEndian.PutUint64(buf[FooterSize-8:FooterSize], footerMagic)
	return buf
}

// DecodeFooter parses and validates a FooterSize-byte buffer: magic,
// format version, and CRC32 must all check out, or the file is treated as
// nonexistent/unopenable.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, errs.New(errs.Corruption, "sstable: short footer")
	}
	magic := binary.LittleEndian.Uint64(buf[FooterSize-8 : FooterSize])
	if magic != footerMagic {
		return Footer{}, errs.New(errs.Corruption, "sstable: bad footer magic")
	}

	crc := binary.LittleEndian.Uint32(buf[76:80])
	if checksum.Value(buf[:76]) != crc {
		return Footer{}, errs.New(errs.Corruption, "sstable: footer checksum mismatch")
	}

	version := binary.LittleEndian.Uint32(buf[0:4])
	if version != FormatVersion {
		return Footer{}, errs.New(errs.UnsupportedFormat, "sstable: unsupported footer version")
	}

	return Footer{
		FormatVersion: version,
		IndexOffset:   binary.LittleEndian.Uint64(buf[4:12]),
		IndexSize:     binary.LittleEndian.Uint32(buf[12:16]),
		BloomOffset:   binary.LittleEndian.Uint64(buf[16:24]),
		BloomSize:     binary.LittleEndian.Uint32(buf[24:28]),
		MinKeyOffset:  binary.LittleEndian.Uint64(buf[28:36]),
		MinKeyLen:     binary.LittleEndian.Uint32(buf[36:40]),
		MaxKeyOffset:  binary.LittleEndian.Uint64(buf[40:48]),
		MaxKeyLen:     binary.LittleEndian.Uint32(buf[48:52]),
		MinSeq:        dbformat.SequenceNumber(binary.LittleEndian.Uint64(buf[52:60])),
		MaxSeq:        dbformat.SequenceNumber(binary.LittleEndian.Uint64(buf[60:68])),
		TotalEntries:  binary.LittleEndian.Uint64(buf[68:76]),
	}, nil
}
