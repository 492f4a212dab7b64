// Package compression provides the block-level compression codecs used by
// the SSTable writer and reader.
//
// Each data block in an SSTable is stored with a 1-byte compression type
// indicator (part of the block header, see internal/sstable) followed by
// the compressed (or uncompressed) payload.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm, matching the four values
// ConcordKV's `compression` configuration knob accepts.
type Type uint8

const (
	// None stores block payloads uncompressed.
	None Type = 0x0

	// Snappy uses Google's Snappy compression.
	Snappy Type = 0x1

	// LZ4 uses raw LZ4 block compression.
	LZ4 Type = 0x2

	// Zstd uses Zstandard compression.
	Zstd Type = 0x3
)

// String returns the human-readable name of the compression type.
func (t Type) String() string {
	switch t {
	case None:
		return "None"
	case Snappy:
		return "Snappy"
	case LZ4:
		return "LZ4"
	case Zstd:
		return "Zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// IsSupported returns true if the compression type is recognized.
func (t Type) IsSupported() bool {
	switch t {
	case None, Snappy, LZ4, Zstd:
		return true
	default:
		return false
	}
}

// Compress compresses data using the specified compression type.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return data, nil

	case Snappy:
		return snappy.Encode(nil, data), nil

	case LZ4:
		return compressLZ4(data)

	case Zstd:
		return compressZstd(data)

	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

// compressLZ4 compresses data using LZ4's raw block format (not the LZ4
// frame format, which carries magic bytes and frame headers we don't need
// since the SSTable block header already records compressed/uncompressed
// sizes).
func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(data, dst, ht[:])
	if err != nil {
		return nil, fmt.Errorf("compression: lz4 compress block: %w", err)
	}
	if n == 0 {
		// Incompressible input; CompressBlock signals this by returning 0.
		return data, nil
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("compression: zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses data given its compression type and known
// uncompressed size (the SSTable block header always records this, so the
// LZ4 raw-block decoder — which needs the target size up front — never has
// to guess).
func Decompress(t Type, data []byte, uncompressedSize int) ([]byte, error) {
	switch t {
	case None:
		return data, nil

	case Snappy:
		return snappy.Decode(nil, data)

	case LZ4:
		dst := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("compression: lz4 uncompress block: %w", err)
		}
		return dst[:n], nil

	case Zstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("compression: zstd decoder: %w", err)
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, make([]byte, 0, uncompressedSize))

	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}
