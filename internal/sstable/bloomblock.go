package sstable

import (
	"encoding/binary"

	"github.com/concordkv/concordkv/internal/bloom"
	"github.com/concordkv/concordkv/internal/errs"
)

// bloomBlockHeaderSize is variant(1) + hash_family(1) + bit_count(8) +
// hash_count(4) + block_size(4).
const bloomBlockHeaderSize = 1 + 1 + 8 + 4 + 4

// encodeBloomPayload serializes f (of the given variant/family/params)
// into the bloom block's raw payload.
func encodeBloomPayload(variant bloom.Variant, family bloom.HashFamily, p bloom.Params, f bloom.Filter) ([]byte, error) {
	var bits []byte
	blockSize := uint32(0)

	switch variant {
	case bloom.VariantStandard:
		data, err := f.(*bloom.Standard).MarshalBinary()
		if err != nil {
			return nil, errs.Wrap(errs.IO, "sstable.encodeBloomPayload", err)
		}
		bits = data
	case bloom.VariantBlocked:
		bits = f.(*bloom.Blocked).Bytes()
		blockSize = 64
	case bloom.VariantRegisterBlocked:
		regs := f.(*bloom.RegisterBlocked).Registers()
		bits = make([]byte, len(regs)*8)
		for i, r := range regs {
			binary.LittleEndian.PutUint64(bits[i*8:], r)
		}
		blockSize = 8
	case bloom.VariantCounting:
		bits = f.(*bloom.Counting).Counters()
	default:
		return nil, errs.New(errs.InvalidParam, "sstable: unknown bloom variant")
	}

	out := make([]byte, bloomBlockHeaderSize, bloomBlockHeaderSize+len(bits))
	out[0] = byte(variant)
	out[1] = byte(family)
	binary.LittleEndian.PutUint64(out[2:10], p.NumBits)
	binary.LittleEndian.PutUint32(out[10:14], uint32(p.NumHashes))
	binary.LittleEndian.PutUint32(out[14:18], blockSize)
	out = append(out, bits...)
	return out, nil
}

// decodeBloomPayload reconstructs a read-only Filter from a bloom block's
// raw payload.
func decodeBloomPayload(raw []byte) (bloom.Filter, error) {
	if len(raw) < bloomBlockHeaderSize {
		return nil, errs.New(errs.Corruption, "sstable: bloom block too short")
	}
	variant := bloom.Variant(raw[0])
	family := bloom.HashFamily(raw[1])
	numHashes := int(binary.LittleEndian.Uint32(raw[10:14]))
	bits := raw[bloomBlockHeaderSize:]

	switch variant {
	case bloom.VariantStandard:
		return bloom.LoadStandard(bits)
	case bloom.VariantBlocked:
		return bloom.LoadBlocked(bits, numHashes, family), nil
	case bloom.VariantRegisterBlocked:
		if len(bits)%8 != 0 {
			return nil, errs.New(errs.Corruption, "sstable: malformed register-blocked bloom block")
		}
		regs := make([]uint64, len(bits)/8)
		for i := range regs {
			regs[i] = binary.LittleEndian.Uint64(bits[i*8:])
		}
		return bloom.LoadRegisterBlocked(regs, numHashes, family), nil
	case bloom.VariantCounting:
		return bloom.LoadCounting(append([]byte(nil), bits...), numHashes, family), nil
	default:
		return nil, errs.New(errs.UnsupportedFormat, "sstable: unknown bloom variant on disk")
	}
}
