// Package dbformat defines the internal key format shared by the MemTable,
// the SSTable codec, and the WAL: a user key followed by a trailer carrying
// a sequence number and a mutation kind.
package dbformat

import (
	"errors"
	"fmt"

	"github.com/concordkv/concordkv/internal/encoding"
)

// SequenceNumber is a strictly monotonic counter tagging every mutation,
// allocated by the MemTable manager. It is a genuine 64-bit counter rather
// than a packed 56-bit field: a batch writer issuing many sequence numbers
// per commit must never risk overflowing into a shared kind field.
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number.
const MaxSequenceNumber SequenceNumber = ^SequenceNumber(0)

// NumInternalBytes is the size of the internal key trailer: 8 bytes of
// sequence number plus 1 byte of kind.
const NumInternalBytes = 9

// Kind records whether an Entry is a live value or a tombstone.
type Kind uint8

const (
	// KindDelete marks a tombstone: the key is deleted as of this sequence.
	KindDelete Kind = 0
	// KindPut marks a live value.
	KindPut Kind = 1
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindDelete:
		return "Delete"
	case KindPut:
		return "Put"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

var (
	// ErrKeyTooSmall is returned when an internal key is smaller than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")

	// ErrInvalidKind is returned when a kind byte is neither Put nor Delete.
	ErrInvalidKind = errors.New("dbformat: invalid kind byte")
)

// ParsedInternalKey is a decomposed internal key.
type ParsedInternalKey struct {
	UserKey  []byte
	Sequence SequenceNumber
	Kind     Kind
}

// String returns a human-readable representation.
func (p *ParsedInternalKey) String() string {
	return fmt.Sprintf("{UserKey: %q, Seq: %d, Kind: %s}", p.UserKey, p.Sequence, p.Kind)
}

// EncodedLength returns the length of the encoded internal key.
func (p *ParsedInternalKey) EncodedLength() int {
	return len(p.UserKey) + NumInternalBytes
}

// AppendInternalKey appends the serialization of key to dst: the user key
// bytes followed by an 8-byte sequence number and a 1-byte kind.
func AppendInternalKey(dst []byte, key *ParsedInternalKey) []byte {
	dst = append(dst, key.UserKey...)
	dst = encoding.AppendFixed64(dst, uint64(key.Sequence))
	return append(dst, byte(key.Kind))
}

// ParseInternalKey parses an internal key from data.
func ParseInternalKey(data []byte) (*ParsedInternalKey, error) {
	n := len(data)
	if n < NumInternalBytes {
		return nil, ErrKeyTooSmall
	}

	trailer := data[n-NumInternalBytes:]
	seq := encoding.DecodeFixed64(trailer[:8])
	kind := Kind(trailer[8])

	result := &ParsedInternalKey{
		UserKey:  data[:n-NumInternalBytes],
		Sequence: SequenceNumber(seq),
		Kind:     kind,
	}

	if kind != KindPut && kind != KindDelete {
		return result, ErrInvalidKind
	}
	return result, nil
}

// ExtractUserKey returns the user key portion of an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractUserKey(internalKey []byte) []byte {
	if len(internalKey) < NumInternalBytes {
		return nil
	}
	return internalKey[:len(internalKey)-NumInternalBytes]
}

// ExtractKind returns the mutation kind from an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractKind(internalKey []byte) Kind {
	if len(internalKey) < NumInternalBytes {
		return KindDelete
	}
	return Kind(internalKey[len(internalKey)-1])
}

// ExtractSequenceNumber returns the sequence number from an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractSequenceNumber(internalKey []byte) SequenceNumber {
	n := len(internalKey)
	if n < NumInternalBytes {
		return 0
	}
	return SequenceNumber(encoding.DecodeFixed64(internalKey[n-NumInternalBytes : n-1]))
}

// InternalKey is an encoded internal key stored as a byte slice.
type InternalKey []byte

// NewInternalKey creates a new internal key from its user key, sequence, and kind.
func NewInternalKey(userKey []byte, seq SequenceNumber, kind Kind) InternalKey {
	return AppendInternalKey(nil, &ParsedInternalKey{
		UserKey:  userKey,
		Sequence: seq,
		Kind:     kind,
	})
}

// UserKey returns the user key portion.
func (k InternalKey) UserKey() []byte {
	return ExtractUserKey(k)
}

// Sequence returns the sequence number.
func (k InternalKey) Sequence() SequenceNumber {
	return ExtractSequenceNumber(k)
}

// Kind returns the mutation kind.
func (k InternalKey) Kind() Kind {
	return ExtractKind(k)
}

// Valid returns true if this is a well-formed internal key.
func (k InternalKey) Valid() bool {
	if len(k) < NumInternalBytes {
		return false
	}
	_, err := ParseInternalKey(k)
	return err == nil
}

// Parse returns the parsed internal key.
func (k InternalKey) Parse() (*ParsedInternalKey, error) {
	return ParseInternalKey(k)
}

// UpdateInternalKey updates an internal key's sequence number and kind in place.
// REQUIRES: the key must have space for the trailer.
func UpdateInternalKey(key *InternalKey, seq SequenceNumber, kind Kind) {
	n := len(*key)
	if n < NumInternalBytes {
		return
	}
	encoding.EncodeFixed64((*key)[n-NumInternalBytes:n-1], uint64(seq))
	(*key)[n-1] = byte(kind)
}

// DebugString returns a debug string representation of the parsed internal key.
func (p *ParsedInternalKey) DebugString() string {
	return fmt.Sprintf("'%s' @ %d : %s", p.UserKey, p.Sequence, p.Kind)
}

// BytewiseCompare is the default user key comparer: lexicographic byte
// ordering.
func BytewiseCompare(a, b []byte) int {
	minLen := min(len(a), len(b))
	for i := range minLen {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}

// Comparator orders internal keys: user key ascending, then sequence number
// descending, so that a newer write to the same key always sorts before an
// older one. ConcordKV has exactly one key ordering, so there is no
// pluggable user-key comparator.
type Comparator struct{}

// Compare returns negative if a < b, positive if a > b, zero if equal.
func (Comparator) Compare(a, b []byte) int {
	userA := ExtractUserKey(a)
	userB := ExtractUserKey(b)
	if userA == nil {
		userA = a
	}
	if userB == nil {
		userB = b
	}

	if cmp := BytewiseCompare(userA, userB); cmp != 0 {
		return cmp
	}

	if len(a) < NumInternalBytes || len(b) < NumInternalBytes {
		return 0
	}
	seqA := encoding.DecodeFixed64(a[len(a)-NumInternalBytes : len(a)-1])
	seqB := encoding.DecodeFixed64(b[len(b)-NumInternalBytes : len(b)-1])
	switch {
	case seqA > seqB:
		return -1
	case seqA < seqB:
		return 1
	default:
		return 0
	}
}

// CompareUserKey compares just the user key portion of two internal keys.
func (Comparator) CompareUserKey(a, b []byte) int {
	userA := ExtractUserKey(a)
	userB := ExtractUserKey(b)
	if userA == nil {
		userA = a
	}
	if userB == nil {
		userB = b
	}
	return BytewiseCompare(userA, userB)
}

// Default is the comparator used throughout the engine.
var Default = Comparator{}

// CompareInternalKeys is a convenience wrapper around Default.Compare.
func CompareInternalKeys(a, b []byte) int {
	return Default.Compare(a, b)
}
