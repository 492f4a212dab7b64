package bloom

import (
	boom "github.com/bits-and-blooms/bloom/v3"
)

// Standard wraps github.com/bits-and-blooms/bloom/v3, the reference
// implementation used when filter placement doesn't need the Blocked
// variant's single-cache-line guarantee.
type Standard struct {
	filter *boom.BloomFilter
}

// NewStandard allocates a Standard filter sized for params.
func NewStandard(p Params) *Standard {
	return &Standard{filter: boom.New(uint(p.NumBits), uint(p.NumHashes))}
}

// NewStandardWithEstimates allocates a Standard filter sized by the
// library's own (n, falsePositiveRate) estimator.
func NewStandardWithEstimates(n int, falsePositiveRate float64) *Standard {
	return &Standard{filter: boom.NewWithEstimates(uint(n), falsePositiveRate)}
}

// Add inserts key into the filter.
func (s *Standard) Add(key []byte) { s.filter.Add(key) }

// MayContain reports whether key may have been inserted.
func (s *Standard) MayContain(key []byte) bool { return s.filter.Test(key) }

// MarshalBinary serializes the filter for SSTable filter blocks.
func (s *Standard) MarshalBinary() ([]byte, error) { return s.filter.MarshalBinary() }

// LoadStandard reconstructs a Standard filter from persisted bytes.
func LoadStandard(data []byte) (*Standard, error) {
	f := &boom.BloomFilter{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &Standard{filter: f}, nil
}
