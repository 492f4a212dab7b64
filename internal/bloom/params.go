// Package bloom implements the SSTable bloom filter variants: a choice of
// bit-array layout (Standard, Blocked, RegisterBlocked, Counting) crossed
// with a choice of hash family (Murmur3, FNV-1a, XXH3-derived, Hybrid).
package bloom

import "math"

// Params holds the derived size of a bloom filter: number of bits (m) and
// number of hash probes (k), computed from the expected entry count (n) and
// a target false-positive rate.
type Params struct {
	NumEntries    int
	NumBits       uint64
	NumHashes     int
	TargetFPRate  float64
}

// Derive computes the (m, k) parameters that achieve targetFPRate for n
// expected entries, using the standard bloom filter formulas:
//
//	m = ceil(-n * ln(p) / (ln(2)^2))
//	k = round((m / n) * ln(2))
func Derive(n int, targetFPRate float64) Params {
	if n <= 0 {
		n = 1
	}
	if targetFPRate <= 0 || targetFPRate >= 1 {
		targetFPRate = 0.01
	}

	ln2 := math.Ln2
	m := math.Ceil(-float64(n) * math.Log(targetFPRate) / (ln2 * ln2))
	if m < 64 {
		m = 64
	}
	k := int(math.Round((m / float64(n)) * ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	return Params{
		NumEntries:   n,
		NumBits:      uint64(m),
		NumHashes:    k,
		TargetFPRate: targetFPRate,
	}
}

// BitsPerKey returns the average number of bits allocated per entry.
func (p Params) BitsPerKey() float64 {
	if p.NumEntries == 0 {
		return 0
	}
	return float64(p.NumBits) / float64(p.NumEntries)
}
