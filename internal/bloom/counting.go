package bloom

import "github.com/bits-and-blooms/bitset"

// Counting is a counting bloom filter: each slot is a small saturating
// counter rather than a single bit, which lets entries be removed (e.g. on
// compaction drop of an obsolete filter entry) without rebuilding the whole
// filter. Counters saturate at 15 and never wrap.
type Counting struct {
	counters  []uint8
	present   *bitset.BitSet
	numProbes int
	family    HashFamily
}

const counterMax = 15

// NewCounting allocates a Counting filter sized for params.
func NewCounting(p Params, family HashFamily) *Counting {
	return &Counting{
		counters:  make([]uint8, p.NumBits),
		present:   bitset.New(uint(p.NumBits)),
		numProbes: p.NumHashes,
		family:    family,
	}
}

// Add inserts key, incrementing each probed counter.
func (c *Counting) Add(key []byte) {
	h1, h2 := pairHash(c.family, key)
	n := uint64(len(c.counters))
	for i := range c.numProbes {
		pos := probe(h1, h2, i) % n
		if c.counters[pos] < counterMax {
			c.counters[pos]++
		}
		c.present.Set(uint(pos))
	}
}

// Remove decrements each probed counter, used when a key is known to have
// been previously added (e.g. during compaction of a filter covering a
// dropped range).
func (c *Counting) Remove(key []byte) {
	h1, h2 := pairHash(c.family, key)
	n := uint64(len(c.counters))
	for i := range c.numProbes {
		pos := probe(h1, h2, i) % n
		if c.counters[pos] > 0 && c.counters[pos] < counterMax {
			c.counters[pos]--
			if c.counters[pos] == 0 {
				c.present.Clear(uint(pos))
			}
		}
	}
}

// MayContain reports whether key may have been inserted.
func (c *Counting) MayContain(key []byte) bool {
	h1, h2 := pairHash(c.family, key)
	n := uint64(len(c.counters))
	for i := range c.numProbes {
		pos := probe(h1, h2, i) % n
		if c.counters[pos] == 0 {
			return false
		}
	}
	return true
}

// NumProbes returns the number of probes per key.
func (c *Counting) NumProbes() int { return c.numProbes }

// Counters exposes the backing counter array for persistence.
func (c *Counting) Counters() []uint8 { return c.counters }

// LoadCounting reconstructs a Counting filter from persisted counters.
func LoadCounting(counters []uint8, numProbes int, family HashFamily) *Counting {
	present := bitset.New(uint(len(counters)))
	for i, v := range counters {
		if v > 0 {
			present.Set(uint(i))
		}
	}
	return &Counting{counters: counters, present: present, numProbes: numProbes, family: family}
}
