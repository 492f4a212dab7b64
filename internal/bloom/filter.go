package bloom

// Variant selects the bit-array layout used by an SSTable's filter block.
type Variant uint8

const (
	// VariantStandard uses github.com/bits-and-blooms/bloom/v3 directly.
	VariantStandard Variant = iota
	// VariantBlocked guarantees single-cache-line lookups.
	VariantBlocked
	// VariantRegisterBlocked guarantees single-register lookups with a
	// smaller minimum allocation than Blocked.
	VariantRegisterBlocked
	// VariantCounting supports removal at the cost of one byte per slot.
	VariantCounting
)

// String returns the human-readable variant name.
func (v Variant) String() string {
	switch v {
	case VariantStandard:
		return "Standard"
	case VariantBlocked:
		return "Blocked"
	case VariantRegisterBlocked:
		return "RegisterBlocked"
	case VariantCounting:
		return "Counting"
	default:
		return "Unknown"
	}
}

// Filter is the variant-agnostic interface SSTable writers and readers use.
type Filter interface {
	Add(key []byte)
	MayContain(key []byte) bool
}

// Build constructs a fresh, empty filter of the requested variant and hash
// family, sized by params.
func Build(variant Variant, family HashFamily, p Params) Filter {
	switch variant {
	case VariantStandard:
		return NewStandard(p)
	case VariantRegisterBlocked:
		return NewRegisterBlocked(p, family)
	case VariantCounting:
		return NewCounting(p, family)
	case VariantBlocked:
		fallthrough
	default:
		return NewBlocked(p, family)
	}
}
