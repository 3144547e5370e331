package types

// BindingType is the middleware variant a trace client publishes through.
type BindingType uint8

const (
	BindingLoLa BindingType = iota
	BindingVector
	BindingVectorZeroCopy
	// BindingUndefined is the sentinel rejected at registration.
	BindingUndefined
)

// Valid reports whether b is a concrete binding.
func (b BindingType) Valid() bool {
	return b < BindingUndefined
}

func (b BindingType) String() string {
	switch b {
	case BindingLoLa:
		return "lola"
	case BindingVector:
		return "vector"
	case BindingVectorZeroCopy:
		return "vector_zero_copy"
	default:
		return "undefined"
	}
}

// ParseBindingType maps a name produced by String back to a BindingType.
func ParseBindingType(s string) BindingType {
	for b := BindingLoLa; b < BindingUndefined; b++ {
		if b.String() == s {
			return b
		}
	}
	return BindingUndefined
}
