package blink

// accountOverhead is the per-slot metadata charged on top of the data bytes.
const accountOverhead = 128

// Rent prices the deposit an owner locks when a slot is allocated.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent mirrors the usual cluster parameters.
var DefaultRent = Rent{LamportsPerByteYear: 3480, ExemptionYears: 2}

// MinimumBalance returns the deposit needed to keep a slot of the given capacity alive.
func (r Rent) MinimumBalance(capacity int) uint64 {
	if capacity < 0 {
		capacity = 0
	}
	return (accountOverhead + uint64(capacity)) * r.LamportsPerByteYear * r.ExemptionYears
}
