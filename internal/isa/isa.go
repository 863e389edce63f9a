// Package isa names the two instruction-set profiles the decoder and
// router both consult wherever Cortex-M0 and Cortex-M4 behavior diverges.
// There is exactly one decoder and one router implementation; isa.Level
// is a field on each, never a build tag or a second code path.
package isa

type Level int

const (
	// M0 is the base Cortex-M0 profile: Thumb-16 only, no IT blocks, no
	// CBZ/CBNZ, unaligned accesses fault.
	M0 Level = iota
	// M4 is the extended Cortex-M4 profile: adds Thumb-2 32-bit
	// encodings, IT blocks, CBZ/CBNZ, and unaligned loads/stores to
	// RAM/flash/peripherals that don't themselves require alignment.
	M4
)

func (l Level) String() string {
	if l == M4 {
		return "cortex-m4"
	}
	return "cortex-m0"
}

// AllowsUnalignedAccess reports whether loads/stores need not be aligned
// to their width outside of flash program/erase and peripheral access
// (which are always word-aligned on both profiles).
func (l Level) AllowsUnalignedAccess() bool {
	return l == M4
}

// HasThumb2 reports whether 32-bit Thumb-2 encodings, IT blocks and
// CBZ/CBNZ are decoded.
func (l Level) HasThumb2() bool {
	return l == M4
}
