// Package cpuflags implements the ARM flag-setting arithmetic primitives
// (ADD/ADC/SUB/SBC and the three shift families) as pure functions over
// 32-bit operands. None of these functions touch CPU state directly; the
// decoder calls them and decides whether to commit the returned flags.
package cpuflags

// Flags bundles the four condition flags the kernel computes. T (Thumb)
// and the IT-block fields live on the CPU, not here.
type Flags struct {
	N, Z, C, V bool
}

func signBit(x uint32) bool { return x&(1<<31) != 0 }

// Add computes a + b and the N/Z/C/V flags ARM defines for ADD.
func Add(a, b uint32) (result uint32, f Flags) {
	wide := uint64(a) + uint64(b)
	result = uint32(wide)
	f.N = signBit(result)
	f.Z = result == 0
	f.C = wide > 0xFFFFFFFF
	f.V = (a>>31 == b>>31) && (result>>31 != a>>31)
	return result, f
}

// AddWithCarry computes a + b + carryIn (ADC).
func AddWithCarry(a, b uint32, carryIn bool) (result uint32, f Flags) {
	wide := uint64(a) + uint64(b)
	if carryIn {
		wide++
	}
	result = uint32(wide)
	f.N = signBit(result)
	f.Z = result == 0
	f.C = wide > 0xFFFFFFFF
	f.V = (a>>31 == b>>31) && (result>>31 != a>>31)
	return result, f
}

// Sub computes a - b and the N/Z/C/V flags ARM defines for SUB. C is the
// NOT-borrow flag: it is set when no borrow occurred, i.e. a >= b.
func Sub(a, b uint32) (result uint32, f Flags) {
	result = a - b
	f.N = signBit(result)
	f.Z = result == 0
	f.C = a >= b
	f.V = (a>>31 != b>>31) && (result>>31 != a>>31)
	return result, f
}

// SubWithCarry computes a - b - (1 - carryIn) (SBC).
func SubWithCarry(a, b uint32, carryIn bool) (result uint32, f Flags) {
	borrow := uint64(0)
	if !carryIn {
		borrow = 1
	}
	wide := uint64(a) - uint64(b) - borrow
	result = uint32(wide)
	f.N = signBit(result)
	f.Z = result == 0
	f.C = uint64(a) >= uint64(b)+borrow
	f.V = (a>>31 != b>>31) && (result>>31 != a>>31)
	return result, f
}

// LogicalShiftLeft shifts src left by n, 0 <= n, returning the shifted-out
// carry bit. For n == 0 the caller must keep the existing C flag, since
// there is no "shifted out" bit to report; this function always returns
// false for n == 0 and the caller is expected to special-case it.
func LogicalShiftLeft(src uint32, n uint) (result uint32, carryOut bool) {
	switch {
	case n == 0:
		return src, false
	case n < 32:
		return src << n, src&(1<<(32-n)) != 0
	case n == 32:
		return 0, src&1 != 0
	default:
		return 0, false
	}
}

// LogicalShiftRight shifts src right by n (logical). Thumb format-1
// encodes "shift by 32" as n == 0; callers must normalize that before
// calling this function (pass 32, not 0).
func LogicalShiftRight(src uint32, n uint) (result uint32, carryOut bool) {
	switch {
	case n == 0:
		return src, false
	case n < 32:
		return src >> n, src&(1<<(n-1)) != 0
	case n == 32:
		return 0, src&(1<<31) != 0
	default:
		return 0, false
	}
}

// ArithmeticShiftRight shifts src right by n, preserving the sign bit for
// shifts at or beyond the register width.
func ArithmeticShiftRight(src int32, n uint) (result int32, carryOut bool) {
	switch {
	case n == 0:
		return src, false
	case n < 32:
		return src >> n, (src>>(n-1))&1 != 0
	default:
		// Saturates to all-sign-bits; the "carry out" is simply the sign.
		if src < 0 {
			return -1, true
		}
		return 0, false
	}
}

// RotateRight rotates src right by n mod 32, used by Thumb-2 modified
// immediates and by the Thumb-2 ROR shift forms. n == 0 means "no rotation";
// the caller keeps the existing C flag in that case, as with the shifts.
func RotateRight(src uint32, n uint) (result uint32, carryOut bool) {
	n &= 31
	if n == 0 {
		return src, false
	}
	result = (src >> n) | (src << (32 - n))
	carryOut = result&(1<<31) != 0
	return result, carryOut
}
