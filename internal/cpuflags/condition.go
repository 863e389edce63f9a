package cpuflags

// Condition codes, as they appear in the 4-bit cond field of conditional
// branches and IT-block firstcond.
const (
	CondEQ uint8 = 0x0
	CondNE uint8 = 0x1
	CondCS uint8 = 0x2
	CondCC uint8 = 0x3
	CondMI uint8 = 0x4
	CondPL uint8 = 0x5
	CondVS uint8 = 0x6
	CondVC uint8 = 0x7
	CondHI uint8 = 0x8
	CondLS uint8 = 0x9
	CondGE uint8 = 0xA
	CondLT uint8 = 0xB
	CondGT uint8 = 0xC
	CondLE uint8 = 0xD
	CondAL uint8 = 0xE
	CondNV uint8 = 0xF
)

// EvalCondition evaluates a 4-bit condition code against the current
// flags. ok is false only for the reserved NV encoding.
//
// LE/GT are resolved as documented in DESIGN.md: BLE is Z==1 OR N!=V,
// matching observed compiler output and the HI/LS symmetry.
func EvalCondition(cond uint8, f Flags) (result bool, ok bool) {
	switch cond {
	case CondEQ:
		return f.Z, true
	case CondNE:
		return !f.Z, true
	case CondCS:
		return f.C, true
	case CondCC:
		return !f.C, true
	case CondMI:
		return f.N, true
	case CondPL:
		return !f.N, true
	case CondVS:
		return f.V, true
	case CondVC:
		return !f.V, true
	case CondHI:
		return f.C && !f.Z, true
	case CondLS:
		return !f.C || f.Z, true
	case CondGE:
		return f.N == f.V, true
	case CondLT:
		return f.N != f.V, true
	case CondGT:
		return !f.Z && f.N == f.V, true
	case CondLE:
		return f.Z || f.N != f.V, true
	case CondAL:
		return true, true
	default: // CondNV
		return false, false
	}
}
