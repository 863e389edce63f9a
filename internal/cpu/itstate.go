package cpu

import "github.com/dgrr/cortexm-emu/internal/cpuflags"

// itBlock tracks the simplified IT-block state described in
// SPEC_FULL.md §4.3: up to four instructions following an IT instruction
// each execute conditionally on the same firstcond, one "remaining"
// count consumed per instruction. Real hardware's ITSTATE additionally
// toggles the condition's LSB per sub-instruction (the xyz suffixes in
// "ITTE"); this emulator does not reproduce that refinement — see
// DESIGN.md's IT-block simplification note.
type itBlock struct {
	cond      uint8
	remaining int
}

// begin initializes IT-state from the 8-bit IT instruction immediate:
// firstcond in bits [7:4], mask in bits [3:0]. The number of
// instructions the block covers is the number of mask bit positions at
// or above its lowest set bit (mask 0b1000 covers one, 0bxxx1 covers
// four), matching the ARM-defined IT encoding.
func (it *itBlock) begin(imm8 uint8) {
	firstcond := imm8 >> 4
	mask := imm8 & 0xF
	it.cond = firstcond
	it.remaining = countITInstructions(mask)
}

func countITInstructions(mask uint8) int {
	switch {
	case mask&0x1 != 0:
		return 4
	case mask&0x2 != 0:
		return 3
	case mask&0x4 != 0:
		return 2
	case mask&0x8 != 0:
		return 1
	default:
		return 0
	}
}

// active reports whether an IT-block instruction is pending.
func (it *itBlock) active() bool { return it.remaining > 0 }

// consume evaluates the pending condition and consumes one instruction
// slot from the block, clearing it entirely once exhausted.
func (it *itBlock) consume(f cpuflags.Flags) bool {
	cond, _ := cpuflags.EvalCondition(it.cond, f)
	it.remaining--
	if it.remaining <= 0 {
		*it = itBlock{}
	}
	return cond
}
