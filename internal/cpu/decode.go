package cpu

import (
	"github.com/dgrr/cortexm-emu/internal/emuresult"
	"github.com/dgrr/cortexm-emu/internal/memory"
)

// execState is the per-step context threaded through every format
// handler: the CPU, the bus for anything beyond PC-relative flash
// fetch, and the flash image fetch itself goes through directly since
// PC is always flash-resident.
type execState struct {
	c     *CPU
	bus   memory.Bus
	image []byte
}

// Step fetches, classifies and executes exactly one instruction,
// implementing the preconditions and the format dispatch ladder from
// SPEC_FULL.md §4.3. The fixed order of the IsXxx predicates below
// matters: shorter-prefix catches must not swallow longer-prefix
// encodings, which is why sign/zero-extend and add-to-SP are tested
// before the generic push/pop bucket, and CBZ/CBNZ after both.
func Step(c *CPU, bus memory.Bus, image []byte) emuresult.Result {
	pc := c.PC()

	if c.breakpointHit(pc) {
		return emuresult.BreakHit
	}
	if pc|1 == ExitSentinel {
		// BX/POP-PC always clear bit 0 before loading PC, so a firmware
		// function "returning" to the sentinel LR set at reset lands on
		// ExitSentinel&^1, not ExitSentinel itself.
		return emuresult.Exit
	}
	if pc > uint32(len(image))-2 || pc&1 != 0 {
		// PC is held internally without the Thumb bit (Reset strips it
		// after checking the reset vector has it set); a set bit 0 here
		// means something wrote an externally-formatted address straight
		// into PC instead of going through SetPC with it cleared.
		return emuresult.FaultPC
	}

	opcode := uint16(image[pc]) | uint16(image[pc+1])<<8
	c.SetPC(pc + 2)

	es := &execState{c: c, bus: bus, image: image}

	if c.it.active() {
		if !c.it.consume(c.Flags()) {
			// Condition false: skip this instruction. A 32-bit Thumb-2
			// encoding inside an IT block must be skipped whole.
			if c.isaLevel.HasThumb2() && isThumb2Prefix(opcode) {
				c.SetPC(c.PC() + 2)
			}
			return emuresult.OK
		}
		// Condition true: the instruction executes, but per the IT-block
		// rule its S-form ALU flag writes are suppressed for the
		// duration of this one dispatch.
		c.suppressFlags = true
		defer func() { c.suppressFlags = false }()
	}

	c.log.Instrf("pc=%#x opcode=%#04x", pc, opcode)

	res := es.dispatch(opcode)
	if res == emuresult.Undefined {
		// Every Undefined result leaves PC at the start of the offending
		// instruction, including formats that decode but are not
		// implemented (ROR, MOVT).
		c.SetPC(pc)
	}
	return res
}

// isThumb2Prefix reports whether a halfword's high bits mark it as the
// first half of a 32-bit Thumb-2 encoding (bits [15:11] one of 0b11101,
// 0b11110, 0b11111).
func isThumb2Prefix(opcode uint16) bool {
	top5 := opcode >> 11
	return top5 == 0b11101 || top5 == 0b11110 || top5 == 0b11111
}

func (es *execState) dispatch(opcode uint16) emuresult.Result {
	c := es.c
	switch {
	case isBKPT(opcode):
		return es.execBKPT(opcode)
	case isSignZeroExtend(opcode):
		es.execSignZeroExtend(opcode)
		return emuresult.OK
	case isAddSubSP(opcode):
		es.execAddSubSP(opcode)
		return emuresult.OK
	case isRev(opcode):
		return es.execRev(opcode)
	case isCBZCBNZ(opcode) && c.isaLevel.HasThumb2():
		es.execCBZCBNZ(opcode)
		return emuresult.OK
	case isITOrHint(opcode) && c.isaLevel.HasThumb2():
		es.execITOrHint(opcode)
		return emuresult.OK
	case isPushPop(opcode):
		return es.execPushPop(opcode)
	case isUnconditionalBranch(opcode):
		es.execUnconditionalBranch(opcode)
		return emuresult.OK
	case isConditionalBranch(opcode):
		return es.execConditionalBranch(opcode)
	case isLoadStoreMultiple(opcode):
		return es.execLoadStoreMultiple(opcode)
	case isLoadAddress(opcode):
		es.execLoadAddress(opcode)
		return emuresult.OK
	case isSPRelativeLoadStore(opcode):
		return es.execSPRelativeLoadStore(opcode)
	case isLoadStoreHalfword(opcode):
		return es.execLoadStoreHalfword(opcode)
	case isLoadStoreSignExtended(opcode):
		return es.execLoadStoreSignExtended(opcode)
	case isLoadStoreRegOffset(opcode):
		return es.execLoadStoreRegOffset(opcode)
	case isLoadStoreImmOffset(opcode):
		return es.execLoadStoreImmOffset(opcode)
	case isHiRegisterOpsBX(opcode):
		return es.execHiRegisterOpsBX(opcode)
	case isPCRelativeLoad(opcode):
		es.execPCRelativeLoad(opcode)
		return emuresult.OK
	case isALUOperations(opcode):
		return es.execALUOperations(opcode)
	case isMoveCmpAddSubImm(opcode):
		es.execMoveCmpAddSubImm(opcode)
		return emuresult.OK
	case isAddSubtract(opcode):
		es.execAddSubtract(opcode)
		return emuresult.OK
	case isMoveShiftedRegister(opcode):
		es.execMoveShiftedRegister(opcode)
		return emuresult.OK
	case isThumb2Prefix(opcode):
		return es.dispatchThumb2(opcode)
	default:
		c.SetPC(c.PC() - 2)
		return emuresult.Undefined
	}
}
