// Package cpu implements the Thumb/Thumb-2 instruction decoder and
// executor: the single-step function that fetches a halfword at PC,
// classifies it into one of the Thumb-16 formats or a Thumb-2 32-bit
// family, and carries out its effect on registers, flags and memory.
//
// This generalizes the teacher's register-bank-plus-accessor-methods
// idiom (internal/cpu's ReadReg/WriteReg) to a Cortex-M register file,
// which has no FIQ/IRQ/SVC/ABT/UND banking to speak of — there is
// exactly one register bank.
package cpu

import (
	"github.com/dgrr/cortexm-emu/internal/cpuflags"
	"github.com/dgrr/cortexm-emu/internal/isa"
	"github.com/dgrr/cortexm-emu/internal/logx"
)

// Register indices. Decisions about "is this SP/PC" are made by
// comparing one of these indices, never a pointer, per DESIGN.md.
const (
	R0    = 0
	R13SP = 13
	R14LR = 14
	R15PC = 15
)

// BacktraceLen bounds the call/return bookkeeping array; exceeding it
// stops recording but never stops execution.
const BacktraceLen = 100

// ExitSentinel is the LR value written at reset; a top-level function
// "returning" to it terminates the run loop with Result.Exit.
const ExitSentinel = 0xdeadbeef

// btEntry is one (return PC, SP-at-call) pair.
type btEntry struct {
	pc uint32
	sp uint32
}

// CPU holds everything the decoder needs that isn't memory: the
// register file, condition flags, IT-block state, hardware breakpoints
// and the diagnostic backtrace. internal/machine.Machine owns one CPU
// and one router.Router and wires them together through memory.Bus.
type CPU struct {
	regs  [16]uint32
	flags cpuflags.Flags

	it            itBlock
	suppressFlags bool

	isaLevel isa.Level

	hwbreak [4]uint32

	callDepth int
	backtrace [BacktraceLen]btEntry

	log *logx.Logger
}

// New creates a CPU with all registers zeroed; the machine controller's
// Reset is responsible for setting SP/PC/LR from the firmware image.
func New(level isa.Level, log *logx.Logger) *CPU {
	return &CPU{isaLevel: level, log: log}
}

// Reg reads general-purpose register i (0-15).
func (c *CPU) Reg(i int) uint32 { return c.regs[i] }

// SetReg writes general-purpose register i (0-15). Writing PC does not
// itself perform any Thumb-bit normalization; PC is held without the
// Thumb bit, so callers that branch are responsible for clearing bit 0
// of the target before writing it.
func (c *CPU) SetReg(i int, v uint32) { c.regs[i] = v }

func (c *CPU) SP() uint32     { return c.regs[R13SP] }
func (c *CPU) SetSP(v uint32) { c.regs[R13SP] = v }
func (c *CPU) LR() uint32     { return c.regs[R14LR] }
func (c *CPU) SetLR(v uint32) { c.regs[R14LR] = v }
func (c *CPU) PC() uint32     { return c.regs[R15PC] }
func (c *CPU) SetPC(v uint32) { c.regs[R15PC] = v }

// Flags returns the current N/Z/C/V flags.
func (c *CPU) Flags() cpuflags.Flags { return c.flags }

// SetFlags overwrites N/Z/C/V atomically with respect to the
// instruction boundary: callers compute the full new Flags value before
// calling this, never mutate fields of the live state in place. It is a
// no-op while suppressFlags is set, which decode.go arranges for every
// S-form ALU op executed because an IT-block condition evaluated true.
func (c *CPU) SetFlags(f cpuflags.Flags) {
	if c.suppressFlags {
		return
	}
	c.flags = f
}

// ISALevel reports which profile (M0 or M4) this CPU decodes as.
func (c *CPU) ISALevel() isa.Level { return c.isaLevel }

// ResetState clears registers, flags, IT-state and the backtrace. The
// caller (internal/machine) still has to set SP/PC/LR from the
// firmware image afterwards.
func (c *CPU) ResetState() {
	c.regs = [16]uint32{}
	c.flags = cpuflags.Flags{}
	c.it = itBlock{}
	c.suppressFlags = false
	c.callDepth = 1
	c.backtrace = [BacktraceLen]btEntry{}
}

// SetBreakpoint writes hardware-breakpoint slot i (0-3); address 0
// disables that slot.
func (c *CPU) SetBreakpoint(slot int, address uint32) error {
	if slot < 0 || slot >= len(c.hwbreak) {
		return errInvalidSlot(slot)
	}
	c.hwbreak[slot] = address
	return nil
}

// breakpointHit reports whether pc matches any enabled hardware
// breakpoint.
func (c *CPU) breakpointHit(pc uint32) bool {
	for _, addr := range c.hwbreak {
		if addr != 0 && addr == pc {
			return true
		}
	}
	return false
}

// CallDepth and BacktraceEntry are exposed read-only for diagnostics and
// for the property test that bounds the backtrace length.
func (c *CPU) CallDepth() int { return c.callDepth }

func (c *CPU) BacktraceEntry(i int) (pc, sp uint32, ok bool) {
	if i < 0 || i >= len(c.backtrace) || i > c.callDepth {
		return 0, 0, false
	}
	e := c.backtrace[i]
	return e.pc, e.sp, true
}

// pushBacktrace implements the SP-pruning protocol: before recording a
// new call, drop stale entries whose recorded SP is at or above the
// current SP (they belong to a frame that has already unwound, e.g. via
// a tail call whose return never executed a matching POP-PC).
func (c *CPU) pushBacktrace(returnPC, sp uint32) {
	for c.callDepth > 1 && c.backtrace[c.callDepth].sp >= sp {
		c.callDepth--
	}
	c.callDepth++
	if c.callDepth >= 0 && c.callDepth < len(c.backtrace) {
		c.backtrace[c.callDepth] = btEntry{pc: returnPC, sp: sp}
	}
}

// RecordBacktrace appends pc (at the current SP) to the backtrace,
// pruning stale entries first. Used by internal/machine to capture the
// faulting PC before printing a backtrace on a fatal result.
func (c *CPU) RecordBacktrace(pc uint32) {
	c.pushBacktrace(pc, c.SP())
}

// SeedBacktrace records the entry point at reset, matching
// machine_reset's backtrace[1] initialization in the original source.
// The caller (internal/machine) calls this after setting SP and PC.
func (c *CPU) SeedBacktrace(pc uint32) {
	c.callDepth = 1
	c.backtrace[1] = btEntry{pc: pc, sp: c.SP()}
}

type invalidSlotError int

func (e invalidSlotError) Error() string { return "breakpoint slot out of range" }

func errInvalidSlot(slot int) error { return invalidSlotError(slot) }
