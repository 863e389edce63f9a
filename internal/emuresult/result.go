// Package emuresult defines the state-machine result codes Step and Run
// exchange, shared by the decoder, the router's fault and the machine
// controller so none of them need to import one another just to agree on
// a status code.
package emuresult

// Result is returned by Step and by Run's final iteration.
type Result int

const (
	// OK means the instruction completed normally; the run loop continues.
	OK Result = iota
	// Exit means PC reached the sentinel return address 0xdeadbeef.
	Exit
	// Halt means the halt flag was observed at the top of the run loop.
	Halt
	// BreakHit means a hardware breakpoint address or a non-magic BKPT
	// immediate was hit.
	BreakHit
	// FaultPC means PC was out of range or had its Thumb bit set. PC is
	// held internally without the Thumb bit (bit 0 is always 0 between
	// steps); callers that read PC through Machine.ReadRegister see it
	// with bit 0 restored, matching the externally-visible convention.
	FaultPC
	// FaultMemory means the router rejected a load or store.
	FaultMemory
	// Undefined means the fetched halfword did not decode to any known
	// instruction format, or decoded to one this emulator does not
	// implement (format-4 ROR, MOVT).
	Undefined
	// DivideByZero means SDIV/UDIV was executed with a zero divisor.
	DivideByZero
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Exit:
		return "Exit"
	case Halt:
		return "Halt"
	case BreakHit:
		return "BreakHit"
	case FaultPC:
		return "FaultPC"
	case FaultMemory:
		return "FaultMemory"
	case Undefined:
		return "Undefined"
	case DivideByZero:
		return "DivideByZero"
	default:
		return "Result(?)"
	}
}

// Fatal reports whether Run must stop and print diagnostics for this
// result. OK, Exit and Halt are the three non-fatal outcomes.
func (r Result) Fatal() bool {
	switch r {
	case OK, Exit, Halt:
		return false
	default:
		return true
	}
}
