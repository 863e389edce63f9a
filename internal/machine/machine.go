// Package machine wires a decoder and an address-space router together
// into the control surface shared by the CLI front end and the debug
// server: load firmware, reset, single-step or run freely, and inspect
// registers/memory from outside the run loop. This generalizes the
// teacher's top-level Emulator type (one struct owning CPU + bus +
// atomic pause/quit flags) to the present instruction set.
package machine

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dgrr/cortexm-emu/internal/cpu"
	"github.com/dgrr/cortexm-emu/internal/cpuflags"
	"github.com/dgrr/cortexm-emu/internal/emuresult"
	"github.com/dgrr/cortexm-emu/internal/isa"
	"github.com/dgrr/cortexm-emu/internal/logx"
	"github.com/dgrr/cortexm-emu/internal/memory"
	"github.com/dgrr/cortexm-emu/internal/router"
)

// Config bundles the construction-time parameters of a Machine.
type Config struct {
	ImageSize  int
	PageSize   int
	MemSize    int
	ISALevel   isa.Level
	UARTSource router.CharSource
	UARTSink   router.CharSink
	Log        *logx.Logger
}

// Machine owns exactly one CPU and one Router and is the only type that
// threads memory.Bus between them. Everything outside this package talks
// to the emulator core only through Machine's methods.
type Machine struct {
	cpu    *cpu.CPU
	router *router.Router
	log    *logx.Logger

	haltFlag atomic.Bool
	halted   chan struct{}
}

// New validates cfg and builds a Machine with an all-0xFF flash image and
// a zeroed register file; call Load then Reset before stepping.
func New(cfg Config) (*Machine, error) {
	if cfg.ImageSize < 64 {
		return nil, fmt.Errorf("image size %d is too small to hold a vector table", cfg.ImageSize)
	}
	if !isPowerOfTwo(cfg.PageSize) || cfg.ImageSize%cfg.PageSize != 0 {
		return nil, fmt.Errorf("pagesize %d must be a power of two dividing image size %d", cfg.PageSize, cfg.ImageSize)
	}

	log := cfg.Log
	if log == nil {
		log = logx.New("machine", logx.LevelError)
	}

	r := router.New(router.Config{
		ImageSize:  cfg.ImageSize,
		PageSize:   cfg.PageSize,
		MemSize:    cfg.MemSize,
		ISALevel:   cfg.ISALevel,
		UARTSource: cfg.UARTSource,
		UARTSink:   cfg.UARTSink,
		Log:        log,
	})

	return &Machine{
		cpu:    cpu.New(cfg.ISALevel, log),
		router: r,
		log:    log,
		halted: make(chan struct{}, 1),
	}, nil
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// Load copies firmware into the prefix of the flash image.
func (m *Machine) Load(firmware []byte) error {
	return m.router.LoadFirmware(firmware)
}

// Reset re-derives the initial register state from the vector table at
// the head of flash: word 0 is SP, word 1 is PC (bit 0 must be set,
// matching the ARM reset-vector convention; the Thumb bit is then masked
// off before it's loaded into the running PC register, since this
// emulator has no separate EPSR.T to track — every decode is Thumb).
// The stripped bit is restored by ReadRegister on any external read of
// PC, so a debugger or register dump still observes bit 0 set.
func (m *Machine) Reset() error {
	m.cpu.ResetState()
	image := m.router.Image()
	if len(image) < 8 {
		return fmt.Errorf("flash image is too small to hold a vector table")
	}
	sp := binary.LittleEndian.Uint32(image[0:4])
	pcWord := binary.LittleEndian.Uint32(image[4:8])
	if pcWord&1 == 0 {
		return fmt.Errorf("reset vector %#08x does not have the Thumb bit set", pcWord)
	}
	pc := pcWord &^ 1

	m.cpu.SetSP(sp)
	m.cpu.SetPC(pc)
	m.cpu.SetLR(cpu.ExitSentinel)
	m.cpu.SeedBacktrace(pc)
	return nil
}

// Step executes exactly one instruction.
func (m *Machine) Step() emuresult.Result {
	res := cpu.Step(m.cpu, m.router, m.router.Image())
	if res.Fatal() {
		m.logFatal(res)
	}
	return res
}

// Run steps until a fatal result, an exit, or a halt request. On entry
// to every iteration it checks and clears the halt flag first, so a
// RequestHalt that lands between two Run calls is observed promptly
// rather than after one extra instruction executes.
func (m *Machine) Run() emuresult.Result {
	for {
		if m.haltFlag.CompareAndSwap(true, false) {
			select {
			case m.halted <- struct{}{}:
			default:
			}
			return emuresult.Halt
		}

		res := cpu.Step(m.cpu, m.router, m.router.Image())
		switch res {
		case emuresult.OK:
			continue
		case emuresult.Exit:
			return res
		default:
			if res.Fatal() {
				m.logFatal(res)
			}
			return res
		}
	}
}

// RequestHalt asynchronously flags the run loop to stop before its next
// instruction; safe to call from any goroutine while Run is in flight.
func (m *Machine) RequestHalt() { m.haltFlag.Store(true) }

// WaitHalted blocks until a pending Run call has observed a halt
// request and returned, or returns immediately if one already has.
// Debug servers use this to avoid racing Run's return against their own
// resumed inspection of machine state.
func (m *Machine) WaitHalted() { <-m.halted }

// SetBreakpoint writes hardware-breakpoint slot i (0-3); address 0
// disables that slot.
func (m *Machine) SetBreakpoint(slot int, address uint32) error {
	return m.cpu.SetBreakpoint(slot, address)
}

// ReadRegister returns register i in the form external readers (GDB, a
// register dump) expect. i == 15 is PC with its Thumb bit restored: the
// CPU holds PC internally without that bit (decode.go faults on a PC
// with bit 0 set), but every externally-visible PC value, including a
// breakpoint-stop readback, must have bit 0 set per the reset-vector
// convention. i == 16 synthesizes an xPSR word from the current N/Z/C/V
// flags (bit 24, the T bit, is always set since this emulator decodes
// Thumb exclusively).
func (m *Machine) ReadRegister(i int) uint32 {
	switch i {
	case 15:
		return m.cpu.PC() | 1
	case 16:
		return xpsr(m.cpu.Flags())
	default:
		return m.cpu.Reg(i)
	}
}

func xpsr(f cpuflags.Flags) uint32 {
	var v uint32 = 1 << 24
	if f.N {
		v |= 1 << 31
	}
	if f.Z {
		v |= 1 << 30
	}
	if f.C {
		v |= 1 << 29
	}
	if f.V {
		v |= 1 << 28
	}
	return v
}

// ReadRegisters packs up to n little-endian 32-bit registers (r0-r15
// plus the synthesized xPSR word at index 16) into buf, clamping n down
// to 17 and to the space buf actually has. It returns the number of
// registers written.
func (m *Machine) ReadRegisters(buf []byte, n int) int {
	if n > 17 {
		n = 17
	}
	if max := len(buf) / 4; n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], m.ReadRegister(i))
	}
	return n
}

// ReadMemory copies length bytes starting at address through the router,
// so peripheral side effects (e.g. draining UART RXD) are observable
// exactly as they would be to firmware. It uses word transfers when both
// address and length are 4-byte aligned, byte transfers otherwise.
func (m *Machine) ReadMemory(buf []byte, address uint32, length int) error {
	if len(buf) < length {
		return fmt.Errorf("buffer of %d bytes is too small for %d requested", len(buf), length)
	}
	if address&3 == 0 && length&3 == 0 {
		for i := 0; i < length; i += 4 {
			v, err := m.router.Load(address+uint32(i), memory.Width32, false)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint32(buf[i:i+4], v)
		}
		return nil
	}
	for i := 0; i < length; i++ {
		v, err := m.router.Load(address+uint32(i), memory.Width8, false)
		if err != nil {
			return err
		}
		buf[i] = byte(v)
	}
	return nil
}

// logFatal prints a register snapshot and the backtrace, matching the
// teacher's panic-time dump. The register dump is skipped when the
// logger is already at INSTRS level, since every step has been printing
// register-level detail all along; the backtrace itself always prints.
func (m *Machine) logFatal(res emuresult.Result) {
	m.log.Errorf("fatal: %s at pc=%#08x", res, m.cpu.PC())
	if m.log.Level() < logx.LevelInstrs {
		for i := 0; i < 16; i++ {
			m.log.Errorf("  r%d = %#08x", i, m.cpu.Reg(i))
		}
	}

	m.cpu.RecordBacktrace(m.cpu.PC())
	depth := m.cpu.CallDepth()
	for i := depth; i >= 1; i-- {
		pc, sp, ok := m.cpu.BacktraceEntry(i)
		if !ok {
			continue
		}
		m.log.Errorf("  #%d pc=%#08x sp=%#08x", depth-i, pc, sp)
	}
}
