// Package router implements the address-space router: it dispatches
// every load and store from the decoder to flash, SRAM, a peripheral
// handler, the private peripheral bus, or a fault, enforcing alignment
// and writability along the way. It is the Go equivalent of the
// teacher's internal/bus package, generalized from the GBA's fixed
// memory map to the nRF51/52-style map this emulator targets.
package router

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/dgrr/cortexm-emu/internal/isa"
	"github.com/dgrr/cortexm-emu/internal/logx"
	"github.com/dgrr/cortexm-emu/internal/memory"
)

// ErrFaultMemory is returned by Load/Store whenever the router rejects a
// transfer: out-of-range address, bad alignment, a read-only flash
// store, or an address with no handler at all.
var ErrFaultMemory = errors.New("fault: invalid memory access")

// CharSource is the host-side byte source backing UART RXD. It mirrors
// internal/hostio.CharSource structurally so this package never needs to
// import internal/hostio.
type CharSource interface {
	GetChar() int32
}

// CharSink is the host-side byte sink backing UART TXD.
type CharSink interface {
	PutChar(b byte)
}

// region is selected by the top 3 bits of a 32-bit address.
type region uint32

const (
	regionFlash region = 0b000
	regionSRAM  region = 0b001
	regionPeriph region = 0b010
	regionPPB   region = 0b111
)

// Router owns the flash and SRAM backing arrays and the peripheral
// state (UART acknowledgement is stateless, RNG is stateless, NVMC and
// NVIC are not).
type Router struct {
	image         []byte
	imageWritable bool
	pagesize      int

	mem []byte

	nvic [8]uint32

	isaLevel isa.Level

	uartSource CharSource
	uartSink   CharSink
	rng        *rand.Rand

	log *logx.Logger
}

// Config bundles the construction-time parameters of a Router.
type Config struct {
	ImageSize  int
	PageSize   int
	MemSize    int
	ISALevel   isa.Level
	UARTSource CharSource
	UARTSink   CharSink
	Log        *logx.Logger
	Rand       *rand.Rand // nil uses a source seeded with 1 (deterministic)
}

// New builds a Router with an all-0xFF flash image (erased NOR flash)
// and a zero-initialized SRAM buffer.
func New(cfg Config) *Router {
	image := make([]byte, cfg.ImageSize)
	for i := range image {
		image[i] = 0xFF
	}
	r := &Router{
		image:      image,
		pagesize:   cfg.PageSize,
		mem:        make([]byte, cfg.MemSize),
		isaLevel:   cfg.ISALevel,
		uartSource: cfg.UARTSource,
		uartSink:   cfg.UARTSink,
		rng:        cfg.Rand,
		log:        cfg.Log,
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(1))
	}
	return r
}

// LoadFirmware copies data into the prefix of the flash image. Bytes
// beyond len(data) are left as whatever they already were (0xFF right
// after New, or whatever a prior NVMC erase/program left behind).
func (r *Router) LoadFirmware(data []byte) error {
	if len(data) > len(r.image) {
		return fmt.Errorf("firmware is %d bytes, flash image is only %d bytes", len(data), len(r.image))
	}
	copy(r.image, data)
	return nil
}

// Image exposes the flash buffer, for the machine controller's reset
// (reading the initial SP/PC words) and for instruction fetch in Step.
func (r *Router) Image() []byte { return r.image }

// SetImageWritable is exercised directly by tests; ordinary firmware
// flips it via NVMC.CONFIG.
func (r *Router) SetImageWritable(w bool) { r.imageWritable = w }

func classify(addr uint32) region {
	return region(addr >> 29)
}

// Load implements memory.Bus.
func (r *Router) Load(addr uint32, width memory.Width, signExtend bool) (uint32, error) {
	switch classify(addr) {
	case regionFlash:
		return r.loadFromBuffer(r.image, addr, width, signExtend, "flash")
	case regionSRAM:
		return r.loadFromBuffer(r.mem, addr&0x1FFFFFFF, width, signExtend, "sram")
	case regionPeriph:
		return r.loadPeripheral(addr, width)
	case regionPPB:
		return r.loadPPB(addr, width)
	default:
		r.log.Warnf("load from unmapped region: %#08x", addr)
		return 0, ErrFaultMemory
	}
}

// Store implements memory.Bus.
func (r *Router) Store(addr uint32, width memory.Width, value uint32) error {
	switch classify(addr) {
	case regionFlash:
		return r.storeToFlash(addr, width, value)
	case regionSRAM:
		return r.storeToBuffer(r.mem, addr&0x1FFFFFFF, width, value, "sram")
	case regionPeriph:
		return r.storePeripheral(addr, width, value)
	case regionPPB:
		return r.storePPB(addr, width, value)
	default:
		r.log.Warnf("store to unmapped region: %#08x", addr)
		return ErrFaultMemory
	}
}

func (r *Router) aligned(addr uint32, width memory.Width) bool {
	if r.isaLevel.AllowsUnalignedAccess() {
		return true
	}
	switch width {
	case memory.Width16:
		return addr&1 == 0
	case memory.Width32:
		return addr&3 == 0
	default:
		return true
	}
}

// loadFromBuffer reads from buf at offset (already region-relative: the
// top 3 address bits have been masked off by the caller).
func (r *Router) loadFromBuffer(buf []byte, offset uint32, width memory.Width, signExtend bool, name string) (uint32, error) {
	n := width.Bytes()
	if offset+n > uint32(len(buf)) {
		r.log.Warnf("load out of %s range: %#08x", name, offset)
		return 0, ErrFaultMemory
	}
	if !r.aligned(offset, width) {
		r.log.Warnf("unaligned %s load: %#08x", name, offset)
		return 0, ErrFaultMemory
	}
	var raw uint32
	switch width {
	case memory.Width8:
		raw = uint32(buf[offset])
	case memory.Width16:
		raw = uint32(buf[offset]) | uint32(buf[offset+1])<<8
	case memory.Width32:
		raw = uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
	}
	if signExtend {
		switch width {
		case memory.Width8:
			return uint32(int32(int8(raw))), nil
		case memory.Width16:
			return uint32(int32(int16(raw))), nil
		}
	}
	return raw, nil
}

func (r *Router) storeToBuffer(buf []byte, addr uint32, width memory.Width, value uint32, name string) error {
	n := width.Bytes()
	if addr+n > uint32(len(buf)) {
		r.log.Warnf("store out of %s range: %#08x", name, addr)
		return ErrFaultMemory
	}
	if !r.aligned(addr, width) {
		r.log.Warnf("unaligned %s store: %#08x", name, addr)
		return ErrFaultMemory
	}
	switch width {
	case memory.Width8:
		buf[addr] = byte(value)
	case memory.Width16:
		buf[addr] = byte(value)
		buf[addr+1] = byte(value >> 8)
	case memory.Width32:
		buf[addr] = byte(value)
		buf[addr+1] = byte(value >> 8)
		buf[addr+2] = byte(value >> 16)
		buf[addr+3] = byte(value >> 24)
	}
	return nil
}

// storeToFlash implements NOR-flash AND-only semantics: a program
// operation may only be accepted as a full 32-bit, word-aligned write,
// and it can only clear bits, never set them (full page erase is the
// only way to set bits back to 1).
func (r *Router) storeToFlash(addr uint32, width memory.Width, value uint32) error {
	offset := addr & 0x1FFFFFFF
	if !r.imageWritable {
		r.log.Warnf("store to read-only flash: %#08x", addr)
		return ErrFaultMemory
	}
	if width != memory.Width32 {
		r.log.Warnf("non-word store to flash: %#08x", addr)
		return ErrFaultMemory
	}
	if offset&3 != 0 {
		r.log.Warnf("unaligned flash store: %#08x", addr)
		return ErrFaultMemory
	}
	if offset+4 > uint32(len(r.image)) {
		r.log.Warnf("store out of flash range: %#08x", addr)
		return ErrFaultMemory
	}
	existing := uint32(r.image[offset]) | uint32(r.image[offset+1])<<8 | uint32(r.image[offset+2])<<16 | uint32(r.image[offset+3])<<24
	result := existing & value
	r.image[offset] = byte(result)
	r.image[offset+1] = byte(result >> 8)
	r.image[offset+2] = byte(result >> 16)
	r.image[offset+3] = byte(result >> 24)
	return nil
}

// ErasePage sets pagesize bytes starting at a page-aligned address back
// to 0xFF, the NOR-flash erased state.
func (r *Router) ErasePage(addr uint32) error {
	if r.pagesize <= 0 || addr%uint32(r.pagesize) != 0 {
		return fmt.Errorf("erase address %#08x is not page-aligned (pagesize %d)", addr, r.pagesize)
	}
	if int(addr)+r.pagesize > len(r.image) {
		return fmt.Errorf("erase address %#08x is out of flash range", addr)
	}
	for i := 0; i < r.pagesize; i++ {
		r.image[int(addr)+i] = 0xFF
	}
	return nil
}
