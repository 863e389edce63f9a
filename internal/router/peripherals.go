package router

import (
	"github.com/dgrr/cortexm-emu/internal/memory"
)

// Peripheral addresses, named after the nRF51/52 register map this
// emulator imitates. Only the handful of registers simple firmware
// actually pokes are implemented; everything else in the region warns
// and reads as zero / is silently discarded, matching real silicon's
// "reserved" behavior closely enough for test firmware.
const (
	addrUARTStartRX = 0x40002000
	addrUARTStopRX  = 0x40002004
	addrUARTStartTX = 0x40002008
	addrUARTStopTX  = 0x4000200C
	addrUARTRxdRdy  = 0x40002108
	addrUARTTxdRdy  = 0x4000211C
	addrUARTError   = 0x40002124
	addrUARTRxTO    = 0x40002144
	addrUARTRXD     = 0x40002518
	addrUARTTXD     = 0x4000251C

	addrRNGValRdy = 0x4000D100
	addrRNGValue  = 0x4000D508

	addrNVMCReady      = 0x4001E400
	addrNVMCConfig     = 0x4001E504
	addrNVMCErasePage  = 0x4001E508

	addrNVICSetEnable   = 0xE000E100
	addrNVICClearEnable = 0xE000E180
	addrNVICIPRBase     = 0xE000E400
	addrNVICIPREnd      = 0xE000E41F
	addrDeviceIDBase    = 0xF0000FE0
	addrDeviceIDEnd     = 0xF0000FEF
)

// loadPeripheral and storePeripheral only accept 32-bit, word-aligned
// transfers; everything else in the peripheral region faults.
func (r *Router) loadPeripheral(addr uint32, width memory.Width) (uint32, error) {
	if width != memory.Width32 || addr&3 != 0 {
		r.log.Warnf("invalid peripheral load: %#08x", addr)
		return 0, ErrFaultMemory
	}
	switch addr {
	case addrUARTRxdRdy, addrUARTTxdRdy:
		return 1, nil
	case addrUARTError, addrUARTRxTO:
		return 0, nil
	case addrUARTRXD:
		b := r.uartSource.GetChar()
		return uint32(uint8(b)), nil
	case addrRNGValRdy:
		return 1, nil
	case addrRNGValue:
		return uint32(r.rng.Intn(256)), nil
	case addrNVMCReady:
		return 1, nil
	default:
		r.log.Warnf("unknown peripheral load: %#08x", addr)
		return 0, nil
	}
}

func (r *Router) storePeripheral(addr uint32, width memory.Width, value uint32) error {
	if width != memory.Width32 || addr&3 != 0 {
		r.log.Warnf("invalid peripheral store: %#08x", addr)
		return ErrFaultMemory
	}
	switch addr {
	case addrUARTStartRX, addrUARTStopRX, addrUARTStartTX, addrUARTStopTX:
		// Acknowledged, no state kept: this emulator's UART is always
		// ready to send and receive.
		return nil
	case addrUARTTXD:
		r.uartSink.PutChar(byte(value))
		return nil
	case addrNVMCConfig:
		r.imageWritable = value != 0
		return nil
	case addrNVMCErasePage:
		if err := r.ErasePage(value); err != nil {
			r.log.Warnf("NVMC erase rejected: %v", err)
			return ErrFaultMemory
		}
		return nil
	default:
		r.log.Warnf("unknown peripheral store: %#08x (value %#x)", addr, value)
		return nil
	}
}

func (r *Router) loadPPB(addr uint32, width memory.Width) (uint32, error) {
	if width != memory.Width32 || addr&3 != 0 {
		r.log.Warnf("invalid PPB load: %#08x", addr)
		return 0, ErrFaultMemory
	}
	switch {
	case addr >= addrNVICIPRBase && addr <= addrNVICIPREnd:
		return r.nvic[(addr/4)%8], nil
	case addr >= addrDeviceIDBase && addr <= addrDeviceIDEnd:
		return 0, nil
	default:
		r.log.Warnf("invalid PPB address: %#08x", addr)
		return 0, ErrFaultMemory
	}
}

func (r *Router) storePPB(addr uint32, width memory.Width, value uint32) error {
	if width != memory.Width32 || addr&3 != 0 {
		r.log.Warnf("invalid PPB store: %#08x", addr)
		return ErrFaultMemory
	}
	switch {
	case addr == addrNVICSetEnable:
		r.log.Warnf("set interrupts: %#08x", value)
		return nil
	case addr == addrNVICClearEnable:
		r.log.Warnf("clear interrupts: %#08x", value)
		return nil
	case addr >= addrNVICIPRBase && addr <= addrNVICIPREnd:
		r.nvic[(addr/4)%8] = value
		return nil
	default:
		r.log.Warnf("invalid PPB address: %#08x", addr)
		return ErrFaultMemory
	}
}

// NVICPriority exposes nvic.ip[i mod 8] directly, without going through
// a PPB load.
func (r *Router) NVICPriority(i int) uint32 { return r.nvic[i%8] }
