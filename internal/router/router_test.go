package router

import (
	"testing"

	"github.com/dgrr/cortexm-emu/internal/isa"
	"github.com/dgrr/cortexm-emu/internal/logx"
	"github.com/dgrr/cortexm-emu/internal/memory"
)

type fakeSource struct{ chars []int32 }

func (f *fakeSource) GetChar() int32 {
	if len(f.chars) == 0 {
		return -1
	}
	c := f.chars[0]
	f.chars = f.chars[1:]
	return c
}

type fakeSink struct{ got []byte }

func (f *fakeSink) PutChar(b byte) { f.got = append(f.got, b) }

func newTestRouter(t *testing.T, src CharSource, sink CharSink) *Router {
	t.Helper()
	return New(Config{
		ImageSize:  4096,
		PageSize:   1024,
		MemSize:    1024,
		ISALevel:   isa.M0,
		UARTSource: src,
		UARTSink:   sink,
		Log:        logx.New("test", logx.LevelError),
	})
}

func TestFlashStoreRejectedWhenReadOnly(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	before := append([]byte(nil), r.Image()...)
	err := r.Store(0, memory.Width32, 0x12345678)
	if err == nil {
		t.Fatal("expected fault storing to read-only flash")
	}
	if string(r.Image()) != string(before) {
		t.Error("flash image changed despite rejected store")
	}
}

func TestFlashStoreIsAndOnly(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	r.SetImageWritable(true)
	if err := r.Store(0, memory.Width32, 0xFFFF0000); err != nil {
		t.Fatal(err)
	}
	v, err := r.Load(0, memory.Width32, false)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xFFFF0000 {
		t.Fatalf("got %#x, want %#x", v, 0xFFFF0000)
	}
	// A second store with a superset of bits set must not set any bit
	// that the first store cleared (AND-only semantics).
	if err := r.Store(0, memory.Width32, 0xFFFFFFFF); err != nil {
		t.Fatal(err)
	}
	v, _ = r.Load(0, memory.Width32, false)
	if v != 0xFFFF0000 {
		t.Fatalf("AND-only violated: got %#x, want %#x", v, 0xFFFF0000)
	}
}

func TestErasePageSetsExactRange(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	r.SetImageWritable(true)
	r.Store(0, memory.Width32, 0) // clear all bits in the first word
	sentinelOffset := uint32(2048)
	r.image[sentinelOffset] = 0x42

	if err := r.ErasePage(0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1024; i++ {
		if r.image[i] != 0xFF {
			t.Fatalf("byte %d not erased: %#x", i, r.image[i])
		}
	}
	if r.image[sentinelOffset] != 0x42 {
		t.Error("erase touched bytes outside its page")
	}
}

func TestErasePageRejectsMisaligned(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	r.SetImageWritable(true)
	if err := r.ErasePage(1); err == nil {
		t.Fatal("expected error erasing a non-page-aligned address")
	}
}

func TestUARTEcho(t *testing.T) {
	src := &fakeSource{chars: []int32{'A', -1}}
	sink := &fakeSink{}
	r := newTestRouter(t, src, sink)

	v, err := r.Load(addrUARTRXD, memory.Width32, false)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x41 {
		t.Fatalf("got %#x, want 0x41", v)
	}
	if err := r.Store(addrUARTTXD, memory.Width32, uint32(v)); err != nil {
		t.Fatal(err)
	}
	if len(sink.got) != 1 || sink.got[0] != 0x41 {
		t.Fatalf("sink got %v, want [0x41]", sink.got)
	}
}

func TestUnalignedPeripheralFaults(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	if _, err := r.Load(addrUARTRxdRdy+1, memory.Width32, false); err == nil {
		t.Fatal("expected fault for unaligned peripheral address")
	}
	if _, err := r.Load(addrUARTRxdRdy, memory.Width8, false); err == nil {
		t.Fatal("expected fault for non-word-width peripheral access")
	}
}

func TestNVICPriorityStorage(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	if err := r.Store(0xE000E404, memory.Width32, 0xAABBCCDD); err != nil {
		t.Fatal(err)
	}
	v, err := r.Load(0xE000E404, memory.Width32, false)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xAABBCCDD {
		t.Fatalf("got %#x, want 0xAABBCCDD", v)
	}
	if r.NVICPriority(1) != 0xAABBCCDD {
		t.Errorf("NVICPriority(1) = %#x", r.NVICPriority(1))
	}
}

func TestDeviceIDProbeReadsZero(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	v, err := r.Load(0xF0000FE0, memory.Width32, false)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Errorf("got %#x, want 0", v)
	}
}

func TestSRAMRoundTrip(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	if err := r.Store(0x20000010, memory.Width16, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	v, err := r.Load(0x20000010, memory.Width16, false)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xBEEF {
		t.Fatalf("got %#x, want 0xBEEF", v)
	}
}

func TestUnalignedSRAMFaultsOnM0(t *testing.T) {
	r := newTestRouter(t, &fakeSource{}, &fakeSink{})
	if _, err := r.Load(0x20000001, memory.Width32, false); err == nil {
		t.Fatal("expected fault for unaligned word load on M0")
	}
}

func TestUnalignedSRAMAllowedOnM4(t *testing.T) {
	r := New(Config{
		ImageSize: 4096, PageSize: 1024, MemSize: 1024,
		ISALevel: isa.M4, UARTSource: &fakeSource{}, UARTSink: &fakeSink{},
		Log: logx.New("test", logx.LevelError),
	})
	if err := r.Store(0x20000001, memory.Width32, 0x11223344); err != nil {
		t.Fatal(err)
	}
	v, err := r.Load(0x20000001, memory.Width32, false)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x11223344 {
		t.Fatalf("got %#x", v)
	}
}
