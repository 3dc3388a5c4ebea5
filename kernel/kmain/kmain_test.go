package kmain

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"kernos/kernel/boot"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/mm/pmm"
	"kernos/kernel/mm/vmm"
)

func TestInitMemory(t *testing.T) {
	const physSize = 1 * mm.Mb

	var (
		buf    = make([]byte, uintptr(physSize)+mm.PageSize)
		base   = (uintptr(unsafe.Pointer(&buf[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)
		output bytes.Buffer
	)
	defer runtime.KeepAlive(buf)

	origTranslator, origFlushTLB := translator, flushTLBFn
	defer func() {
		translator = origTranslator
		flushTLBFn = origFlushTLB
		mm.SetFrameAllocator(nil)
		kfmt.SetOutputSink(nil)
	}()

	var flushCount int
	flushTLBFn = func() { flushCount++ }

	translator = mm.IdentityMap{VirtBase: base, Size: uintptr(physSize)}
	kfmt.SetOutputSink(&output)

	// Frames [0, 8) hold the kernel image; the last five of them are the
	// boot page tables.
	info := boot.Info{
		Available:   []mm.Range{{Start: 0x1000, End: uintptr(physSize)}},
		Reserved:    []mm.Range{{Start: 0, End: 0x8000}},
		BootL4:      3,
		LowL3:       4,
		PageAllocL3: 5,
		SeedTables:  [2]mm.Frame{6, 7},
		BootLoader:  "test loader",
	}

	bootL4 := vmm.TableAt(translator.PhysToVirt(info.BootL4.Address()))
	lowL3 := vmm.TableAt(translator.PhysToVirt(info.LowL3.Address()))
	highEntry := uint64(vmm.EntryAtFrame(info.PageAllocL3).SetFlags(vmm.NewSubtableFlags(vmm.FlagWritable)))
	bootL4[0] = uint64(vmm.EntryAtFrame(info.LowL3).SetFlags(vmm.NewSubtableFlags(vmm.FlagWritable)))
	bootL4[vmm.EntryCount-1] = highEntry
	lowL3[0] = 0x83

	if err := initMemory(info); err != nil {
		t.Fatal(err)
	}

	if bootL4[0] != 0 || lowL3[0] != 0 {
		t.Fatalf("expected the low identity mapping to be cleared; got L4[0] = 0x%x, L3[0] = 0x%x", bootL4[0], lowL3[0])
	}

	if got := bootL4[vmm.EntryCount-1]; got != highEntry {
		t.Fatalf("expected the page allocator L4 entry to stay 0x%x; got 0x%x", highEntry, got)
	}

	if exp := 1; flushCount != exp {
		t.Fatalf("expected the TLB to be flushed %d times; got %d", exp, flushCount)
	}

	// Frame 8 holds the frame bitmap.
	if exp, got := uintptr(256-9), pmm.FreeFrameCount(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	for i := 0; i < 3; i++ {
		page, err := vmm.AllocPage()
		if err != nil {
			t.Fatal(err)
		}

		if exp := vmm.PageAllocRegion.FirstL3().FirstL2().FirstPage() + mm.Page(i); page != exp {
			t.Fatalf("[alloc %d] expected page 0x%x; got 0x%x", i, exp.Address(), page.Address())
		}
	}

	if exp, got := uintptr(256-12), pmm.FreeFrameCount(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	// The pages are backed by the lowest free frames.
	seedL1 := vmm.TableAt(translator.PhysToVirt(mm.Frame(7).Address()))
	for i, expFrame := range []mm.Frame{9, 10, 11} {
		e, ok := vmm.EntryValue(seedL1[i]).Entry()
		if !ok || e.Frame() != expFrame {
			t.Fatalf("expected L1 entry %d to map frame %d; got 0x%x", i, expFrame, seedL1[i])
		}
	}

	if !pmm.Verify() {
		t.Fatal("frame bitmap verification failed")
	}

	for _, exp := range []string{
		"[kmain] booted by test loader",
		"[vmm] page allocator region: 0xffffff8000000000",
		"[kmain] memory ready: 247 frames free, next page at 0xffffff8000000000",
	} {
		if !strings.Contains(output.String(), exp) {
			t.Fatalf("expected output to contain %q; got:\n%s", exp, output.String())
		}
	}
}

func TestInitMemoryErrors(t *testing.T) {
	origTranslator, origFlushTLB := translator, flushTLBFn
	defer func() {
		translator = origTranslator
		flushTLBFn = origFlushTLB
		kfmt.SetOutputSink(nil)
	}()

	flushTLBFn = func() { t.Fatal("unexpected TLB flush") }

	var output bytes.Buffer
	kfmt.SetOutputSink(&output)
	translator = mm.IdentityMap{Size: uintptr(mm.Mb)}

	// Everything available is reserved.
	info := boot.Info{
		Available: []mm.Range{{Start: 0, End: 0x8000}},
		Reserved:  []mm.Range{{Start: 0, End: 0x8000}},
	}

	if err := initMemory(info); err == nil {
		t.Fatal("expected initMemory to fail when no memory is usable")
	}
}
