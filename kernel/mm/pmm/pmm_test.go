package pmm

import (
	"bytes"
	"strings"
	"testing"
	"unsafe"

	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
)

// fakePhysMem returns a translator whose window maps the physical addresses
// [0, size) onto a Go-managed buffer.
func fakePhysMem(size mm.Size) (mm.IdentityMap, []uint64) {
	buf := make([]uint64, uintptr(size)/8)
	for i := range buf {
		buf[i] = 0xbadf00dbadf00d
	}

	return mm.IdentityMap{VirtBase: uintptr(unsafe.Pointer(&buf[0])), Size: uintptr(size)}, buf
}

func TestFrameAllocatorInit(t *testing.T) {
	var (
		tr, physMem = fakePhysMem(1 * mm.Mb)
		fa          FrameAllocator
		output      bytes.Buffer
	)

	kfmt.SetOutputSink(&output)
	defer kfmt.SetOutputSink(nil)

	available := []mm.Range{
		{Start: 0x80000, End: 0x100000},
		{Start: 0x1000, End: 0x80000},
	}
	reserved := []mm.Range{
		{Start: 0x0, End: 0x3000},
	}

	if err := fa.Init(available, reserved, tr); err != nil {
		t.Fatal(err)
	}

	if exp, got := uintptr(256), fa.FrameCount(); got != exp {
		t.Fatalf("expected allocator to track %d frames; got %d", exp, got)
	}

	// Frames [0, 3) are reserved and frame 3 holds the bitmap.
	if exp, got := uintptr(256-4), fa.FreeFrameCount(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	if exp, got := tr.VirtBase+0x3000, uintptr(unsafe.Pointer(&fa.bitmap.groupMaps[0][0])); got != exp {
		t.Fatalf("expected bitmap storage at 0x%x; got 0x%x", exp, got)
	}

	if !fa.Verify() {
		t.Fatal("bitmap verification failed")
	}

	for i := 0; i < 252; i++ {
		frame, err := fa.AllocFrame(0)
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}

		if frame < 4 {
			t.Fatalf("[alloc %d] allocator returned reserved frame %d", i, frame)
		}
	}

	if _, err := fa.AllocFrame(0); err != ErrOutOfMemory {
		t.Fatalf("expected error %v; got %v", ErrOutOfMemory, err)
	}

	fa.FreeFrame(mm.Frame(100), 0)
	if got := fa.FreeFrameCount(); got != 1 {
		t.Fatalf("expected 1 free frame; got %d", got)
	}

	if !strings.Contains(output.String(), "[pmm] usable memory map:") {
		t.Errorf("expected memory map to be printed; got:\n%s", output.String())
	}

	_ = physMem[0]
}

func TestFrameAllocatorInitErrors(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	t.Run("no usable memory", func(t *testing.T) {
		var fa FrameAllocator

		available := []mm.Range{{Start: 0x1000, End: 0x8000}}
		reserved := []mm.Range{{Start: 0x0, End: 0x10000}}

		if err := fa.Init(available, reserved, mm.IdentityMap{}); err != errNoUsableMemory {
			t.Fatalf("expected error %v; got %v", errNoUsableMemory, err)
		}
	})

	t.Run("no region large enough for the bitmap", func(t *testing.T) {
		var fa FrameAllocator

		available := []mm.Range{
			{Start: 0x1000, End: 0x1008},
			{Start: 0x3ffff000, End: 0x40000000},
		}
		reserved := []mm.Range{{Start: 0x3ffff010, End: 0x40000000}}

		if err := fa.Init(available, reserved, mm.IdentityMap{}); err != ErrNoBitmapRegion {
			t.Fatalf("expected error %v; got %v", ErrNoBitmapRegion, err)
		}
	})
}

func TestSystemFrameAllocator(t *testing.T) {
	tr, physMem := fakePhysMem(512 * mm.Kb)

	defer func() {
		frameAllocator = FrameAllocator{}
		mm.SetFrameAllocator(nil)
		kfmt.SetOutputSink(nil)
	}()
	kfmt.SetOutputSink(&bytes.Buffer{})

	available := []mm.Range{{Start: 0, End: uintptr(512 * mm.Kb)}}
	if err := Init(available, nil, tr); err != nil {
		t.Fatal(err)
	}

	// 128 frames; the bitmap takes frame 0.
	if exp, got := uintptr(127), FreeFrameCount(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	frame, err := mm.AllocFrame(2)
	if err != nil {
		t.Fatalf("unexpected error allocating through mm.AllocFrame: %v", err)
	}

	if exp := mm.Frame(4); frame != exp {
		t.Fatalf("expected frame %d; got %d", exp, frame)
	}

	single, err := AllocSingleFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp := uintptr(127 - 5); FreeFrameCount() != exp {
		t.Fatalf("expected %d free frames; got %d", exp, FreeFrameCount())
	}

	FreeSingleFrame(single)
	FreeFrame(frame, 2)

	if !Verify() {
		t.Fatal("bitmap verification failed")
	}

	if exp, got := uintptr(127), FreeFrameCount(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	_ = physMem[0]
}
