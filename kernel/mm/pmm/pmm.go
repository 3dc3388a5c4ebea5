// Package pmm manages the allocation of physical memory frames.
package pmm

import (
	"kernos/kernel"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/sync"
)

var (
	// ErrNoBitmapRegion is returned by Init when no usable memory range is
	// large enough to host the allocator bitmaps.
	ErrNoBitmapRegion = &kernel.Error{Module: "pmm", Message: "no usable memory region can hold the frame bitmap"}

	errNoUsableMemory = &kernel.Error{Module: "pmm", Message: "memory map does not contain any usable frames"}

	// frameAllocator is the system-wide physical frame allocator.
	frameAllocator FrameAllocator
)

// FrameAllocator wraps a BitmapFrameAllocator with the spinlock that guards
// every access to it.
type FrameAllocator struct {
	lock   sync.Spinlock
	bitmap BitmapFrameAllocator
}

// Init sets up the allocator to track the frames in available that are not
// covered by reserved. The bitmap storage is carved out of the first usable
// range that can hold it; translator is used to reach that storage. Both
// slices are sorted in place.
func (fa *FrameAllocator) Init(available, reserved []mm.Range, translator mm.AddrTranslator) *kernel.Error {
	sortRanges(available)
	sortRanges(reserved)

	var (
		frameCount  uintptr
		totalFree   mm.Size
		bitmapPhys  uintptr
		bitmapFound bool
	)

	kfmt.Printf("[pmm] usable memory map:\n")
	visitUsableRanges(available, reserved, func(r mm.Range) bool {
		kfmt.Printf("\t[0x%16x - 0x%16x], size: %10d\n", r.Start, r.End, uint64(r.Size()))
		totalFree += r.Size()

		if _, end := r.Frames(); uintptr(end) > frameCount {
			frameCount = uintptr(end)
		}
		return true
	})
	kfmt.Printf("[pmm] free memory: %dKb\n", uint64(totalFree/mm.Kb))

	if frameCount == 0 {
		return errNoUsableMemory
	}

	bitmapSize := BitmapStorageSize(frameCount)
	visitUsableRanges(available, reserved, func(r mm.Range) bool {
		start := (r.Start + 7) &^ 7
		if start < r.End && r.End-start >= bitmapSize {
			bitmapPhys, bitmapFound = start, true
			return false
		}
		return true
	})

	if !bitmapFound {
		return ErrNoBitmapRegion
	}

	// Both ends of the bitmap must be reachable through the translator.
	bitmapVirt := translator.PhysToVirt(bitmapPhys)
	translator.PhysToVirt(bitmapPhys + bitmapSize - 1)

	storage := NewBumpAllocator(bitmapVirt, bitmapSize)

	fa.lock.Acquire()
	defer fa.lock.Release()

	fa.bitmap.init(&storage, frameCount)
	visitUsableRanges(available, reserved, func(r mm.Range) bool {
		fa.bitmap.FreeRange(r.Frames())
		return true
	})

	// The bitmap cannot track its own storage; reserve every frame it
	// touches, including partially used ones.
	fa.bitmap.UseRange(mm.Range{Start: bitmapPhys, End: bitmapPhys + bitmapSize}.CoveringFrames())
	fa.bitmap.RecomputeAll()

	for size := groupSize(0); size <= fa.bitmap.maxGroupSize; size++ {
		kfmt.Printf("[pmm] %d groups of size %d in %d words\n", fa.bitmap.groupCounts[size], uint8(size), len(fa.bitmap.groupMaps[size]))
	}
	kfmt.Printf("[pmm] bitmap at 0x%x (%d bytes); %d/%d frames free\n", bitmapPhys, bitmapSize, fa.bitmap.FreeFrameCount(), frameCount)

	return nil
}

// AllocFrame reserves a block of 2^order contiguous frames.
func (fa *FrameAllocator) AllocFrame(order mm.FrameOrder) (mm.Frame, *kernel.Error) {
	fa.lock.Acquire()
	defer fa.lock.Release()

	return fa.bitmap.Alloc(order)
}

// FreeFrame releases a block previously returned by AllocFrame with the same
// order.
func (fa *FrameAllocator) FreeFrame(frame mm.Frame, order mm.FrameOrder) {
	fa.lock.Acquire()
	defer fa.lock.Release()

	fa.bitmap.Free(frame, order)
}

// FreeFrameCount returns the number of free frames.
func (fa *FrameAllocator) FreeFrameCount() uintptr {
	fa.lock.Acquire()
	defer fa.lock.Release()

	return fa.bitmap.FreeFrameCount()
}

// FrameCount returns the number of frames tracked by the allocator.
func (fa *FrameAllocator) FrameCount() uintptr {
	fa.lock.Acquire()
	defer fa.lock.Release()

	return fa.bitmap.FrameCount()
}

// Verify checks that the cached Avail of every bitmap group matches its
// children.
func (fa *FrameAllocator) Verify() bool {
	fa.lock.Acquire()
	defer fa.lock.Release()

	return fa.bitmap.Verify()
}

// Init sets up the system-wide frame allocator and registers it with the mm
// package. The boot code passes the memory ranges reported as available by
// the firmware and the ranges that must never be handed out (low memory and
// the kernel image, the boot information blob).
func Init(available, reserved []mm.Range, translator mm.AddrTranslator) *kernel.Error {
	if err := frameAllocator.Init(available, reserved, translator); err != nil {
		return err
	}

	mm.SetFrameAllocator(AllocFrame)
	return nil
}

// AllocFrame reserves a block of 2^order frames from the system-wide
// allocator.
func AllocFrame(order mm.FrameOrder) (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame(order)
}

// FreeFrame returns a block of 2^order frames to the system-wide allocator.
func FreeFrame(frame mm.Frame, order mm.FrameOrder) {
	frameAllocator.FreeFrame(frame, order)
}

// AllocSingleFrame reserves one frame from the system-wide allocator.
func AllocSingleFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame(0)
}

// FreeSingleFrame returns one frame to the system-wide allocator.
func FreeSingleFrame(frame mm.Frame) {
	frameAllocator.FreeFrame(frame, 0)
}

// FreeFrameCount returns the number of free frames in the system-wide
// allocator.
func FreeFrameCount() uintptr {
	return frameAllocator.FreeFrameCount()
}

// Verify checks the consistency of the system-wide allocator bitmaps.
func Verify() bool {
	return frameAllocator.Verify()
}
