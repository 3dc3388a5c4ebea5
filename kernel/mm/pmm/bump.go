package pmm

import (
	"unsafe"

	"kernos/kernel"
)

var (
	errBumpExhausted  = &kernel.Error{Module: "pmm", Message: "bump allocator buffer exhausted"}
	errZeroSizedAlloc = &kernel.Error{Module: "pmm", Message: "bump allocator asked to fit zero-sized objects"}
)

// BumpAllocator hands out consecutive chunks of a fixed buffer and never
// frees them. It is used once at boot to carve the storage for the frame
// bitmaps out of physical memory before any other allocator exists.
type BumpAllocator struct {
	next      uintptr
	remaining uintptr
}

// NewBumpAllocator returns an allocator over the size bytes starting at the
// (directly addressable) address start. The caller must guarantee that
// nothing else uses the buffer for the lifetime of the allocations.
func NewBumpAllocator(start, size uintptr) BumpAllocator {
	return BumpAllocator{next: start, remaining: size}
}

// Remaining returns the number of unallocated bytes.
func (b *BumpAllocator) Remaining() uintptr {
	return b.remaining
}

// Next returns the address that the next unaligned allocation would return.
func (b *BumpAllocator) Next() uintptr {
	return b.next
}

// advance consumes n bytes; running past the end of the buffer is fatal.
func (b *BumpAllocator) advance(n uintptr) {
	if n > b.remaining {
		panic(errBumpExhausted)
	}
	b.next += n
	b.remaining -= n
}

// alignOffset returns the padding needed to align the next allocation to
// align bytes (a power of 2).
func (b *BumpAllocator) alignOffset(align uintptr) uintptr {
	return ((b.next + align - 1) &^ (align - 1)) - b.next
}

// Align skips bytes until the next allocation is aligned to align, which
// must be a power of 2.
func (b *BumpAllocator) Align(align uintptr) {
	b.advance(b.alignOffset(align))
}

// AllocBytes reserves size bytes and returns their address.
func (b *BumpAllocator) AllocBytes(size uintptr) uintptr {
	addr := b.next
	b.advance(size)
	return addr
}

// AllocWords reserves a zeroed, 8-byte aligned slice of count uint64 words.
func (b *BumpAllocator) AllocWords(count uintptr) []uint64 {
	if count == 0 {
		return nil
	}

	b.Align(unsafe.Sizeof(uint64(0)))
	size := count * unsafe.Sizeof(uint64(0))
	addr := b.AllocBytes(size)
	kernel.Memset(addr, 0, size)

	return unsafe.Slice((*uint64)(unsafe.Pointer(addr)), count)
}

// MaxAllocs returns how many objects of the given size and alignment still
// fit in the buffer.
func (b *BumpAllocator) MaxAllocs(size, align uintptr) uintptr {
	if size == 0 {
		panic(errZeroSizedAlloc)
	}

	pad := b.alignOffset(align)
	if pad > b.remaining {
		return 0
	}
	return (b.remaining - pad) / size
}
