package mm

import "kernos/kernel"

// FrameOrder is a power-of-two multiple of the base page size and is used as
// an argument to the frame allocators.
//
// FrameOrder(0) refers to a block of PageSize bytes
// FrameOrder(1) refers to a block of PageSize * 2 bytes
// ...
// FrameOrder(MaxFrameOrder) refers to a block of PageSize * 2^(MaxFrameOrder) bytes
type FrameOrder uint8

// MaxFrameOrder is the largest order that can be requested from the frame
// allocator (2048 frames, or 8 MiB).
const MaxFrameOrder = FrameOrder(10)

// Frames returns the number of contiguous frames in a block of this order.
func (o FrameOrder) Frames() uintptr {
	return 1 << o
}

// Size returns the size in bytes of a block of this order.
func (o FrameOrder) Size() Size {
	return Size(PageSize << o)
}

// FrameAllocatorFn is a function that can allocate physical frames of a
// given order.
type FrameAllocatorFn func(FrameOrder) (Frame, *kernel.Error)

var (
	// frameAllocator points to the allocator registered with
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// SetFrameAllocator registers the function that AllocFrame delegates to. The
// physical memory manager calls it once its allocator is live.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a block of physical frames of the requested order
// using the currently registered frame allocator.
func AllocFrame(order FrameOrder) (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator(order)
}
