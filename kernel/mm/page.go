// Package mm contains the address types shared by the physical and virtual
// memory managers.
package mm

import (
	"math"

	"kernos/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

var (
	// ErrUnalignedAddress is raised (via panic) when an address that must
	// be page-aligned is not.
	ErrUnalignedAddress = &kernel.Error{Module: "mm", Message: "address is not page-aligned"}
)

// AlignedFrame returns the Frame for physAddr. It panics with
// ErrUnalignedAddress if physAddr is not page-aligned.
func AlignedFrame(physAddr uintptr) Frame {
	if physAddr&(PageSize-1) != 0 {
		panic(ErrUnalignedAddress)
	}
	return Frame(physAddr >> PageShift)
}

// AlignedPage returns the Page for virtAddr. It panics with
// ErrUnalignedAddress if virtAddr is not page-aligned.
func AlignedPage(virtAddr uintptr) Page {
	if virtAddr&(PageSize-1) != 0 {
		panic(ErrUnalignedAddress)
	}
	return Page(virtAddr >> PageShift)
}
