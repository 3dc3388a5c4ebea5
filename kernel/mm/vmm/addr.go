package vmm

import (
	"kernos/kernel"
	"kernos/kernel/mm"
)

var (
	errUnalignedRegion = &kernel.Error{Module: "vmm", Message: "address is not aligned to the page table level span"}
	errInvalidIndex    = &kernel.Error{Module: "vmm", Message: "page table index out of range"}
)

// L2Page is the index of a 2 MiB virtual region; the span of one L2 entry.
type L2Page uintptr

// L3Page is the index of a 1 GiB virtual region; the span of one L3 entry.
type L3Page uintptr

// L4Page is the index of a 512 GiB virtual region; the span of one L4
// entry.
type L4Page uintptr

// Address returns the first virtual address of the region.
func (p L2Page) Address() uintptr { return uintptr(p) << pageLevelShifts[2] }

// Address returns the first virtual address of the region.
func (p L3Page) Address() uintptr { return uintptr(p) << pageLevelShifts[1] }

// Address returns the first virtual address of the region.
func (p L4Page) Address() uintptr { return uintptr(p) << pageLevelShifts[0] }

// FirstPage returns the first 4 KiB page of the region.
func (p L2Page) FirstPage() mm.Page { return mm.Page(p << pageLevelBits) }

// FirstL2 returns the first 2 MiB region of the region.
func (p L3Page) FirstL2() L2Page { return L2Page(p << pageLevelBits) }

// FirstL3 returns the first 1 GiB region of the region.
func (p L4Page) FirstL3() L3Page { return L3Page(p << pageLevelBits) }

// alignedIndex returns virtAddr >> shift, panicking if any of the bits
// shifted out are set.
func alignedIndex(virtAddr uintptr, shift uint8) uintptr {
	if virtAddr&((1<<shift)-1) != 0 {
		panic(errUnalignedRegion)
	}
	return virtAddr >> shift
}

// L2PageFromAddress returns the L2Page starting at virtAddr which must be
// 2 MiB aligned.
func L2PageFromAddress(virtAddr uintptr) L2Page {
	return L2Page(alignedIndex(virtAddr, pageLevelShifts[2]))
}

// L3PageFromAddress returns the L3Page starting at virtAddr which must be
// 1 GiB aligned.
func L3PageFromAddress(virtAddr uintptr) L3Page {
	return L3Page(alignedIndex(virtAddr, pageLevelShifts[1]))
}

// L4PageFromAddress returns the L4Page starting at virtAddr which must be
// 512 GiB aligned.
func L4PageFromAddress(virtAddr uintptr) L4Page {
	return L4Page(alignedIndex(virtAddr, pageLevelShifts[0]))
}

// canonical copies bit 47 of virtAddr into the upper 16 bits.
func canonical(virtAddr uintptr) uintptr {
	if virtAddr&canonicalSignBit != 0 {
		return virtAddr | canonicalHighBits
	}
	return virtAddr &^ canonicalHighBits
}

// PageFromIndices returns the page selected by the given table indices,
// starting from the top-level (L4) table. The returned page is always
// canonical.
func PageFromIndices(l4, l3, l2, l1 uintptr) mm.Page {
	if l4 > pageLevelMask || l3 > pageLevelMask || l2 > pageLevelMask || l1 > pageLevelMask {
		panic(errInvalidIndex)
	}

	addr := l4<<pageLevelShifts[0] |
		l3<<pageLevelShifts[1] |
		l2<<pageLevelShifts[2] |
		l1<<pageLevelShifts[3]

	return mm.PageFromAddress(canonical(addr))
}

// Indices returns the L4, L3, L2 and L1 table indices that select page.
func Indices(page mm.Page) (l4, l3, l2, l1 uintptr) {
	addr := page.Address()
	return (addr >> pageLevelShifts[0]) & pageLevelMask,
		(addr >> pageLevelShifts[1]) & pageLevelMask,
		(addr >> pageLevelShifts[2]) & pageLevelMask,
		(addr >> pageLevelShifts[3]) & pageLevelMask
}

// PageAllocRegion is the 512 GiB region managed by the page allocator.
var PageAllocRegion = L4PageFromAddress(PageFromIndices(PageAllocL4Slot, 0, 0, 0).Address())
