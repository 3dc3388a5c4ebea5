package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// EntryCount is the number of entries in a page table at any level.
	EntryCount = 512

	// pageLevelBits is the number of virtual address bits that select an
	// entry at each page level.
	pageLevelBits = 9

	pageLevelMask = (1 << pageLevelBits) - 1

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uint64(0x000ffffffffff000)

	// canonicalSignBit is the highest implemented virtual address bit; it
	// is copied into bits 48-63.
	canonicalSignBit  = uintptr(1 << 47)
	canonicalHighBits = uintptr(0xffff000000000000)

	// PageAllocL4Slot is the top-level entry whose address space is
	// handed out by the page allocator.
	PageAllocL4Slot = 511

	// pageAllocL3Entries is the number of L3 entries of the page allocator
	// region that it may grow into. The last entry is used by the boot code
	// for the high identity mapping.
	pageAllocL3Entries = EntryCount - 1
)

// pageLevelShifts defines the shift required to access each page table component
// of a virtual address.
var pageLevelShifts = [pageLevels]uint8{
	39,
	30,
	21,
	12,
}
