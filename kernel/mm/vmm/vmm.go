// Package vmm models the amd64 page tables and grows the kernel's virtual
// address space on demand.
package vmm

import (
	"kernos/kernel"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
)

// pageAllocator is the system-wide page allocator.
var pageAllocator PageAllocator

// Init sets up the system-wide page allocator over PageAllocRegion. l3Table
// is the frame of the L3 table that the boot code installed in L4 entry
// PageAllocL4Slot; seedL2 and seedL1 are two reserved frames that become
// the first L2 and L1 tables of the region. Frames for pages and further
// tables are obtained from mm.AllocFrame.
func Init(l3Table, seedL2, seedL1 mm.Frame, translator mm.AddrTranslator) *kernel.Error {
	l3 := NewL3Entries(
		TableAt(translator.PhysToVirt(l3Table.Address()))[:pageAllocL3Entries],
		PageAllocRegion.FirstL3(),
	)

	if err := pageAllocator.Init(l3, seedL2, seedL1, mm.AllocFrame, translator); err != nil {
		return err
	}

	kfmt.Printf("[vmm] page allocator region: 0x%16x, %d L3 entries\n", pageAllocator.Start().Address(), pageAllocL3Entries)
	return nil
}

// AllocPage maps a fresh frame at the next page of the kernel's page
// allocator region and returns the page.
func AllocPage() (mm.Page, *kernel.Error) {
	return pageAllocator.AllocPage()
}

// AllocL1Entry reserves the next page of the page allocator region without
// backing it and returns the L1 entry that governs it.
func AllocL1Entry() (L1EntrySlot, *kernel.Error) {
	return pageAllocator.AllocL1Entry()
}

// NextPage returns the page that the next call to AllocPage will return,
// unless the page allocator has to mint a page table first.
func NextPage() mm.Page {
	return pageAllocator.Next()
}

// Stats returns the counters of the system-wide page allocator.
func Stats() PageAllocStats {
	return pageAllocator.Stats()
}
