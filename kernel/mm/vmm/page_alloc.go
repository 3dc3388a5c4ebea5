package vmm

import (
	"kernos/kernel"
	"kernos/kernel/mm"
	"kernos/kernel/sync"
)

var (
	// ErrOutOfMemory is returned when the page allocator cannot obtain a
	// frame to back a page or a new page table.
	ErrOutOfMemory = &kernel.Error{Module: "vmm", Message: "no frame available for page allocation"}

	errPageRegionExhausted = &kernel.Error{Module: "vmm", Message: "page allocator region exhausted"}
	errNoPageRegion        = &kernel.Error{Module: "vmm", Message: "page allocator needs at least one L3 entry"}

	// mintedTableAddrFn is the TableAddrFn that Init installs. Tables are
	// mapped into the allocator's own region so the kernel accesses them
	// through the page they were mapped at.
	mintedTableAddrFn TableAddrFn = func(page mm.Page, _ mm.Frame) uintptr {
		return page.Address()
	}
)

// TableAddrFn returns the virtual address through which a page table minted
// by the page allocator can be accessed. page is the page the table was
// mapped at and frame is the frame backing it.
type TableAddrFn func(page mm.Page, frame mm.Frame) uintptr

// PageAllocStats summarizes the work done by a PageAllocator.
type PageAllocStats struct {
	// Pages is the number of pages returned by AllocPage.
	Pages uint64

	// L1Entries is the number of raw entries returned by AllocL1Entry.
	L1Entries uint64

	// Tables is the number of L1 and L2 tables created to grow the
	// region, including the two seed tables.
	Tables uint64
}

// PageAllocator hands out virtual pages from a dedicated region of the
// kernel address space, growing the page table tree beneath the region as
// it goes. It keeps the L3 entries it has not used yet and the remainder of
// the L2 and L1 tables it is currently filling; the next page it returns is
// always the one governed by the first remaining L1 entry.
//
// Page tables are minted one step ahead of need: a new L2 table is mapped
// while the current L1 table still has two free entries left and a new L1
// table while it still has one. Each new table is backed by a fresh frame
// which is also mapped as the next page of the region, so it consumes one
// L1 entry.
type PageAllocator struct {
	lock sync.Spinlock

	l3    L3Entries
	curL2 L2Entries
	curL1 L1Entries

	start        mm.Page
	allocFrameFn mm.FrameAllocatorFn
	tableAddrFn  TableAddrFn
	stats        PageAllocStats
}

// tableEntry returns the entry used to link a sub-table backed by frame.
func tableEntry(frame mm.Frame) Entry {
	return EntryAtFrame(frame).SetFlags(NewSubtableFlags(FlagWritable))
}

// pageEntry returns the entry used to map a page onto frame.
func pageEntry(frame mm.Frame) Entry {
	return EntryAtFrame(frame).SetFlags(NewPageFlags(FlagWritable))
}

// Init sets up the allocator to grow into the region governed by l3. The
// first entry of l3 is wired to the L2 table in seedL2 and the first entry
// of that table to the L1 table in seedL1; translator is used to access the
// two seed frames. Frames for pages and further tables are obtained from
// allocFn.
func (pa *PageAllocator) Init(l3 L3Entries, seedL2, seedL1 mm.Frame, allocFn mm.FrameAllocatorFn, translator mm.AddrTranslator) *kernel.Error {
	if l3.Len() == 0 {
		return errNoPageRegion
	}

	pa.lock.Acquire()
	defer pa.lock.Release()

	pa.l3 = l3
	pa.curL2 = pa.l3.TakeFirst().MapSubtable(tableEntry(seedL2), translator.PhysToVirt(seedL2.Address()))
	pa.curL1 = pa.curL2.TakeFirst().MapSubtable(tableEntry(seedL1), translator.PhysToVirt(seedL1.Address()))
	pa.start = pa.curL1.Addr()
	pa.allocFrameFn = allocFn
	pa.tableAddrFn = mintedTableAddrFn
	pa.stats = PageAllocStats{Tables: 2}

	return nil
}

// SetTableAddrFn replaces the function used to reach the tables minted from
// now on. Hosted simulations use it because they cannot access the region
// at its kernel address.
func (pa *PageAllocator) SetTableAddrFn(fn TableAddrFn) {
	pa.lock.Acquire()
	defer pa.lock.Release()

	pa.tableAddrFn = fn
}

// Start returns the first page of the region.
func (pa *PageAllocator) Start() mm.Page {
	pa.lock.Acquire()
	defer pa.lock.Release()

	return pa.start
}

// Next returns the page that the next call to AllocPage will return
// (unless it needs to grow the page tables first).
func (pa *PageAllocator) Next() mm.Page {
	pa.lock.Acquire()
	defer pa.lock.Release()

	return pa.curL1.Addr()
}

// Stats returns the allocation counters.
func (pa *PageAllocator) Stats() PageAllocStats {
	pa.lock.Acquire()
	defer pa.lock.Release()

	return pa.stats
}

// AllocPage maps a fresh frame at the next page of the region and returns
// the page. It returns ErrOutOfMemory if no frame could be allocated for the
// page or for a page table that had to be minted first.
func (pa *PageAllocator) AllocPage() (mm.Page, *kernel.Error) {
	pa.lock.Acquire()
	defer pa.lock.Release()

	if err := pa.replenish(); err != nil {
		return 0, err
	}

	page, _, err := pa.mapPage()
	if err != nil {
		return 0, err
	}

	pa.stats.Pages++
	return page, nil
}

// AllocL1Entry removes the next L1 entry from the region and returns it
// unmapped so the caller can store its own value in it.
func (pa *PageAllocator) AllocL1Entry() (L1EntrySlot, *kernel.Error) {
	pa.lock.Acquire()
	defer pa.lock.Release()

	if err := pa.replenish(); err != nil {
		return L1EntrySlot{}, err
	}

	pa.stats.L1Entries++
	return pa.curL1.TakeFirst(), nil
}

// replenish mints the next L2 and L1 tables if the current ones are about
// to run out.
func (pa *PageAllocator) replenish() *kernel.Error {
	if pa.curL2.Len() == 0 && pa.curL1.Len() == 2 {
		if err := pa.mapNewL2(); err != nil {
			return err
		}
	}

	if pa.curL1.Len() == 1 {
		if err := pa.mapNewL1(); err != nil {
			return err
		}
	}

	return nil
}

// mapPage allocates a frame and maps it at the next page of the region.
func (pa *PageAllocator) mapPage() (mm.Page, mm.Frame, *kernel.Error) {
	frame, err := pa.allocFrameFn(0)
	if err != nil {
		return 0, mm.InvalidFrame, ErrOutOfMemory
	}

	return pa.curL1.TakeFirst().MapPage(pageEntry(frame)), frame, nil
}

func (pa *PageAllocator) mapNewL2() *kernel.Error {
	if pa.l3.Len() == 0 {
		panic(errPageRegionExhausted)
	}

	page, frame, err := pa.mapPage()
	if err != nil {
		return err
	}

	pa.curL2 = pa.l3.TakeFirst().MapSubtable(tableEntry(frame), pa.tableAddrFn(page, frame))
	pa.stats.Tables++
	return nil
}

func (pa *PageAllocator) mapNewL1() *kernel.Error {
	page, frame, err := pa.mapPage()
	if err != nil {
		return err
	}

	pa.curL1 = pa.curL2.TakeFirst().MapSubtable(tableEntry(frame), pa.tableAddrFn(page, frame))
	pa.stats.Tables++
	return nil
}
