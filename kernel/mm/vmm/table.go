package vmm

import (
	"unsafe"

	"kernos/kernel"
	"kernos/kernel/mm"
)

var errEntriesExhausted = &kernel.Error{Module: "vmm", Message: "entries run is empty"}

// TableAt returns the EntryCount entries of the page table stored at the
// page-aligned virtual address virtAddr.
func TableAt(virtAddr uintptr) []uint64 {
	mm.AlignedPage(virtAddr)
	return unsafe.Slice((*uint64)(unsafe.Pointer(virtAddr)), EntryCount)
}

// window is a run of consecutive entries of one page table.
type window struct {
	entries []uint64
}

func (w window) slot(i int) entrySlot {
	return entrySlot{&w.entries[i]}
}

func (w window) get(i int) EntryValue {
	return EntryValue(w.entries[i])
}

// takeFirst removes the first entry from the window and returns it.
func (w *window) takeFirst() entrySlot {
	if len(w.entries) == 0 {
		panic(errEntriesExhausted)
	}

	s := w.slot(0)
	w.entries = w.entries[1:]
	return s
}

// takeFirstN removes the first n entries from the window and returns them.
func (w *window) takeFirstN(n int) window {
	head, tail := w.splitAt(n)
	*w = tail
	return head
}

func (w window) splitAt(mid int) (window, window) {
	return window{w.entries[:mid:mid]}, window{w.entries[mid:]}
}

// tableAddr returns the virtual address of the first entry in the window.
func (w window) tableAddr() uintptr {
	if len(w.entries) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&w.entries[0]))
}

// L1Entries is a run of sibling L1 entries and the page governed by the
// first one.
type L1Entries struct {
	window
	first mm.Page
}

// NewL1Entries returns a run over entries whose first entry governs first.
func NewL1Entries(entries []uint64, first mm.Page) L1Entries {
	return L1Entries{window{entries}, first}
}

// Addr returns the page governed by the first entry.
func (e L1Entries) Addr() mm.Page { return e.first }

// TableAddr returns the virtual address of the first entry.
func (e L1Entries) TableAddr() uintptr { return e.tableAddr() }

// Len returns the number of entries in the run.
func (e L1Entries) Len() int { return len(e.entries) }

// Entry returns the i-th entry of the run.
func (e L1Entries) Entry(i int) L1EntrySlot {
	return L1EntrySlot{e.slot(i), e.first + mm.Page(i)}
}

// Get returns the value of the i-th entry.
func (e L1Entries) Get(i int) EntryValue { return e.get(i) }

// TakeFirst removes the first entry from the run and returns it.
func (e *L1Entries) TakeFirst() L1EntrySlot {
	s := L1EntrySlot{e.takeFirst(), e.first}
	e.first++
	return s
}

// TakeFirstN removes the first n entries from the run and returns them.
func (e *L1Entries) TakeFirstN(n int) L1Entries {
	head := L1Entries{e.takeFirstN(n), e.first}
	e.first += mm.Page(n)
	return head
}

// SplitAt splits the run into the entries before and after mid.
func (e L1Entries) SplitAt(mid int) (L1Entries, L1Entries) {
	head, tail := e.splitAt(mid)
	return L1Entries{head, e.first}, L1Entries{tail, e.first + mm.Page(mid)}
}

// L2Entries is a run of sibling L2 entries and the region governed by the
// first one.
type L2Entries struct {
	window
	first L2Page
}

// NewL2Entries returns a run over entries whose first entry governs first.
func NewL2Entries(entries []uint64, first L2Page) L2Entries {
	return L2Entries{window{entries}, first}
}

// Addr returns the region governed by the first entry.
func (e L2Entries) Addr() L2Page { return e.first }

// TableAddr returns the virtual address of the first entry.
func (e L2Entries) TableAddr() uintptr { return e.tableAddr() }

// Len returns the number of entries in the run.
func (e L2Entries) Len() int { return len(e.entries) }

// Entry returns the i-th entry of the run.
func (e L2Entries) Entry(i int) L2EntrySlot {
	return L2EntrySlot{e.slot(i), e.first + L2Page(i)}
}

// Get returns the value of the i-th entry.
func (e L2Entries) Get(i int) EntryValue { return e.get(i) }

// TakeFirst removes the first entry from the run and returns it.
func (e *L2Entries) TakeFirst() L2EntrySlot {
	s := L2EntrySlot{e.takeFirst(), e.first}
	e.first++
	return s
}

// TakeFirstN removes the first n entries from the run and returns them.
func (e *L2Entries) TakeFirstN(n int) L2Entries {
	head := L2Entries{e.takeFirstN(n), e.first}
	e.first += L2Page(n)
	return head
}

// SplitAt splits the run into the entries before and after mid.
func (e L2Entries) SplitAt(mid int) (L2Entries, L2Entries) {
	head, tail := e.splitAt(mid)
	return L2Entries{head, e.first}, L2Entries{tail, e.first + L2Page(mid)}
}

// L3Entries is a run of sibling L3 entries and the region governed by the
// first one.
type L3Entries struct {
	window
	first L3Page
}

// NewL3Entries returns a run over entries whose first entry governs first.
func NewL3Entries(entries []uint64, first L3Page) L3Entries {
	return L3Entries{window{entries}, first}
}

// Addr returns the region governed by the first entry.
func (e L3Entries) Addr() L3Page { return e.first }

// TableAddr returns the virtual address of the first entry.
func (e L3Entries) TableAddr() uintptr { return e.tableAddr() }

// Len returns the number of entries in the run.
func (e L3Entries) Len() int { return len(e.entries) }

// Entry returns the i-th entry of the run.
func (e L3Entries) Entry(i int) L3EntrySlot {
	return L3EntrySlot{e.slot(i), e.first + L3Page(i)}
}

// Get returns the value of the i-th entry.
func (e L3Entries) Get(i int) EntryValue { return e.get(i) }

// TakeFirst removes the first entry from the run and returns it.
func (e *L3Entries) TakeFirst() L3EntrySlot {
	s := L3EntrySlot{e.takeFirst(), e.first}
	e.first++
	return s
}

// TakeFirstN removes the first n entries from the run and returns them.
func (e *L3Entries) TakeFirstN(n int) L3Entries {
	head := L3Entries{e.takeFirstN(n), e.first}
	e.first += L3Page(n)
	return head
}

// SplitAt splits the run into the entries before and after mid.
func (e L3Entries) SplitAt(mid int) (L3Entries, L3Entries) {
	head, tail := e.splitAt(mid)
	return L3Entries{head, e.first}, L3Entries{tail, e.first + L3Page(mid)}
}

// L4Entries is a run of top-level entries and the region governed by the
// first one.
type L4Entries struct {
	window
	first L4Page
}

// NewL4Entries returns a run over entries whose first entry governs first.
func NewL4Entries(entries []uint64, first L4Page) L4Entries {
	return L4Entries{window{entries}, first}
}

// Addr returns the region governed by the first entry.
func (e L4Entries) Addr() L4Page { return e.first }

// TableAddr returns the virtual address of the first entry.
func (e L4Entries) TableAddr() uintptr { return e.tableAddr() }

// Len returns the number of entries in the run.
func (e L4Entries) Len() int { return len(e.entries) }

// Entry returns the i-th entry of the run.
func (e L4Entries) Entry(i int) L4EntrySlot {
	return L4EntrySlot{e.slot(i), e.first + L4Page(i)}
}

// Get returns the value of the i-th entry.
func (e L4Entries) Get(i int) EntryValue { return e.get(i) }

// TakeFirst removes the first entry from the run and returns it.
func (e *L4Entries) TakeFirst() L4EntrySlot {
	s := L4EntrySlot{e.takeFirst(), e.first}
	e.first++
	return s
}

// TakeFirstN removes the first n entries from the run and returns them.
func (e *L4Entries) TakeFirstN(n int) L4Entries {
	head := L4Entries{e.takeFirstN(n), e.first}
	e.first += L4Page(n)
	return head
}

// SplitAt splits the run into the entries before and after mid.
func (e L4Entries) SplitAt(mid int) (L4Entries, L4Entries) {
	head, tail := e.splitAt(mid)
	return L4Entries{head, e.first}, L4Entries{tail, e.first + L4Page(mid)}
}
