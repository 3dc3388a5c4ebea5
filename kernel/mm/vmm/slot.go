package vmm

import (
	"kernos/kernel"
	"kernos/kernel/mm"
)

// entrySlot is a live view over a single page table entry. The methods of
// entrySlot are shared by the per-level slot types that embed it.
type entrySlot struct {
	entry *uint64
}

// Get returns the current value of the entry.
func (s entrySlot) Get() EntryValue {
	return EntryValue(*s.entry)
}

// Set overwrites the entry.
func (s entrySlot) Set(v EntryValue) {
	*s.entry = uint64(v)
}

// Replace overwrites the entry and returns its previous value.
func (s entrySlot) Replace(v EntryValue) EntryValue {
	old := s.Get()
	s.Set(v)
	return old
}

// Take clears the entry and returns its previous value.
func (s entrySlot) Take() EntryValue {
	return s.Replace(RawEntryValue(0))
}

// Raw returns the non-present payload of the entry. It panics if the entry
// is mapped.
func (s entrySlot) Raw() RawValue {
	raw, ok := s.Get().Raw()
	if !ok {
		panic(errEntryNotRaw)
	}
	return raw
}

// Entry returns the present entry. It panics if the entry is not mapped.
func (s entrySlot) Entry() Entry {
	e, ok := s.Get().Entry()
	if !ok {
		panic(errEntryNotMapped)
	}
	return e
}

// SetRaw stores a non-present payload in the entry.
func (s entrySlot) SetRaw(raw RawValue) {
	s.Set(RawEntryValue(raw))
}

// SetEntry stores a present entry.
func (s entrySlot) SetEntry(e Entry) {
	s.Set(MappedEntryValue(e))
}

// mapTable zeroes the page at backing, points the entry at it through e and
// returns the entries of the new table.
func (s entrySlot) mapTable(e Entry, backing uintptr) []uint64 {
	table := TableAt(backing)
	kernel.Memset(backing, 0, mm.PageSize)
	s.SetEntry(e)
	return table
}

// L1EntrySlot is an entry of an L1 table together with the page it maps.
type L1EntrySlot struct {
	entrySlot
	page mm.Page
}

// Page returns the page governed by the entry.
func (s L1EntrySlot) Page() mm.Page { return s.page }

// MapPage stores e, which should point at a frame, in the entry and returns
// the page now backed by that frame.
func (s L1EntrySlot) MapPage(e Entry) mm.Page {
	s.SetEntry(e)
	return s.page
}

// L2EntrySlot is an entry of an L2 table together with the 2 MiB region it
// governs.
type L2EntrySlot struct {
	entrySlot
	region L2Page
}

// Region returns the region governed by the entry.
func (s L2EntrySlot) Region() L2Page { return s.region }

// MapSubtable installs the page at the virtual address backing as the L1
// table for this entry. The page is zeroed and e, which must point to the
// frame behind backing, is stored in the entry.
func (s L2EntrySlot) MapSubtable(e Entry, backing uintptr) L1Entries {
	return L1Entries{window{s.mapTable(e, backing)}, s.region.FirstPage()}
}

// L3EntrySlot is an entry of an L3 table together with the 1 GiB region it
// governs.
type L3EntrySlot struct {
	entrySlot
	region L3Page
}

// Region returns the region governed by the entry.
func (s L3EntrySlot) Region() L3Page { return s.region }

// MapSubtable installs the page at the virtual address backing as the L2
// table for this entry.
func (s L3EntrySlot) MapSubtable(e Entry, backing uintptr) L2Entries {
	return L2Entries{window{s.mapTable(e, backing)}, s.region.FirstL2()}
}

// L4EntrySlot is an entry of the top-level table together with the 512 GiB
// region it governs.
type L4EntrySlot struct {
	entrySlot
	region L4Page
}

// Region returns the region governed by the entry.
func (s L4EntrySlot) Region() L4Page { return s.region }

// MapSubtable installs the page at the virtual address backing as the L3
// table for this entry.
func (s L4EntrySlot) MapSubtable(e Entry, backing uintptr) L3Entries {
	return L3Entries{window{s.mapTable(e, backing)}, s.region.FirstL3()}
}
