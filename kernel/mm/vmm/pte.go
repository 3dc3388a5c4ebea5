package vmm

import (
	"kernos/kernel"
	"kernos/kernel/mm"
)

var (
	errRawValuePresent = &kernel.Error{Module: "vmm", Message: "raw entry value has the present bit set"}
	errEntryNotRaw     = &kernel.Error{Module: "vmm", Message: "entry is mapped; expected a raw value"}
	errEntryNotMapped  = &kernel.Error{Module: "vmm", Message: "entry is not mapped"}
)

// Entry is the value of a present page table entry. It encodes the physical
// address of a frame (or sub-table) and a set of flags; the present bit is
// always set.
type Entry uint64

// EmptyEntry returns a present entry pointing at frame 0 with no other
// flags set.
func EmptyEntry() Entry {
	return Entry(FlagPresent)
}

// EntryAtFrame returns a present entry pointing at frame.
func EntryAtFrame(frame mm.Frame) Entry {
	return EmptyEntry().SetFrame(frame)
}

// Frame returns the physical page frame that this page table entry points to.
func (e Entry) Frame() mm.Frame {
	return mm.Frame((uint64(e) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame returns a copy of the entry pointing at frame.
func (e Entry) SetFrame(frame mm.Frame) Entry {
	return Entry((uint64(e) &^ ptePhysPageMask) | uint64(frame.Address())&ptePhysPageMask | uint64(FlagPresent))
}

// HasFlags returns true if this entry has all the input flags set.
func (e Entry) HasFlags(flags PageTableEntryFlag) bool {
	return uint64(e)&uint64(flags) == uint64(flags)
}

// SetFlags returns a copy of the entry whose flags, within the bits legal
// for the flag view, are replaced by flags.
func (e Entry) SetFlags(flags Flags) Entry {
	return Entry(uint64(e)&^flags.view().mask | flags.bits())
}

// AddFlags returns a copy of the entry with flags added.
func (e Entry) AddFlags(flags Flags) Entry {
	return Entry(uint64(e) | flags.bits())
}

// GenericFlags returns the flags shared by entries at all levels.
func (e Entry) GenericFlags() GenericFlags {
	return GenericFlags(genericView.extract(uint64(e)))
}

// PageFlags returns the flags of an entry mapping a 4 KiB page.
func (e Entry) PageFlags() PageFlags {
	return PageFlags(pageView.extract(uint64(e)))
}

// HighLevelFlags returns the flags of an L2, L3 or L4 entry.
func (e Entry) HighLevelFlags() HighLevelFlags {
	return HighLevelFlags(highLevelView.extract(uint64(e)))
}

// SubtableFlags returns the flags of an entry pointing to a sub-table.
func (e Entry) SubtableFlags() SubtableFlags {
	return SubtableFlags(subtableView.extract(uint64(e)))
}

// LargePageFlags returns the flags of an entry mapping a large page. It
// panics if the entry does not have FlagLargePage set.
func (e Entry) LargePageFlags() LargePageFlags {
	return LargePageFlags(largePageView.extract(uint64(e)))
}

// RawValue is the content of a non-present page table entry. The MMU ignores
// every other bit of such entries so they can hold arbitrary kernel data.
type RawValue uint64

// NewRawValue returns v as a RawValue. It panics if v has the present bit
// set.
func NewRawValue(v uint64) RawValue {
	raw, ok := TryRawValue(v)
	if !ok {
		panic(errRawValuePresent)
	}
	return raw
}

// TryRawValue returns v as a RawValue and true, or false if v has the present
// bit set.
func TryRawValue(v uint64) (RawValue, bool) {
	if v&uint64(FlagPresent) != 0 {
		return 0, false
	}
	return RawValue(v), true
}

// EntryValue holds the content of a page table entry: either a RawValue or,
// if the present bit is set, an Entry.
type EntryValue uint64

// RawEntryValue wraps a non-present value.
func RawEntryValue(raw RawValue) EntryValue {
	return EntryValue(raw)
}

// MappedEntryValue wraps a present entry.
func MappedEntryValue(e Entry) EntryValue {
	return EntryValue(e)
}

// IsMapped returns true if the value is a present Entry.
func (v EntryValue) IsMapped() bool {
	return uint64(v)&uint64(FlagPresent) != 0
}

// Raw returns the non-present payload and true, or false if the value is a
// present Entry.
func (v EntryValue) Raw() (RawValue, bool) {
	if v.IsMapped() {
		return 0, false
	}
	return RawValue(v), true
}

// Entry returns the present entry and true, or false if the value is a raw
// payload.
func (v EntryValue) Entry() (Entry, bool) {
	if !v.IsMapped() {
		return 0, false
	}
	return Entry(v), true
}
