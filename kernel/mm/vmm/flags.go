package vmm

import "kernos/kernel"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

const (
	// FlagPresent is set for entries that map a frame or a sub-table.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagWritable is set if the mapped memory can be written to.
	FlagWritable

	// FlagSupervisorOnly controls the user/supervisor bit of the entry.
	FlagSupervisorOnly

	// FlagWriteThrough implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThrough

	// FlagDisableCache prevents the mapped memory from being cached.
	FlagDisableCache

	// FlagAccessed is set by the CPU when the entry is used for a
	// translation.
	FlagAccessed

	// FlagAvailable is ignored by the MMU and free for the kernel to use.
	FlagAvailable

	// FlagLargePage is set on L2 and L3 entries that map a 2 MiB or 1 GiB
	// page instead of pointing to a sub-table.
	FlagLargePage

	// FlagNoExecute if set, indicates that the mapped memory does not
	// contain executable code.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)

var errFlagsMismatch = &kernel.Error{Module: "vmm", Message: "entry does not carry the flags required by the requested flag view"}

// flagView describes which bits a kind of entry may carry and which of them
// must always be set.
type flagView struct {
	mask      uint64
	alwaysSet uint64
}

var (
	genericView   = flagView{mask: 0x8000_0000_0000_003f, alwaysSet: uint64(FlagPresent)}
	pageView      = flagView{mask: 0xf800_0000_0000_01ff, alwaysSet: uint64(FlagPresent)}
	highLevelView = flagView{mask: 0xf800_0000_0000_00ff, alwaysSet: uint64(FlagPresent)}
	subtableView  = flagView{mask: 0x8000_0000_0000_007f, alwaysSet: uint64(FlagPresent)}
	largePageView = flagView{mask: 0xf800_0000_0000_117f, alwaysSet: uint64(FlagLargePage | FlagPresent)}
)

// from returns the legal bits of flags plus the bits that are always set.
func (v flagView) from(flags uint64) uint64 {
	return flags&v.mask | v.alwaysSet
}

// set adds the legal bits of flags to cur.
func (v flagView) set(cur uint64, flags PageTableEntryFlag) uint64 {
	return cur | uint64(flags)&v.mask
}

// clear removes the legal bits of flags from cur, except for the bits that
// are always set.
func (v flagView) clear(cur uint64, flags PageTableEntryFlag) uint64 {
	return cur &^ (uint64(flags) & v.mask &^ v.alwaysSet)
}

// extract returns the flags of a raw entry, panicking if the entry is
// missing any of the always-set bits.
func (v flagView) extract(raw uint64) uint64 {
	if raw&v.alwaysSet != v.alwaysSet {
		panic(errFlagsMismatch)
	}
	return v.from(raw)
}

// Flags is implemented by the flag views of the different kinds of entries.
type Flags interface {
	view() flagView
	bits() uint64
}

// GenericFlags holds the flags shared by entries at every level.
type GenericFlags uint64

// PageFlags holds the flags of an L1 entry mapping a 4 KiB page.
type PageFlags uint64

// HighLevelFlags holds the flags of an L2, L3 or L4 entry.
type HighLevelFlags uint64

// SubtableFlags holds the flags of an entry pointing to a sub-table.
type SubtableFlags uint64

// LargePageFlags holds the flags of an L2 or L3 entry mapping a large page.
type LargePageFlags uint64

// NewGenericFlags returns the generic view of flags.
func NewGenericFlags(flags PageTableEntryFlag) GenericFlags {
	return GenericFlags(genericView.from(uint64(flags)))
}

// NewPageFlags returns the small page view of flags.
func NewPageFlags(flags PageTableEntryFlag) PageFlags {
	return PageFlags(pageView.from(uint64(flags)))
}

// NewHighLevelFlags returns the high level entry view of flags.
func NewHighLevelFlags(flags PageTableEntryFlag) HighLevelFlags {
	return HighLevelFlags(highLevelView.from(uint64(flags)))
}

// NewSubtableFlags returns the sub-table view of flags.
func NewSubtableFlags(flags PageTableEntryFlag) SubtableFlags {
	return SubtableFlags(subtableView.from(uint64(flags)))
}

// NewLargePageFlags returns the large page view of flags. FlagLargePage is
// always set.
func NewLargePageFlags(flags PageTableEntryFlag) LargePageFlags {
	return LargePageFlags(largePageView.from(uint64(flags)))
}

func (f GenericFlags) view() flagView { return genericView }
func (f PageFlags) view() flagView { return pageView }
func (f HighLevelFlags) view() flagView { return highLevelView }
func (f SubtableFlags) view() flagView { return subtableView }
func (f LargePageFlags) view() flagView { return largePageView }

func (f GenericFlags) bits() uint64 { return uint64(f) }
func (f PageFlags) bits() uint64 { return uint64(f) }
func (f HighLevelFlags) bits() uint64 { return uint64(f) }
func (f SubtableFlags) bits() uint64 { return uint64(f) }
func (f LargePageFlags) bits() uint64 { return uint64(f) }

// Has returns true if all of the given flags are set.
func (f GenericFlags) Has(flags PageTableEntryFlag) bool {
	return uint64(f)&uint64(flags) == uint64(flags)
}

// Set returns a copy of f with the given flags set. Flags that are not legal
// for this view are ignored.
func (f GenericFlags) Set(flags PageTableEntryFlag) GenericFlags {
	return GenericFlags(genericView.set(uint64(f), flags))
}

// Clear returns a copy of f with the given flags cleared.
func (f GenericFlags) Clear(flags PageTableEntryFlag) GenericFlags {
	return GenericFlags(genericView.clear(uint64(f), flags))
}

// Has returns true if all of the given flags are set.
func (f PageFlags) Has(flags PageTableEntryFlag) bool {
	return uint64(f)&uint64(flags) == uint64(flags)
}

// Set returns a copy of f with the given flags set. Flags that are not legal
// for this view are ignored.
func (f PageFlags) Set(flags PageTableEntryFlag) PageFlags {
	return PageFlags(pageView.set(uint64(f), flags))
}

// Clear returns a copy of f with the given flags cleared.
func (f PageFlags) Clear(flags PageTableEntryFlag) PageFlags {
	return PageFlags(pageView.clear(uint64(f), flags))
}

// Has returns true if all of the given flags are set.
func (f HighLevelFlags) Has(flags PageTableEntryFlag) bool {
	return uint64(f)&uint64(flags) == uint64(flags)
}

// Set returns a copy of f with the given flags set. Flags that are not legal
// for this view are ignored.
func (f HighLevelFlags) Set(flags PageTableEntryFlag) HighLevelFlags {
	return HighLevelFlags(highLevelView.set(uint64(f), flags))
}

// Clear returns a copy of f with the given flags cleared.
func (f HighLevelFlags) Clear(flags PageTableEntryFlag) HighLevelFlags {
	return HighLevelFlags(highLevelView.clear(uint64(f), flags))
}

// Has returns true if all of the given flags are set.
func (f SubtableFlags) Has(flags PageTableEntryFlag) bool {
	return uint64(f)&uint64(flags) == uint64(flags)
}

// Set returns a copy of f with the given flags set. Flags that are not legal
// for this view are ignored.
func (f SubtableFlags) Set(flags PageTableEntryFlag) SubtableFlags {
	return SubtableFlags(subtableView.set(uint64(f), flags))
}

// Clear returns a copy of f with the given flags cleared.
func (f SubtableFlags) Clear(flags PageTableEntryFlag) SubtableFlags {
	return SubtableFlags(subtableView.clear(uint64(f), flags))
}

// Has returns true if all of the given flags are set.
func (f LargePageFlags) Has(flags PageTableEntryFlag) bool {
	return uint64(f)&uint64(flags) == uint64(flags)
}

// Set returns a copy of f with the given flags set. Flags that are not legal
// for this view are ignored.
func (f LargePageFlags) Set(flags PageTableEntryFlag) LargePageFlags {
	return LargePageFlags(largePageView.set(uint64(f), flags))
}

// Clear returns a copy of f with the given flags cleared. FlagLargePage and
// FlagPresent cannot be cleared.
func (f LargePageFlags) Clear(flags PageTableEntryFlag) LargePageFlags {
	return LargePageFlags(largePageView.clear(uint64(f), flags))
}
