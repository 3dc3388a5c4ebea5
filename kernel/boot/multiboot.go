package boot

import "unsafe"

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader precedes each tag. Tags start at 8-byte aligned offsets; size
// includes the header but not the padding.
type tagHeader struct {
	tagType tagType
	size    uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// visitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// multibootData wraps the virtual address of a multiboot2 info block.
type multibootData uintptr

// totalSize returns the size in bytes of the info block, including its
// header.
func (d multibootData) totalSize() uintptr {
	return uintptr((*info)(unsafe.Pointer(d)).totalSize)
}

// visitMemRegions invokes visitor for each memory region that is defined by
// the multiboot info data. Entries with an unknown type are reported as
// MemReserved.
func (d multibootData) visitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := d.findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry MemoryMapEntry
	for curPtr < endPtr {
		entry = *(*MemoryMapEntry)(unsafe.Pointer(curPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// bootLoaderName returns the name reported by the boot loader or an empty
// string if the tag is missing. The returned string aliases the info block.
func (d multibootData) bootLoaderName() string {
	curPtr, size := d.findTagByType(tagBootLoaderName)
	if size == 0 {
		return ""
	}

	name := unsafe.Slice((*byte)(unsafe.Pointer(curPtr)), size)
	for len(name) > 0 && name[len(name)-1] == 0 {
		name = name[:len(name)-1]
	}

	if len(name) == 0 {
		return ""
	}
	return unsafe.String(&name[0], len(name))
}

// findTagByType returns the address and length of the contents of the first
// tag of the given type, or (0, 0) if the info block has no such tag.
func (d multibootData) findTagByType(tagType tagType) (uintptr, uint32) {
	var ptrTagHeader *tagHeader

	curPtr := uintptr(d) + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
