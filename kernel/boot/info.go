// Package boot collects the information that the rt0 code and the boot
// loader hand over to the kernel.
package boot

import (
	"kernos/kernel"
	"kernos/kernel/mm"
)

// maxMemRanges is the number of available memory map entries that Collect
// can record.
const maxMemRanges = 32

var (
	errTooManyRanges     = &kernel.Error{Module: "boot", Message: "memory map has too many available regions"}
	errNoAvailableMemory = &kernel.Error{Module: "boot", Message: "memory map does not list any available regions"}

	// Collect runs before any allocator exists so the ranges live in
	// static storage.
	availableRanges [maxMemRanges]mm.Range
	reservedRanges  [2]mm.Range
)

// Info describes the physical memory layout at the time the kernel takes
// over.
type Info struct {
	// Available lists the physical ranges that the firmware reports as
	// usable RAM.
	Available []mm.Range

	// Reserved lists the ranges that must never be handed out: low memory
	// together with the kernel image, and the boot information blob.
	Reserved []mm.Range

	// BootL4 is the frame of the top-level table loaded in CR3 by the rt0
	// code.
	BootL4 mm.Frame

	// LowL3 is the frame of the L3 table that identity maps the first GiB
	// of physical memory through entry 0 of BootL4. The kernel only needs
	// it until it runs at its high address.
	LowL3 mm.Frame

	// PageAllocL3 is the frame of the L3 table that the rt0 code installed
	// in the top-level entry of the page allocator region.
	PageAllocL3 mm.Frame

	// SeedTables are two zeroed frames reserved by the rt0 code which
	// become the first L2 and L1 tables of the page allocator region.
	SeedTables [2]mm.Frame

	// BootLoader is the name reported by the boot loader.
	BootLoader string
}

// Collect builds the boot Info from the multiboot2 information block at the
// physical address infoPtr. The kernel image ends at the physical address
// kernelEnd; everything below it is reserved. pageTables is the physical
// address of five consecutive page-aligned frames set up by the rt0 code:
// the boot L4 table, the low identity L3 table, the page allocator L3 table
// and the two seed tables.
// translator is used to reach the information block.
func Collect(infoPtr, kernelEnd, pageTables uintptr, translator mm.AddrTranslator) (Info, *kernel.Error) {
	data := multibootData(translator.PhysToVirt(infoPtr))

	var (
		count int
		err   *kernel.Error
	)

	data.visitMemRegions(func(entry *MemoryMapEntry) bool {
		if entry.Type != MemAvailable || entry.Length == 0 {
			return true
		}

		if count == maxMemRanges {
			err = errTooManyRanges
			return false
		}

		availableRanges[count] = mm.Range{
			Start: uintptr(entry.PhysAddress),
			End:   uintptr(entry.PhysAddress + entry.Length),
		}
		count++
		return true
	})

	if err != nil {
		return Info{}, err
	}

	if count == 0 {
		return Info{}, errNoAvailableMemory
	}

	reservedRanges[0] = mm.Range{Start: 0, End: kernelEnd}
	reservedRanges[1] = mm.Range{Start: infoPtr, End: infoPtr + data.totalSize()}

	l4 := mm.AlignedFrame(pageTables)
	return Info{
		Available:   availableRanges[:count],
		Reserved:    reservedRanges[:],
		BootL4:      l4,
		LowL3:       l4 + 1,
		PageAllocL3: l4 + 2,
		SeedTables:  [2]mm.Frame{l4 + 3, l4 + 4},
		BootLoader:  data.bootLoaderName(),
	}, nil
}
