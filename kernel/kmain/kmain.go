package kmain

import (
	"kernos/kernel"
	"kernos/kernel/boot"
	"kernos/kernel/cpu"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/mm/pmm"
	"kernos/kernel/mm/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// translator is the window through which the kernel reaches physical
	// memory until the page allocator is up. Tests replace it with a
	// window over Go memory.
	translator mm.AddrTranslator = mm.HighIdentityMap

	// flushTLBFn is mocked by tests.
	flushTLBFn = cpu.FlushTLB
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT, the boot page tables and a minimal g0 struct
// that allows Go code to use the 4K stack allocated by the assembly code.
//
// The rt0 code passes the physical address of the multiboot information
// block, the physical address where the kernel image ends and the physical
// address of the five page table frames it set up: the boot L4 table, the
// low identity L3 table and the three tables handed to the page allocator.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelEnd, pageTables uintptr) {
	info, err := boot.Collect(multibootInfoPtr, kernelEnd, pageTables, translator)
	if err != nil {
		panic(err)
	}

	if err = initMemory(info); err != nil {
		panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// initMemory brings up the frame allocator and then the page allocator on
// top of it. Once both are live the low identity mapping set up by the rt0
// code is dropped.
func initMemory(info boot.Info) *kernel.Error {
	kfmt.Printf("[kmain] booted by %s\n", info.BootLoader)

	if err := pmm.Init(info.Available, info.Reserved, translator); err != nil {
		return err
	}

	if err := vmm.Init(info.PageAllocL3, info.SeedTables[0], info.SeedTables[1], translator); err != nil {
		return err
	}

	vmm.DropLowIdentityMap(info.BootL4, info.LowL3, translator)
	flushTLBFn()

	kfmt.Printf("[kmain] memory ready: %d frames free, next page at 0x%16x\n", pmm.FreeFrameCount(), vmm.NextPage().Address())
	return nil
}
