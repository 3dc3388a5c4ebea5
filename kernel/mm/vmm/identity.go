package vmm

import "kernos/kernel/mm"

// DropLowIdentityMap removes the identity mapping of the first GiB of
// physical memory that the rt0 code uses before it jumps to the kernel's
// high address. bootL4 is the active top-level table and lowL3 the table
// linked from its first entry; translator is used to reach both. The caller
// must flush the TLB afterwards.
func DropLowIdentityMap(bootL4, lowL3 mm.Frame, translator mm.AddrTranslator) {
	l4 := NewL4Entries(TableAt(translator.PhysToVirt(bootL4.Address())), 0)
	l4.Entry(0).Take()

	l3 := NewL3Entries(TableAt(translator.PhysToVirt(lowL3.Address())), 0)
	l3.Entry(0).Take()
}
