package mm

import "kernos/kernel"

var (
	errPhysOutsideWindow = &kernel.Error{Module: "mm", Message: "physical address outside the identity-mapped window"}
	errVirtOutsideWindow = &kernel.Error{Module: "mm", Message: "virtual address outside the identity-mapped window"}
)

// AddrTranslator converts between physical addresses and the virtual
// addresses through which the kernel can reach them.
type AddrTranslator interface {
	// PhysToVirt returns a virtual address that can be dereferenced to
	// access physAddr.
	PhysToVirt(physAddr uintptr) uintptr

	// VirtToPhys is the inverse of PhysToVirt.
	VirtToPhys(virtAddr uintptr) uintptr
}

// IdentityMap is an AddrTranslator for a window where physical addresses
// [0, Size) are mapped linearly at virtual addresses [VirtBase,
// VirtBase+Size). Translating an address outside the window is a programming
// error and causes a panic.
type IdentityMap struct {
	VirtBase uintptr
	Size     uintptr
}

// HighIdentityMap describes the window set up by the boot code: the bottom
// 1 GiB of physical memory mapped at the top 1 GiB of the address space.
var HighIdentityMap = IdentityMap{
	VirtBase: HighIdentityMapBase,
	Size:     HighIdentityMapSize,
}

// PhysToVirt implements AddrTranslator.
func (m IdentityMap) PhysToVirt(physAddr uintptr) uintptr {
	if physAddr >= m.Size {
		panic(errPhysOutsideWindow)
	}
	return m.VirtBase + physAddr
}

// VirtToPhys implements AddrTranslator.
func (m IdentityMap) VirtToPhys(virtAddr uintptr) uintptr {
	if virtAddr < m.VirtBase || virtAddr-m.VirtBase >= m.Size {
		panic(errVirtOutsideWindow)
	}
	return virtAddr - m.VirtBase
}
