package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// HighIdentityMapBase is the virtual address where the boot code maps
	// the bottom HighIdentityMapSize bytes of physical memory.
	HighIdentityMapBase = uintptr(0xFFFFFFFFC0000000)

	// HighIdentityMapSize is the size of the boot-time identity mapping.
	HighIdentityMapSize = uintptr(1 << 30)
)
