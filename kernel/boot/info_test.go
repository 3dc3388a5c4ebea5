package boot

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"kernos/kernel"
	"kernos/kernel/mm"

	"github.com/google/go-cmp/cmp"
)

// infoPhys is the physical address at which the tests pretend the boot
// loader placed the information block.
const infoPhys = 0x9000

// translatorFor returns a translator that maps infoPhys onto data.
func translatorFor(data []byte) mm.IdentityMap {
	return mm.IdentityMap{
		VirtBase: uintptr(unsafe.Pointer(&data[0])) - infoPhys,
		Size:     infoPhys + uintptr(len(data)),
	}
}

// buildInfo assembles a multiboot2 information block with a memory map tag
// holding entries.
func buildInfo(entries []MemoryMapEntry) []byte {
	const entrySize = 24

	tagSize := 16 + entrySize*len(entries)
	data := make([]byte, 8+tagSize+8)
	le := binary.LittleEndian

	le.PutUint32(data[0:], uint32(len(data)))
	le.PutUint32(data[8:], uint32(tagMemoryMap))
	le.PutUint32(data[12:], uint32(tagSize))
	le.PutUint32(data[16:], entrySize)

	for i, entry := range entries {
		off := 24 + i*entrySize
		le.PutUint64(data[off:], entry.PhysAddress)
		le.PutUint64(data[off+8:], entry.Length)
		le.PutUint32(data[off+16:], uint32(entry.Type))
	}

	// The end tag (type 0, size 8) is already zeroed apart from its size.
	le.PutUint32(data[len(data)-4:], 8)
	return data
}

func TestCollect(t *testing.T) {
	data := append([]byte(nil), multibootInfoTestData...)

	info, err := Collect(infoPhys, 0x200000, 0x105000, translatorFor(data))
	if err != nil {
		t.Fatal(err)
	}

	exp := Info{
		Available: []mm.Range{
			{Start: 0, End: 0x9fc00},
			{Start: 0x100000, End: 0x7fe0000},
		},
		Reserved: []mm.Range{
			{Start: 0, End: 0x200000},
			{Start: infoPhys, End: infoPhys + 1352},
		},
		BootL4:      0x105,
		LowL3:       0x106,
		PageAllocL3: 0x107,
		SeedTables:  [2]mm.Frame{0x108, 0x109},
		BootLoader:  "GRUB 2.02~beta2-9ubuntu1.6",
	}

	if diff := cmp.Diff(exp, info); diff != "" {
		t.Fatalf("unexpected boot info (-want +got):\n%s", diff)
	}

	t.Run("unknown entry types are reserved", func(t *testing.T) {
		data := append([]byte(nil), multibootInfoTestData...)
		data[128] = 0xff

		info, err := Collect(infoPhys, 0x200000, 0x105000, translatorFor(data))
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]mm.Range{{Start: 0x100000, End: 0x7fe0000}}, info.Available); diff != "" {
			t.Fatalf("unexpected available ranges (-want +got):\n%s", diff)
		}
	})
}

func TestCollectErrors(t *testing.T) {
	tooMany := make([]MemoryMapEntry, maxMemRanges+1)
	for i := range tooMany {
		tooMany[i] = MemoryMapEntry{PhysAddress: uint64(i) << 20, Length: 4096, Type: MemAvailable}
	}

	specs := []struct {
		name   string
		data   []byte
		expErr *kernel.Error
	}{
		{"no memory map tag", append([]byte(nil), emptyInfoData...), errNoAvailableMemory},
		{"no available regions", buildInfo([]MemoryMapEntry{
			{PhysAddress: 0, Length: 0x9fc00, Type: MemReserved},
			{PhysAddress: 0x100000, Length: 0, Type: MemAvailable},
		}), errNoAvailableMemory},
		{"too many regions", buildInfo(tooMany), errTooManyRanges},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			if _, err := Collect(infoPhys, 0x200000, 0x105000, translatorFor(spec.data)); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
		})
	}

	t.Run("unaligned page tables", func(t *testing.T) {
		defer func() {
			if err := recover(); err != mm.ErrUnalignedAddress {
				t.Fatalf("expected panic with error %v; got %v", mm.ErrUnalignedAddress, err)
			}
		}()

		Collect(infoPhys, 0x200000, 0x105008, translatorFor(buildInfo(tooMany[:1])))
	})
}

func TestBuildInfo(t *testing.T) {
	entries := []MemoryMapEntry{
		{PhysAddress: 0x1000, Length: 0x2000, Type: MemAvailable},
		{PhysAddress: 0x8000, Length: 0x1000, Type: MemAcpiReclaimable},
		{PhysAddress: 0x9000, Length: 0x1000, Type: MemNvs},
	}

	data := buildInfo(entries)
	mb := multibootData(uintptr(unsafe.Pointer(&data[0])))

	if exp, got := uintptr(len(data)), mb.totalSize(); got != exp {
		t.Fatalf("expected total size %d; got %d", exp, got)
	}

	if got := mb.bootLoaderName(); got != "" {
		t.Fatalf("expected empty boot loader name; got %q", got)
	}

	var visited []MemoryMapEntry
	mb.visitMemRegions(func(entry *MemoryMapEntry) bool {
		visited = append(visited, *entry)
		return len(visited) < 2
	})

	if diff := cmp.Diff(entries[:2], visited); diff != "" {
		t.Fatalf("unexpected visited entries (-want +got):\n%s", diff)
	}
}

var (
	emptyInfoData = []byte{
		16, 0, 0, 0, // size
		0, 0, 0, 0, // reserved
		0, 0, 0, 0, // tag with type zero and length zero
		0, 0, 0, 0,
	}

	// A dump of multiboot data when running under qemu.
	multibootInfoTestData = []byte{
		72, 5, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 9, 0, 0, 0,
		0, 171, 253, 7, 118, 119, 123, 0, 2, 0, 0, 0, 35, 0, 0, 0,
		71, 82, 85, 66, 32, 50, 46, 48, 50, 126, 98, 101, 116, 97, 50, 45,
		57, 117, 98, 117, 110, 116, 117, 49, 46, 54, 0, 0, 0, 0, 0, 0,
		10, 0, 0, 0, 28, 0, 0, 0, 2, 1, 0, 240, 4, 213, 0, 0,
		0, 240, 0, 240, 3, 0, 240, 255, 240, 255, 240, 255, 0, 0, 0, 0,
		6, 0, 0, 0, 160, 0, 0, 0, 24, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
		0, 4, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 15, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 16, 0, 0, 0, 0, 0,
		0, 0, 238, 7, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 254, 7, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 255, 0, 0, 0, 0,
		0, 0, 4, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		9, 0, 0, 0, 212, 3, 0, 0, 24, 0, 0, 0, 40, 0, 0, 0,
		21, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 27, 0, 0, 0,
		1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 16, 0, 0, 16, 0, 0,
		24, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 8, 0, 0, 0,
		0, 0, 0, 0, 38, 0, 0, 0, 1, 0, 0, 0, 6, 0, 0, 0,
		0, 16, 16, 0, 0, 32, 0, 0, 135, 26, 4, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 16, 0, 0, 0, 0, 0, 0, 44, 0, 0, 0,
		1, 0, 0, 0, 2, 0, 0, 0, 0, 48, 20, 0, 0, 64, 4, 0,
		194, 167, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 16, 0, 0,
		0, 0, 0, 0, 52, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0,
		224, 215, 21, 0, 224, 231, 5, 0, 176, 6, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 32, 0, 0, 0, 0, 0, 0, 0, 62, 0, 0, 0,
		1, 0, 0, 0, 2, 0, 0, 0, 144, 222, 21, 0, 144, 238, 5, 0,
		4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0,
		0, 0, 0, 0, 72, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0,
		160, 222, 21, 0, 160, 238, 5, 0, 119, 23, 2, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 32, 0, 0, 0, 0, 0, 0, 0, 83, 0, 0, 0,
		7, 0, 0, 0, 2, 0, 0, 0, 32, 246, 23, 0, 32, 6, 8, 0,
		56, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 32, 0, 0, 0,
		0, 0, 0, 0, 100, 0, 0, 0, 1, 0, 0, 0, 3, 0, 0, 0,
		0, 0, 24, 0, 0, 16, 8, 0, 204, 5, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 16, 0, 0, 0, 0, 0, 0, 106, 0, 0, 0,
		1, 0, 0, 0, 3, 0, 0, 0, 224, 5, 24, 0, 224, 21, 8, 0,
		178, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 32, 0, 0, 0,
		0, 0, 0, 0, 117, 0, 0, 0, 8, 0, 0, 0, 3, 4, 0, 0,
		148, 15, 24, 0, 146, 31, 8, 0, 4, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0, 123, 0, 0, 0,
		8, 0, 0, 0, 3, 0, 0, 0, 0, 16, 24, 0, 146, 31, 8, 0,
		176, 61, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 16, 0, 0,
		0, 0, 0, 0, 128, 0, 0, 0, 8, 0, 0, 0, 3, 0, 0, 0,
		192, 77, 25, 0, 146, 31, 8, 0, 32, 56, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 32, 0, 0, 0, 0, 0, 0, 0, 138, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0, 224, 133, 25, 0, 146, 31, 8, 0,
		64, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0,
		0, 0, 0, 0, 153, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		32, 134, 25, 0, 210, 31, 8, 0, 129, 26, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 169, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0, 161, 160, 25, 0, 83, 58, 8, 0,
		2, 201, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0,
		0, 0, 0, 0, 181, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		163, 105, 27, 0, 85, 3, 10, 0, 25, 1, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 195, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0, 188, 106, 27, 0, 110, 4, 10, 0,
		67, 153, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0,
		0, 0, 0, 0, 207, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		0, 4, 28, 0, 184, 157, 10, 0, 252, 112, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 8, 0, 0, 0, 0, 0, 0, 0, 220, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0, 252, 116, 28, 0, 180, 14, 11, 0,
		16, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0,
		0, 0, 0, 0, 231, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		12, 117, 28, 0, 196, 14, 11, 0, 239, 79, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 17, 0, 0, 0,
		3, 0, 0, 0, 0, 0, 0, 0, 251, 196, 28, 0, 179, 94, 11, 0,
		247, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0,
		0, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		244, 197, 28, 0, 108, 99, 11, 0, 80, 77, 0, 0, 23, 0, 0, 0,
		210, 4, 0, 0, 4, 0, 0, 0, 16, 0, 0, 0, 9, 0, 0, 0,
		3, 0, 0, 0, 0, 0, 0, 0, 68, 19, 29, 0, 188, 176, 11, 0,
		107, 104, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 16, 0, 0, 0,
		127, 2, 0, 0, 128, 251, 1, 0, 5, 0, 0, 0, 20, 0, 0, 0,
		224, 0, 0, 0, 255, 255, 255, 255, 255, 255, 255, 255, 0, 0, 0, 0,
		8, 0, 0, 0, 32, 0, 0, 0, 0, 128, 11, 0, 0, 0, 0, 0,
		160, 0, 0, 0, 80, 0, 0, 0, 25, 0, 0, 0, 16, 2, 0, 0,
		14, 0, 0, 0, 28, 0, 0, 0, 82, 83, 68, 32, 80, 84, 82, 32,
		89, 66, 79, 67, 72, 83, 32, 0, 220, 24, 254, 7, 0, 0, 0, 0,
		0, 0, 0, 0, 8, 0, 0, 0,
	}
)
