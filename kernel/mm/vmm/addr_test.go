package vmm

import (
	"testing"

	"kernos/kernel/mm"
)

func TestPageFromIndices(t *testing.T) {
	specs := []struct {
		l4, l3, l2, l1 uintptr
		expAddr        uintptr
	}{
		{0, 0, 0, 0, 0x0},
		{0, 0, 0, 1, 0x1000},
		{0, 0, 1, 0, 0x200000},
		{0, 1, 0, 0, 0x40000000},
		{1, 0, 0, 0, 0x8000000000},
		{255, 511, 511, 511, 0x00007ffffffff000},
		// Indices with the top bit of the L4 index set are sign extended.
		{256, 0, 0, 0, 0xffff800000000000},
		{511, 0, 0, 0, 0xffffff8000000000},
		{511, 511, 0, 0, mm.HighIdentityMapBase},
		{511, 511, 511, 511, 0xfffffffffffff000},
	}

	for specIndex, spec := range specs {
		page := PageFromIndices(spec.l4, spec.l3, spec.l2, spec.l1)
		if got := page.Address(); got != spec.expAddr {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.expAddr, got)
			continue
		}

		l4, l3, l2, l1 := Indices(page)
		if l4 != spec.l4 || l3 != spec.l3 || l2 != spec.l2 || l1 != spec.l1 {
			t.Errorf("[spec %d] expected Indices to return (%d, %d, %d, %d); got (%d, %d, %d, %d)", specIndex, spec.l4, spec.l3, spec.l2, spec.l1, l4, l3, l2, l1)
		}
	}

	t.Run("index out of range", func(t *testing.T) {
		defer func() {
			if err := recover(); err != errInvalidIndex {
				t.Fatalf("expected panic with error %v; got %v", errInvalidIndex, err)
			}
		}()

		PageFromIndices(0, 0, EntryCount, 0)
	})
}

func TestRegionPages(t *testing.T) {
	if exp, got := uintptr(0xffffff8000000000), PageAllocRegion.Address(); got != exp {
		t.Fatalf("expected page allocator region at 0x%x; got 0x%x", exp, got)
	}

	l3 := PageAllocRegion.FirstL3()
	if exp, got := PageAllocRegion.Address(), l3.Address(); got != exp {
		t.Fatalf("expected first L3 region at 0x%x; got 0x%x", exp, got)
	}

	if exp, got := uintptr(0xffffff8040000000), (l3 + 1).Address(); got != exp {
		t.Fatalf("expected second L3 region at 0x%x; got 0x%x", exp, got)
	}

	l2 := (l3 + 1).FirstL2() + 3
	if exp, got := uintptr(0xffffff8040600000), l2.Address(); got != exp {
		t.Fatalf("expected L2 region at 0x%x; got 0x%x", exp, got)
	}

	if exp, got := mm.PageFromAddress(0xffffff8040600000), l2.FirstPage(); got != exp {
		t.Fatalf("expected first page 0x%x; got 0x%x", exp.Address(), got.Address())
	}

	if got := L2PageFromAddress(0xffffff8040600000); got != l2 {
		t.Fatalf("expected L2PageFromAddress to return 0x%x; got 0x%x", l2.Address(), got.Address())
	}

	if got := L3PageFromAddress(0xffffff8040000000); got != l3+1 {
		t.Fatalf("expected L3PageFromAddress to return 0x%x; got 0x%x", (l3 + 1).Address(), got.Address())
	}

	specs := []struct {
		name string
		fn   func()
	}{
		{"unaligned L2 region", func() { L2PageFromAddress(0x1000) }},
		{"unaligned L3 region", func() { L3PageFromAddress(0x200000) }},
		{"unaligned L4 region", func() { L4PageFromAddress(0x40000000) }},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			defer func() {
				if err := recover(); err != errUnalignedRegion {
					t.Fatalf("expected panic with error %v; got %v", errUnalignedRegion, err)
				}
			}()

			spec.fn()
		})
	}
}
