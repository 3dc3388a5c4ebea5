package main

import (
	"unsafe"

	"kernos/kernel/mm"
	"kernos/kernel/mm/vmm"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// arenaFill is written over the whole arena so that tables which are used
// without being cleared first show up as garbage.
const arenaFill = 0xa5

// arena is an anonymous memory mapping that plays the role of physical
// memory [0, size). It implements mm.AddrTranslator through the embedded
// identity window.
type arena struct {
	mm.IdentityMap
	mem []byte
}

// newArena maps size bytes of anonymous memory. mmap returns page-aligned
// memory, so frame boundaries in the arena match page boundaries in the
// host address space.
func newArena(size uint64) (*arena, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %d byte arena", size)
	}

	base := uintptr(unsafe.Pointer(&mem[0]))
	if base&(mm.PageSize-1) != 0 {
		_ = unix.Munmap(mem)
		return nil, errors.Errorf("arena at 0x%x is not page aligned", base)
	}

	for i := range mem {
		mem[i] = arenaFill
	}

	return &arena{
		IdentityMap: mm.IdentityMap{VirtBase: base, Size: uintptr(size)},
		mem:         mem,
	}, nil
}

// table returns the page table stored in frame.
func (a *arena) table(frame mm.Frame) []uint64 {
	return vmm.TableAt(a.PhysToVirt(frame.Address()))
}

// Close unmaps the arena.
func (a *arena) Close() error {
	return errors.Wrap(unix.Munmap(a.mem), "munmap arena")
}
