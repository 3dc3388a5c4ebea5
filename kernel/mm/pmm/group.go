package pmm

import "kernos/kernel/mm"

// maxGroupSizes is the number of bitmap tiers the allocator can track. Each
// tier groups four groups of the tier below, so 16 tiers cover far more
// frames than any 64-bit machine has.
const maxGroupSizes = 16

// groupSize indexes a bitmap tier. A group of size s spans 4^s frames.
type groupSize uint8

// bits returns the width of the Avail value stored for each group of this
// size.
func (s groupSize) bits() uintptr {
	switch s {
	case 0:
		return 1
	case 1:
		return 2
	default:
		return 4
	}
}

// availsPerWord returns the number of groups packed into each bitmap word.
func (s groupSize) availsPerWord() uintptr {
	return 64 / s.bits()
}

// wordAndShift returns the bitmap word holding group idx and the bit offset
// of its Avail value within that word.
func (s groupSize) wordAndShift(idx uintptr) (uintptr, uintptr) {
	perWord := s.availsPerWord()
	return idx / perWord, (idx % perWord) * s.bits()
}

func (s groupSize) mask() uint64 {
	return (1 << s.bits()) - 1
}

// maxAvail returns the Avail of a group of this size whose frames are all
// free.
func (s groupSize) maxAvail() avail {
	return avail(2*s + 1)
}

// avail caches the best order obtainable from a group's subtree, encoded as
// order+1. Zero means that nothing can be allocated from the group.
type avail uint8

const (
	availEmpty = avail(0)
	availMax   = avail(mm.MaxFrameOrder + 1)
)

// merge computes the Avail of a group of the given size from the Avail values
// of its four children. If both buddy halves (children 0-1 and 2-3) are
// completely free the next order up can be served from either half; if only
// one is, the group can serve one order less than that. Otherwise the group
// is as good as its best child.
func merge(size groupSize, children [4]avail) avail {
	subMax := (size - 1).maxAvail()

	leftMax := children[0] == subMax && children[1] == subMax
	rightMax := children[2] == subMax && children[3] == subMax

	switch {
	case leftMax && rightMax:
		return minAvail(subMax+2, availMax)
	case leftMax || rightMax:
		return minAvail(subMax+1, availMax)
	}

	best := children[0]
	for _, c := range children[1:] {
		if c > best {
			best = c
		}
	}
	return best
}

func minAvail(a, b avail) avail {
	if a < b {
		return a
	}
	return b
}

// orderGroupSize returns the tier that serves allocations of the given
// order. Even orders take one whole group of that size; odd orders take a
// buddy-aligned pair of groups one size below.
func orderGroupSize(order mm.FrameOrder) groupSize {
	return groupSize((order + 1) / 2)
}

// isSingleGroup returns true for orders served by one whole group.
func isSingleGroup(order mm.FrameOrder) bool {
	return order%2 == 0
}

// freeAvail returns the Avail that a group must reach to serve an
// allocation of the given order.
func freeAvail(order mm.FrameOrder) avail {
	return avail(order + 1)
}
