package pmm

import (
	"math/bits"

	"kernos/kernel"
	"kernos/kernel/mm"
)

var (
	// ErrOutOfMemory is returned when no free block of the requested
	// order can be found.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "no frame available"}

	errInvalidOrder   = &kernel.Error{Module: "pmm", Message: "frame order exceeds MaxFrameOrder"}
	errUnalignedFrame = &kernel.Error{Module: "pmm", Message: "frame is not aligned to the requested order"}
	errFrameRange     = &kernel.Error{Module: "pmm", Message: "frame outside the range tracked by the allocator"}
	errCorruptBitmap  = &kernel.Error{Module: "pmm", Message: "group avail does not match its children"}
)

// bitmapLayout describes the tiers needed to track frameCount frames.
type bitmapLayout struct {
	// groupCounts[s] is the number of groups of size s.
	groupCounts [maxGroupSizes]uintptr

	// wordCounts[s] is the number of uint64 words needed to pack the
	// Avail values of all groups of size s.
	wordCounts [maxGroupSizes]uintptr

	// maxGroupSize is the largest populated tier.
	maxGroupSize groupSize
}

// computeLayout returns the bitmap layout for frameCount frames. Tier 0
// always exists; higher tiers are added for as long as the tier below has
// at least four groups to combine.
func computeLayout(frameCount uintptr) bitmapLayout {
	var layout bitmapLayout

	groupCount := frameCount
	for size := groupSize(0); size < maxGroupSizes; size++ {
		if size > 0 && groupCount < 4 {
			break
		}

		layout.groupCounts[size] = groupCount
		layout.wordCounts[size] = (groupCount*size.bits() + 63) / 64
		layout.maxGroupSize = size

		groupCount = (groupCount + 3) / 4
	}

	return layout
}

// totalWords returns the number of words needed for all tiers.
func (l *bitmapLayout) totalWords() uintptr {
	var total uintptr
	for size := groupSize(0); size <= l.maxGroupSize; size++ {
		total += l.wordCounts[size]
	}
	return total
}

// BitmapStorageSize returns the number of bytes of bitmap storage needed to
// track frameCount frames.
func BitmapStorageSize(frameCount uintptr) uintptr {
	layout := computeLayout(frameCount)
	return layout.totalWords() * 8
}

// BitmapFrameAllocator tracks free physical frames using a hierarchy of
// bitmaps. Tier 0 holds one bit per frame; every group in tier s > 0 covers
// four groups of tier s-1 and caches (as an Avail value) the best order that
// can be allocated from its subtree. The cached value of every group always
// equals merge() of its children, so allocations only need to descend from
// the top tier and updates only need to walk up from the modified group.
//
// Leaf bits are kept in sync with higher-order allocations: allocating or
// freeing a block rewrites the whole subtree under it, not just its root
// group. This keeps the invariant exact for every group in the tree.
type BitmapFrameAllocator struct {
	groupMaps    [maxGroupSizes][]uint64
	groupCounts  [maxGroupSizes]uintptr
	maxGroupSize groupSize
	frameCount   uintptr
}

// init carves the bitmap tiers for frameCount frames out of storage. All
// frames start out as used.
func (alloc *BitmapFrameAllocator) init(storage *BumpAllocator, frameCount uintptr) {
	layout := computeLayout(frameCount)

	*alloc = BitmapFrameAllocator{
		groupCounts:  layout.groupCounts,
		maxGroupSize: layout.maxGroupSize,
		frameCount:   frameCount,
	}

	for size := groupSize(0); size <= layout.maxGroupSize; size++ {
		alloc.groupMaps[size] = storage.AllocWords(layout.wordCounts[size])
	}
}

// FrameCount returns the number of frames tracked by the allocator.
func (alloc *BitmapFrameAllocator) FrameCount() uintptr {
	return alloc.frameCount
}

func (alloc *BitmapFrameAllocator) getAvail(size groupSize, idx uintptr) avail {
	word, shift := size.wordAndShift(idx)
	return avail((alloc.groupMaps[size][word] >> shift) & size.mask())
}

func (alloc *BitmapFrameAllocator) setAvail(size groupSize, idx uintptr, a avail) {
	word, shift := size.wordAndShift(idx)
	alloc.groupMaps[size][word] &^= size.mask() << shift
	alloc.groupMaps[size][word] |= (uint64(a) & size.mask()) << shift
}

func (alloc *BitmapFrameAllocator) childAvails(size groupSize, idx uintptr) [4]avail {
	var children [4]avail
	for i := uintptr(0); i < 4; i++ {
		children[i] = alloc.getAvail(size-1, 4*idx+i)
	}
	return children
}

// fillGroups sets the Avail of count consecutive groups of the given size,
// starting at first. Whole words are written at once.
func (alloc *BitmapFrameAllocator) fillGroups(size groupSize, first, count uintptr, a avail) {
	var (
		groupMap = alloc.groupMaps[size]
		perWord  = size.availsPerWord()
		pattern  uint64
	)

	for i := uintptr(0); i < perWord; i++ {
		pattern |= (uint64(a) & size.mask()) << (i * size.bits())
	}

	for idx, end := first, first+count; idx < end; {
		if idx%perWord == 0 && end-idx >= perWord {
			groupMap[idx/perWord] = pattern
			idx += perWord
			continue
		}

		alloc.setAvail(size, idx, a)
		idx++
	}
}

// markGroup flags the group at (size, idx) and its entire subtree as
// completely free or completely used.
func (alloc *BitmapFrameAllocator) markGroup(size groupSize, idx uintptr, free bool) {
	first, count := idx, uintptr(1)
	for s := int(size); s >= 0; s-- {
		a := availEmpty
		if free {
			a = groupSize(s).maxAvail()
		}

		alloc.fillGroups(groupSize(s), first, count, a)
		first, count = first*4, count*4
	}
}

// updateGroup recomputes the Avail of the group at (size, idx) from its
// children and returns true if it changed.
func (alloc *BitmapFrameAllocator) updateGroup(size groupSize, idx uintptr) bool {
	a := merge(size, alloc.childAvails(size, idx))
	if a == alloc.getAvail(size, idx) {
		return false
	}

	alloc.setAvail(size, idx, a)
	return true
}

// updateParents propagates a change of the group at (size, idx) towards the
// top tier, stopping at the first ancestor whose Avail does not change.
func (alloc *BitmapFrameAllocator) updateParents(size groupSize, idx uintptr) {
	for size < alloc.maxGroupSize {
		size, idx = size+1, idx/4
		if !alloc.updateGroup(size, idx) {
			return
		}
	}
}

// findGroup returns the index of a group of the given size whose Avail is at
// least minAvail. The search picks the first top-tier group that qualifies
// and then greedily descends into the first qualifying child at each tier;
// it never backtracks into a sibling subtree.
func (alloc *BitmapFrameAllocator) findGroup(size groupSize, minAvail avail) (uintptr, bool) {
	if size > alloc.maxGroupSize || alloc.groupMaps[alloc.maxGroupSize] == nil {
		return 0, false
	}

	var (
		curSize = alloc.maxGroupSize
		idx     uintptr
		found   bool
	)

	for i := uintptr(0); i < alloc.groupCounts[curSize]; i++ {
		if alloc.getAvail(curSize, i) >= minAvail {
			idx, found = i, true
			break
		}
	}

	for found && curSize > size {
		curSize--
		found = false

		// TODO: pick the child with the smallest sufficient avail
		// instead of the first one to reduce fragmentation.
		for child := 4 * idx; child < 4*idx+4; child++ {
			if alloc.getAvail(curSize, child) >= minAvail {
				idx, found = child, true
				break
			}
		}
	}

	return idx, found
}

// Alloc reserves a block of 2^order contiguous frames aligned to its size and
// returns its first frame. If no such block is available, Alloc returns
// ErrOutOfMemory.
func (alloc *BitmapFrameAllocator) Alloc(order mm.FrameOrder) (mm.Frame, *kernel.Error) {
	if order > mm.MaxFrameOrder {
		panic(errInvalidOrder)
	}

	size := orderGroupSize(order)
	idx, ok := alloc.findGroup(size, freeAvail(order))
	if !ok {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	if isSingleGroup(order) {
		alloc.markGroup(size, idx, false)
		alloc.updateParents(size, idx)
		return mm.Frame(idx << order), nil
	}

	// Odd orders are served by the first completely free buddy pair
	// among the group's children.
	var (
		subSize  = size - 1
		children = alloc.childAvails(size, idx)
		subMax   = subSize.maxAvail()
		pair     uintptr
	)

	switch {
	case children[0] == subMax && children[1] == subMax:
		pair = 2 * idx
	case children[2] == subMax && children[3] == subMax:
		pair = 2*idx + 1
	default:
		panic(errCorruptBitmap)
	}

	alloc.markGroup(subSize, 2*pair, false)
	alloc.markGroup(subSize, 2*pair+1, false)
	alloc.updateParents(subSize, 2*pair)
	alloc.updateParents(subSize, 2*pair+1)

	return mm.Frame(pair << order), nil
}

// Free releases a block of 2^order frames previously returned by Alloc.
// Freeing a frame that is not aligned to the order, or that lies outside the
// tracked range, is a programming error and panics.
func (alloc *BitmapFrameAllocator) Free(frame mm.Frame, order mm.FrameOrder) {
	if order > mm.MaxFrameOrder {
		panic(errInvalidOrder)
	}

	if uintptr(frame)&(order.Frames()-1) != 0 {
		panic(errUnalignedFrame)
	}

	if uintptr(frame)+order.Frames() > alloc.frameCount {
		panic(errFrameRange)
	}

	size := orderGroupSize(order)
	idx := uintptr(frame) >> order

	if isSingleGroup(order) {
		alloc.markGroup(size, idx, true)
		alloc.updateParents(size, idx)
		return
	}

	subSize := size - 1
	alloc.markGroup(subSize, 2*idx, true)
	alloc.markGroup(subSize, 2*idx+1, true)
	alloc.updateParents(subSize, 2*idx)
	alloc.updateParents(subSize, 2*idx+1)
}

// clampFrames limits the frame range [first, end) to the tracked frames.
func (alloc *BitmapFrameAllocator) clampFrames(first, end mm.Frame) (uintptr, uintptr) {
	lo, hi := uintptr(first), uintptr(end)
	if hi > alloc.frameCount {
		hi = alloc.frameCount
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi - lo
}

// FreeRange flags the frames in [first, end) as free in tier 0 only. It is
// meant for bulk initialization and must be followed by RecomputeAll before
// the allocator is used.
func (alloc *BitmapFrameAllocator) FreeRange(first, end mm.Frame) {
	lo, count := alloc.clampFrames(first, end)
	alloc.fillGroups(0, lo, count, groupSize(0).maxAvail())
}

// UseRange flags the frames in [first, end) as used in tier 0 only. Like
// FreeRange it must be followed by RecomputeAll.
func (alloc *BitmapFrameAllocator) UseRange(first, end mm.Frame) {
	lo, count := alloc.clampFrames(first, end)
	alloc.fillGroups(0, lo, count, availEmpty)
}

// RecomputeAll rebuilds every tier above tier 0 from the bottom up.
func (alloc *BitmapFrameAllocator) RecomputeAll() {
	for size := groupSize(1); size <= alloc.maxGroupSize; size++ {
		for idx := uintptr(0); idx < alloc.groupCounts[size]; idx++ {
			alloc.updateGroup(size, idx)
		}
	}
}

// Verify returns true if every group's cached Avail equals the merge of its
// children.
func (alloc *BitmapFrameAllocator) Verify() bool {
	for size := groupSize(1); size <= alloc.maxGroupSize; size++ {
		for idx := uintptr(0); idx < alloc.groupCounts[size]; idx++ {
			if alloc.getAvail(size, idx) != merge(size, alloc.childAvails(size, idx)) {
				return false
			}
		}
	}
	return true
}

// FreeFrameCount returns the number of free frames.
func (alloc *BitmapFrameAllocator) FreeFrameCount() uintptr {
	var count int
	for _, word := range alloc.groupMaps[0] {
		count += bits.OnesCount64(word)
	}
	return uintptr(count)
}
