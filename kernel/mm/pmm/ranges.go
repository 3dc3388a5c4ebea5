package pmm

import "kernos/kernel/mm"

// sortRanges sorts ranges in place by their start address. It uses an
// insertion sort as the inputs are a handful of entries and sort.Slice would
// allocate.
func sortRanges(ranges []mm.Range) {
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && ranges[j].Start < ranges[j-1].Start; j-- {
			ranges[j], ranges[j-1] = ranges[j-1], ranges[j]
		}
	}
}

// visitUsableRanges invokes visitor for every sub-range of available that
// does not overlap any of the reserved ranges. Both slices must be sorted by
// start address and the available ranges must not overlap each other.
// Reserved ranges may overlap: once the walk moves past the end of a
// reserved range it is never looked at again, which is only safe because
// every later reserved range starts at or after it and every later
// available range starts beyond the current one. Returning false from
// visitor stops the iteration.
func visitUsableRanges(available, reserved []mm.Range, visitor func(mm.Range) bool) {
	var (
		nextAvail, nextRsv int
		cur                mm.Range
		haveCur            bool
	)

	for {
		if !haveCur {
			if nextAvail == len(available) {
				return
			}
			cur, haveCur = available[nextAvail], true
			nextAvail++
		}

		// Skip reserved ranges that end before the current range.
		for nextRsv < len(reserved) && reserved[nextRsv].End <= cur.Start {
			nextRsv++
		}

		if nextRsv == len(reserved) || reserved[nextRsv].Start >= cur.End {
			haveCur = false
			if !cur.Empty() && !visitor(cur) {
				return
			}
			continue
		}

		rsv := reserved[nextRsv]
		if cur.Start < rsv.Start {
			if !visitor(mm.Range{Start: cur.Start, End: rsv.Start}) {
				return
			}
		}

		// Keep whatever follows the reserved range; if the reserved range
		// extends past the current one it may also cover the next range.
		if rsv.End < cur.End {
			cur.Start = rsv.End
			nextRsv++
		} else {
			haveCur = false
		}
	}
}
