package mm

// Range describes the half-open address range [Start, End).
type Range struct {
	Start uintptr
	End   uintptr
}

// Size returns the number of bytes spanned by the range.
func (r Range) Size() Size {
	if r.End <= r.Start {
		return 0
	}
	return Size(r.End - r.Start)
}

// Empty returns true if the range does not contain any bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Frames returns the range of frames fully contained in r. The start is
// rounded up and the end is rounded down to a frame boundary.
func (r Range) Frames() (first, end Frame) {
	first = Frame((r.Start + PageSize - 1) >> PageShift)
	end = Frame(r.End >> PageShift)
	if end < first {
		end = first
	}
	return first, end
}

// CoveringFrames returns the smallest range of frames that covers every byte
// in r. The start is rounded down and the end is rounded up to a frame
// boundary.
func (r Range) CoveringFrames() (first, end Frame) {
	first = Frame(r.Start >> PageShift)
	end = Frame((r.End + PageSize - 1) >> PageShift)
	if end < first {
		end = first
	}
	return first, end
}
