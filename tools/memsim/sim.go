package main

import (
	"math/rand"

	"kernos/kernel"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/mm/pmm"
	"kernos/kernel/mm/vmm"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// simulator runs the kernel allocators over an arena.
type simulator struct {
	arena  *arena
	frames pmm.FrameAllocator
	log    *logrus.Entry
}

// newSimulator maps the arena described by s and initializes a frame
// allocator over it. Messages printed by the allocator during init are
// forwarded to log at debug level.
func newSimulator(s *Scenario, log *logrus.Entry) (*simulator, error) {
	a, err := newArena(s.MemorySize)
	if err != nil {
		return nil, err
	}

	sim := &simulator{arena: a, log: log}

	kernelOut := log.WithField("src", "kernel").WriterLevel(logrus.DebugLevel)
	kfmt.SetOutputSink(kernelOut)
	defer func() {
		kfmt.SetOutputSink(nil)
		_ = kernelOut.Close()
	}()

	available, reserved := s.ranges()
	if kerr := sim.frames.Init(available, reserved, a); kerr != nil {
		_ = a.Close()
		return nil, errors.Wrap(kerr, "init frame allocator")
	}

	log.WithFields(logrus.Fields{
		"frames": sim.frames.FrameCount(),
		"free":   sim.frames.FreeFrameCount(),
	}).Info("frame allocator ready")

	return sim, nil
}

// Close releases the arena.
func (s *simulator) Close() error {
	return s.arena.Close()
}

// block is a run of frames handed out by the frame allocator.
type block struct {
	frame mm.Frame
	order mm.FrameOrder
}

// ledger keeps an independent record of which frames are handed out so that
// overlapping or misaligned blocks are caught.
type ledger struct {
	used   []bool
	blocks []block
	inUse  uintptr
}

func newLedger(frameCount uintptr) *ledger {
	return &ledger{used: make([]bool, frameCount)}
}

// claim records b, failing if it is misaligned, out of range or overlaps a
// block that is still in use.
func (l *ledger) claim(b block) error {
	count := b.order.Frames()
	switch {
	case uintptr(b.frame)&(count-1) != 0:
		return errors.Errorf("frame %d is not aligned to order %d", b.frame, b.order)
	case uintptr(b.frame)+count > uintptr(len(l.used)):
		return errors.Errorf("block [%d, %d) lies beyond the last frame %d", b.frame, uintptr(b.frame)+count, len(l.used))
	}

	for f := uintptr(b.frame); f < uintptr(b.frame)+count; f++ {
		if l.used[f] {
			return errors.Errorf("frame %d handed out twice (order %d block at %d)", f, b.order, b.frame)
		}
	}

	for f := uintptr(b.frame); f < uintptr(b.frame)+count; f++ {
		l.used[f] = true
	}
	l.blocks = append(l.blocks, b)
	l.inUse += count
	return nil
}

// release forgets the i-th block and returns it. The last block takes its
// place.
func (l *ledger) release(i int) block {
	b := l.blocks[i]
	for f := uintptr(b.frame); f < uintptr(b.frame)+b.order.Frames(); f++ {
		l.used[f] = false
	}

	last := len(l.blocks) - 1
	l.blocks[i] = l.blocks[last]
	l.blocks = l.blocks[:last]
	l.inUse -= b.order.Frames()
	return b
}

// fillResult summarizes a fill run.
type fillResult struct {
	Allocs   [mm.MaxFrameOrder + 1]int
	Failures [mm.MaxFrameOrder + 1]int
	Frames   uintptr
	Free     uintptr
}

// fill requests blocks of random orders up to maxOrder until steps requests
// were made or an order 0 request fails, then returns every block in random
// order. It fails if the allocator hands out overlapping blocks, if its
// bitmaps become inconsistent or if freeing everything does not restore the
// free frame count.
func (s *simulator) fill(rng *rand.Rand, steps int, maxOrder mm.FrameOrder) (fillResult, error) {
	var (
		res      fillResult
		ledger   = newLedger(s.frames.FrameCount())
		freeInit = s.frames.FreeFrameCount()
	)

	for step := 0; step < steps; step++ {
		order := mm.FrameOrder(rng.Intn(int(maxOrder) + 1))
		frame, kerr := s.frames.AllocFrame(order)
		if kerr == pmm.ErrOutOfMemory {
			res.Failures[order]++
			if order == 0 {
				break
			}
			continue
		} else if kerr != nil {
			return res, errors.Wrapf(kerr, "step %d", step)
		}

		if err := ledger.claim(block{frame, order}); err != nil {
			return res, errors.Wrapf(err, "step %d", step)
		}
		res.Allocs[order]++
	}

	res.Frames = ledger.inUse
	if exp, got := freeInit-ledger.inUse, s.frames.FreeFrameCount(); got != exp {
		return res, errors.Errorf("expected %d free frames after fill; got %d", exp, got)
	}

	if !s.frames.Verify() {
		return res, errors.New("frame bitmap inconsistent after fill")
	}

	for len(ledger.blocks) != 0 {
		b := ledger.release(rng.Intn(len(ledger.blocks)))
		s.frames.FreeFrame(b.frame, b.order)
	}

	res.Free = s.frames.FreeFrameCount()
	if res.Free != freeInit {
		return res, errors.Errorf("expected %d free frames after releasing everything; got %d", freeInit, res.Free)
	}

	if !s.frames.Verify() {
		return res, errors.New("frame bitmap inconsistent after release")
	}

	return res, nil
}

// stressResult summarizes a stress run.
type stressResult struct {
	Allocs   int
	Frees    int
	Failures int
	MaxInUse uintptr
}

// stress interleaves random allocations and frees, checking the allocator
// bitmaps after every operation.
func (s *simulator) stress(rng *rand.Rand, steps int, maxOrder mm.FrameOrder) (stressResult, error) {
	var (
		res    stressResult
		ledger = newLedger(s.frames.FrameCount())
	)

	for step := 0; step < steps; step++ {
		if len(ledger.blocks) != 0 && rng.Intn(3) == 0 {
			b := ledger.release(rng.Intn(len(ledger.blocks)))
			s.frames.FreeFrame(b.frame, b.order)
			res.Frees++
		} else {
			order := mm.FrameOrder(rng.Intn(int(maxOrder) + 1))
			frame, kerr := s.frames.AllocFrame(order)
			switch {
			case kerr == pmm.ErrOutOfMemory:
				res.Failures++
			case kerr != nil:
				return res, errors.Wrapf(kerr, "step %d", step)
			default:
				if err := ledger.claim(block{frame, order}); err != nil {
					return res, errors.Wrapf(err, "step %d", step)
				}
				res.Allocs++
			}
		}

		if ledger.inUse > res.MaxInUse {
			res.MaxInUse = ledger.inUse
		}

		if !s.frames.Verify() {
			return res, errors.Errorf("step %d: frame bitmap inconsistent", step)
		}
	}

	for len(ledger.blocks) != 0 {
		b := ledger.release(len(ledger.blocks) - 1)
		s.frames.FreeFrame(b.frame, b.order)
	}

	return res, nil
}

// pagesResult summarizes a pages run.
type pagesResult struct {
	Pages     int
	Exhausted bool
	Stats     vmm.PageAllocStats
	Frames    uintptr
}

// pages sets up a page allocator whose L3 and seed tables come from the
// frame allocator and requests count pages from it. Every page handed out
// must be mapped to its own frame and follow the previous one.
func (s *simulator) pages(count int) (pagesResult, error) {
	var (
		res    pagesResult
		tables [3]mm.Frame
	)

	for i := range tables {
		frame, kerr := s.frames.AllocFrame(0)
		if kerr != nil {
			return res, errors.Wrap(kerr, "allocate page allocator tables")
		}
		tables[i] = frame
	}

	l3Table := s.arena.table(tables[0])
	kernel.Memset(s.arena.PhysToVirt(tables[0].Address()), 0, mm.PageSize)

	var pa vmm.PageAllocator
	l3 := vmm.NewL3Entries(l3Table[:vmm.EntryCount-1], vmm.PageAllocRegion.FirstL3())
	if kerr := pa.Init(l3, tables[1], tables[2], s.frames.AllocFrame, s.arena); kerr != nil {
		return res, errors.Wrap(kerr, "init page allocator")
	}
	pa.SetTableAddrFn(func(_ mm.Page, frame mm.Frame) uintptr {
		return s.arena.PhysToVirt(frame.Address())
	})

	var (
		freeInit = s.frames.FreeFrameCount()
		seen     = make(map[mm.Frame]mm.Page, count)
		prev     mm.Page
	)

	for i := 0; i < count; i++ {
		page, kerr := pa.AllocPage()
		if kerr == vmm.ErrOutOfMemory {
			res.Exhausted = true
			s.log.WithField("pages", i).Warn("frame allocator ran out of frames")
			break
		} else if kerr != nil {
			return res, errors.Wrapf(kerr, "page %d", i)
		}

		if i > 0 && page <= prev {
			return res, errors.Errorf("page 0x%x does not follow page 0x%x", page.Address(), prev.Address())
		}
		prev = page

		frame, ok := s.walk(tables[0], page)
		if !ok {
			return res, errors.Errorf("page 0x%x is not mapped", page.Address())
		}

		if other, dup := seen[frame]; dup {
			return res, errors.Errorf("pages 0x%x and 0x%x share frame %d", other.Address(), page.Address(), frame)
		}
		seen[frame] = page
		res.Pages++
	}

	res.Stats = pa.Stats()
	res.Frames = freeInit - s.frames.FreeFrameCount()

	// Every table minted after Init consumed one frame on top of the pages.
	if exp := uintptr(res.Stats.Pages + res.Stats.Tables - 2); res.Frames != exp {
		return res, errors.Errorf("expected %d frames to be used; got %d", exp, res.Frames)
	}

	return res, nil
}

// walk translates page through the tables below the L3 table in l3 and
// returns the frame it is mapped to.
func (s *simulator) walk(l3 mm.Frame, page mm.Page) (mm.Frame, bool) {
	_, i3, i2, i1 := vmm.Indices(page)

	table := s.arena.table(l3)
	for _, idx := range []uintptr{i3, i2} {
		e, ok := vmm.EntryValue(table[idx]).Entry()
		if !ok {
			return mm.InvalidFrame, false
		}
		table = s.arena.table(e.Frame())
	}

	e, ok := vmm.EntryValue(table[i1]).Entry()
	if !ok {
		return mm.InvalidFrame, false
	}
	return e.Frame(), true
}
