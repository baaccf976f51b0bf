// Package mm implements the physical frame allocator and per-address-space
// pagetables. There is no real physical memory on the host, so a shared RAM
// arena (ram.go) stands in for it: frame index i covers the byte range
// [i*FrameSize, (i+1)*FrameSize) of that arena, the same way a real kernel
// treats frame index * PAGE_SIZE as a physical address.
package mm

import (
	"sync"

	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
)

// FrameAllocator is a bitmap of 4 KiB frames, sized to cover TotalFrames.
// All operations hold a single mutex. On the host there is no interrupt
// handler competing for frames, so a plain mutex gives the same mutual
// exclusion a spinlock-under-disabled-interrupts would, without the
// simulated-IRQ ceremony.
type FrameAllocator struct {
	mu       sync.Mutex
	bitmap   []bool
	total    int
	reserved int // [0, reserved) is the static boot-time reservation
}

// NewFrameAllocator builds an allocator covering totalFrames frames, with
// the first reservedFrames pre-marked used (the kernel image + bookkeeping
// structures).
func NewFrameAllocator(totalFrames, reservedFrames int) *FrameAllocator {
	if reservedFrames > totalFrames {
		reservedFrames = totalFrames
	}
	fa := &FrameAllocator{
		bitmap:   make([]bool, totalFrames),
		total:    totalFrames,
		reserved: reservedFrames,
	}
	for i := 0; i < reservedFrames; i++ {
		fa.bitmap[i] = true
	}
	return fa
}

// Total reports the number of frames the allocator covers.
func (fa *FrameAllocator) Total() int { return fa.total }

// Reserved reports the size of the static boot-time reservation.
func (fa *FrameAllocator) Reserved() int { return fa.reserved }

// AllocOne returns the first clear bit and sets it.
func (fa *FrameAllocator) AllocOne() (int, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	for i := 0; i < fa.total; i++ {
		if !fa.bitmap[i] {
			fa.bitmap[i] = true
			return i, nil
		}
	}
	return 0, errs.ErrOutOfMemory
}

// AllocN performs a linear scan for n consecutive clear bits and sets them
// all atomically (either the whole run succeeds, or nothing is changed).
func (fa *FrameAllocator) AllocN(n int) (int, error) {
	if n <= 0 {
		return 0, errs.ErrInvalidParams
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()

	run := 0
	for i := 0; i < fa.total; i++ {
		if fa.bitmap[i] {
			run = 0
			continue
		}
		run++
		if run == n {
			start := i - n + 1
			for j := start; j <= i; j++ {
				fa.bitmap[j] = true
			}
			return start, nil
		}
	}
	return 0, errs.ErrOutOfMemory
}

// Free clears the bit for frame. Panics if frame is
// inside the static reservation or was already free — both are programmer
// errors, not recoverable runtime conditions.
func (fa *FrameAllocator) Free(frame int) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if frame < 0 || frame >= fa.total {
		panic("mm: frame index out of range")
	}
	if frame < fa.reserved {
		panic("mm: attempt to free a statically reserved frame")
	}
	if !fa.bitmap[frame] {
		panic("mm: double free of frame")
	}
	fa.bitmap[frame] = false
}

// Stats reports the free/allocated/reserved partition; every frame is in
// exactly one of the three, so free + allocated + reserved == total.
type Stats struct {
	Free, Allocated, Reserved, Total int
}

func (fa *FrameAllocator) Stats() Stats {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	st := Stats{Total: fa.total, Reserved: fa.reserved}
	for i := fa.reserved; i < fa.total; i++ {
		if fa.bitmap[i] {
			st.Allocated++
		} else {
			st.Free++
		}
	}
	return st
}

// defaultReservedFrames sizes the kernel-image + page-metadata static
// prefix relative to a capacity the caller chooses.
func defaultReservedFrames(total int) int {
	r := total / kconfig.MaxCPUs
	if r < 1 {
		r = 1
	}
	return r
}

// NewFrameAllocatorAuto builds an allocator over totalFrames frames using
// defaultReservedFrames for the static boot-time reservation, for callers
// (VM init) that don't compute their own kernel-image size.
func NewFrameAllocatorAuto(totalFrames int) *FrameAllocator {
	return NewFrameAllocator(totalFrames, defaultReservedFrames(totalFrames))
}
