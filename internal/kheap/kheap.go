// Package kheap implements the two-phase kernel heap: a bump
// allocator for the bootstrap window before VM init, and a linked-list
// first-fit allocator for everything after.
package kheap

import (
	"fmt"
	"sync"
)

const align = 16

func alignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// Stalloc is the monotonic bump allocator used before VM init:
// word-aligned slices cut from a fixed arena, never individually freed.
// VM init calls Disable, after which any further Alloc panics, mirroring
// "no allocator available" once the real heap takes over.
type Stalloc struct {
	mu       sync.Mutex
	arena    []byte
	offset   int
	disabled bool
}

// NewStalloc wraps arena as the bump-allocation region.
func NewStalloc(arena []byte) *Stalloc {
	return &Stalloc{arena: arena}
}

// Alloc returns a zeroed, word-aligned slice of n bytes cut from the
// remaining arena. Panics if disabled or exhausted: this allocator has no
// failure path because it only ever runs before the scheduler exists.
func (s *Stalloc) Alloc(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		panic("kheap: stalloc used after VM init disabled it")
	}
	start := alignUp(s.offset, 8)
	end := start + n
	if end > len(s.arena) {
		panic("kheap: stalloc arena exhausted")
	}
	s.offset = end
	region := s.arena[start:end]
	for i := range region {
		region[i] = 0
	}
	return region
}

// Disable freezes the bump allocator; called once at VM init.
func (s *Stalloc) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = true
}

// Used reports how many bytes have been handed out so far.
func (s *Stalloc) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// block is a node of the post-VM-init free/used list, doubly linked so a
// freed block can merge with its neighbor on either side. In a hosted
// simulation each block already owns its backing slice, so there is no
// separate address field to track; neighboring blocks' slices are adjacent
// views of the one arena, which is what makes merging a slice re-extension.
type block struct {
	data []byte
	free bool
	next *block
	prev *block
}

// Heap is the linked-list first-fit allocator: free blocks are
// found by walking from the head; allocation splits a block when the
// remainder is usefully large, and every allocation size is 16-byte
// aligned.
type Heap struct {
	mu   sync.Mutex
	head *block
}

// NewHeap creates a first-fit heap managing size bytes of virtual space
// (assumed already mapped by the caller — VM init reserves the region
// before handing it to the runtime heap).
func NewHeap(size int) *Heap {
	return &Heap{head: &block{data: make([]byte, size), free: true}}
}

// Allocation is the opaque handle Alloc returns alongside the usable
// slice, so Free can locate the owning block without a scan.
type Allocation struct {
	Bytes []byte
	blk   *block
}

// Alloc finds the first free block of at least n (16-byte-aligned) bytes,
// splitting off any sufficiently large remainder back onto the free list.
func (h *Heap) Alloc(n int) (*Allocation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("kheap: invalid allocation size %d", n)
	}
	need := alignUp(n, align)

	h.mu.Lock()
	defer h.mu.Unlock()

	for b := h.head; b != nil; b = b.next {
		if !b.free || len(b.data) < need {
			continue
		}
		if remainder := len(b.data) - need; remainder > align {
			rest := &block{data: b.data[need:], free: true, next: b.next, prev: b}
			b.data = b.data[:need]
			if rest.next != nil {
				rest.next.prev = rest
			}
			b.next = rest
		}
		b.free = false
		for i := range b.data {
			b.data[i] = 0
		}
		return &Allocation{Bytes: b.data, blk: b}, nil
	}
	return nil, fmt.Errorf("kheap: out of memory for %d bytes", n)
}

// Free marks a's block available again and coalesces it with free
// neighbors in both directions, so interleaved alloc/free cycles can't
// fragment the heap into slivers no allocation fits.
func (h *Heap) Free(a *Allocation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := a.blk
	b.free = true

	// merge into the preceding block while it is free
	for b.prev != nil && b.prev.free {
		prev := b.prev
		prev.data = prev.data[:len(prev.data)+len(b.data)]
		prev.next = b.next
		if b.next != nil {
			b.next.prev = prev
		}
		b = prev
	}

	// then swallow any free blocks that follow
	for b.next != nil && b.next.free {
		next := b.next
		b.data = b.data[:len(b.data)+len(next.data)]
		b.next = next.next
		if next.next != nil {
			next.next.prev = b
		}
	}
}
