package mm

import (
	"sync"

	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
)

// VPage is a virtual page number (a virtual address divided by FrameSize).
type VPage uint64

// ASID is the address-space identifier a pagetable is tagged with, used to
// key TLB entries on software-managed architectures (GLOSSARY).
type ASID uint32

type pte struct {
	frame    int
	writable bool
	valid    bool
}

// PageTable is a per-address-space mapping from virtual page to (physical
// frame, writable?, valid?). On real hardware this is either a flat table
// of TLB-fill entries or a multi-level walked tree; both boil down to the
// same map-of-entries abstraction from the kernel's point of view, which is
// what's modeled here.
type PageTable struct {
	mu      sync.Mutex
	asid    ASID
	ram     *RAM
	frames  *FrameAllocator
	entries map[VPage]pte
}

// Create allocates a fresh pagetable bound to asid, backed by ram/frames for
// any pages it maps. It starts with zero entries.
func Create(asid ASID, ram *RAM, frames *FrameAllocator) *PageTable {
	return &PageTable{
		asid:    asid,
		ram:     ram,
		frames:  frames,
		entries: make(map[VPage]pte),
	}
}

// ASID returns the pagetable's address-space identifier.
func (pt *PageTable) ASID() ASID { return pt.asid }

// Map inserts virt -> phys. Re-mapping an already-mapped virtual page is a
// hard error, since the caller almost certainly meant to Unmap first. Fails
// with ErrLimit once the table already holds kconfig.MaxPageTableEntries
// mappings.
func (pt *PageTable) Map(phys int, virt VPage, writable bool) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, ok := pt.entries[virt]; ok {
		return errs.ErrAlreadyMapped
	}
	if len(pt.entries) >= kconfig.MaxPageTableEntries {
		return errs.ErrLimit
	}
	pt.entries[virt] = pte{frame: phys, writable: writable, valid: true}
	return nil
}

// Unmap removes the mapping for virt, if any. Unmapping an unmapped page is
// a harmless no-op, unlike Map's strict re-mapping check.
func (pt *PageTable) Unmap(virt VPage) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.entries, virt)
}

// Translate resolves virt to a physical frame, or (-1, false) if unmapped.
func (pt *PageTable) Translate(virt VPage) (frame int, ok bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[virt]
	if !ok || !e.valid {
		return -1, false
	}
	return e.frame, true
}

// SetDirty toggles the write permission of an already-mapped page. Fails if
// the page isn't mapped.
func (pt *PageTable) SetDirty(virt VPage, writable bool) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[virt]
	if !ok {
		return errs.ErrNotMapped
	}
	e.writable = writable
	pt.entries[virt] = e
	return nil
}

// Writable reports whether virt is mapped writable.
func (pt *PageTable) Writable(virt VPage) (writable, ok bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, present := pt.entries[virt]
	return e.writable, present
}

// EntryCount reports how many virtual pages are currently mapped, mostly for
// tests asserting on pagetable capacity.
func (pt *PageTable) EntryCount() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.entries)
}

// Destroy unmaps every entry and frees the frames this pagetable owned;
// a mapped frame belongs to its pagetable until unmap or destroy. freeOwned
// lets callers that share frames across multiple pagetables opt out; every
// caller in this repository, tests included, passes true.
func (pt *PageTable) Destroy(freeOwned bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if freeOwned && pt.frames != nil {
		for _, e := range pt.entries {
			pt.frames.Free(e.frame)
		}
	}
	pt.entries = nil
}

// Memwrite copies nbytes from a kernel-owned source buffer into this
// pagetable's address space starting at targetVirt, resolving each
// intersecting page and copying up to the page boundary. Every page touched
// must already be mapped; Memwrite panics rather than returning an error,
// since an unmapped target page is a caller bug, not a runtime condition.
func (pt *PageTable) Memwrite(targetVirt uint64, source []byte) {
	remaining := source
	addr := targetVirt
	for len(remaining) > 0 {
		vpage := VPage(addr / kconfig.FrameSize)
		offset := int(addr % kconfig.FrameSize)

		frame, ok := pt.Translate(vpage)
		if !ok {
			panic("mm: memwrite target page not mapped")
		}

		chunk := kconfig.FrameSize - offset
		if chunk > len(remaining) {
			chunk = len(remaining)
		}

		dst := pt.ram.FrameBytes(frame)
		copy(dst[offset:offset+chunk], remaining[:chunk])

		remaining = remaining[chunk:]
		addr += uint64(chunk)
	}
}
