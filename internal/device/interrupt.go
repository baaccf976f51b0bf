package device

import (
	"sync"

	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
)

// Handler is invoked by Dispatch when its registered mask intersects the
// interrupt cause.
type Handler func(cause uint32)

type handlerEntry struct {
	mask    uint32
	handler Handler
	dev     *Device
}

// InterruptTable is the fixed-size (irq_mask, handler, device) table,
// filled by drivers before interrupts are enabled. Dispatch walks it
// in insertion order, invoking every handler whose mask intersects cause.
type InterruptTable struct {
	mu        sync.Mutex
	entries   []handlerEntry
	cap       int
	onUnknown func(cause uint32)
}

// NewInterruptTable builds a table with the given capacity. onUnknown is
// called (instead of panicking the whole process) when Dispatch sees a
// cause no handler claims. The default is a fatal panic; tests supply a
// stub so they can assert on it without crashing the test binary.
func NewInterruptTable(capacity int, onUnknown func(cause uint32)) *InterruptTable {
	if onUnknown == nil {
		onUnknown = func(uint32) { panic("device: unknown interrupt cause") }
	}
	return &InterruptTable{cap: capacity, onUnknown: onUnknown}
}

// Register adds a handler for mask, tied to dev for bookkeeping. Fails with
// ErrLimit once the table is full.
func (it *InterruptTable) Register(mask uint32, h Handler, dev *Device) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.cap > 0 && len(it.entries) >= it.cap {
		return errs.ErrLimit
	}
	it.entries = append(it.entries, handlerEntry{mask: mask, handler: h, dev: dev})
	return nil
}

// Dispatch invokes every handler whose mask intersects cause, in
// registration order. If no handler claims the cause, onUnknown runs.
func (it *InterruptTable) Dispatch(cause uint32) {
	it.mu.Lock()
	entries := make([]handlerEntry, len(it.entries))
	copy(entries, it.entries)
	it.mu.Unlock()

	claimed := false
	for _, e := range entries {
		if e.mask&cause != 0 {
			claimed = true
			e.handler(cause)
		}
	}
	if !claimed {
		it.onUnknown(cause)
	}
}
