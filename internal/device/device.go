// Package device implements the device registry and interrupt dispatch:
// a fixed-capacity table of typecoded devices, and a fixed-size
// (irq_mask, handler, device) table that dispatch walks in insertion order.
package device

import (
	"sync"

	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
)

// Typecode names a device category.
type Typecode int

const (
	TTY Typecode = iota
	DISK
	NIC
	RTC
	MEMINFO
	CPUSTATUS
	SHUTDOWN
)

// CharDevice is the generic character device interface: Write/Read
// may both block (a TTY's circular buffers do; a pseudo-device's may not).
type CharDevice interface {
	Write(buf []byte) (int, error)
	Read(buf []byte) (int, error)
}

// Device is one entry of the fixed device table: a driver-private
// handle, a generic capability view, and the identifying metadata.
type Device struct {
	RealDevice any // driver-private state, keyed by Typecode at the call site
	Generic    CharDevice
	Descriptor string
	IOAddress  uintptr
	Typecode   Typecode
}

// Registry is the fixed device table of capacity MAX_DEVICES.
type Registry struct {
	mu      sync.Mutex
	devices []Device
	cap     int
}

// NewRegistry builds a registry with the given capacity (kconfig.MaxDevices
// if <= 0).
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = kconfig.MaxDevices
	}
	return &Registry{cap: capacity}
}

// Register appends dev to the table. Fails with ErrLimit once the table is
// full — the bus-enumeration loop that drives this in a real kernel would
// stop probing further descriptors at that point.
func (r *Registry) Register(dev Device) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.devices) >= r.cap {
		return -1, errs.ErrLimit
	}
	r.devices = append(r.devices, dev)
	return len(r.devices) - 1, nil
}

// Get returns the n-th device (0-indexed) of the given typecode, or
// ErrNotFound if there is no such instance.
func (r *Registry) Get(tc Typecode, n int) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for i := range r.devices {
		if r.devices[i].Typecode == tc {
			if count == n {
				return &r.devices[i], nil
			}
			count++
		}
	}
	return nil, errs.ErrNotFound
}

// Devices returns a read-only snapshot of the table, used by the
// MEMINFO/CPUSTATUS pseudo-devices and by tests.
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}
