// Package lock implements the kernel's lowest synchronization layer:
// spinlocks and the interrupt-mask save/restore guard. The canonical lock
// sequence used everywhere in the core is: disable interrupts (saving prior
// state), acquire the spinlock, run the critical section, release the
// spinlock, restore interrupts. Reversing it deadlocks against a handler
// that tries to acquire the same lock on the same CPU.
//
// This is a hosted simulation: there is no real interrupt line to mask, so
// "interrupts" are modeled as a flag owned by whichever goroutine is playing
// the role of one CPU (see IRQFlag). Several goroutines may enter through
// the same Guarded, so both the flag and the spinlock below are atomics.
package lock

import "sync/atomic"

// Spinlock is a test-and-set word. Acquire busy-waits; the caller is
// expected to have already disabled interrupts on its own simulated CPU (see
// IRQFlag) before calling Acquire, so that holding the lock can't be
// preempted by a handler that would deadlock trying to re-acquire it.
type Spinlock struct {
	state atomic.Int32
}

// Acquire busy-waits until the lock is free, then takes it. No recursion:
// a goroutine that calls Acquire while already holding the lock spins
// forever, exactly like a bare test-and-set loop on real hardware.
func (s *Spinlock) Acquire() {
	for !s.state.CompareAndSwap(0, 1) {
		// busy-wait
	}
}

// TryAcquire attempts to take the lock without blocking.
func (s *Spinlock) TryAcquire() bool {
	return s.state.CompareAndSwap(0, 1)
}

// Release stores 0, freeing the lock for the next acquirer.
func (s *Spinlock) Release() {
	s.state.Store(0)
}

// Held reports whether the lock is currently taken. Intended for assertions
// and tests, not for synchronization decisions.
func (s *Spinlock) Held() bool {
	return s.state.Load() != 0
}

// IRQFlag models one simulated CPU's local interrupt-enable bit. On real
// hardware disabling interrupts is a single privileged instruction; here the
// flag is an atomic so that goroutines standing in for different CPUs can
// share a Guarded without racing on the flag before the spinlock is held.
type IRQFlag struct {
	enabled atomic.Bool
}

// NewIRQFlag returns an IRQFlag with interrupts initially enabled, as a
// freshly booted CPU would have once its handlers are installed.
func NewIRQFlag() *IRQFlag {
	f := &IRQFlag{}
	f.enabled.Store(true)
	return f
}

// Disable masks interrupts on this CPU and returns the prior state, to be
// handed back to Restore once the critical section is over.
func (f *IRQFlag) Disable() (prior bool) {
	return f.enabled.Swap(false)
}

// Restore reinstates the interrupt-enable state captured by a prior Disable.
func (f *IRQFlag) Restore(prior bool) {
	f.enabled.Store(prior)
}

// Enabled reports the current state.
func (f *IRQFlag) Enabled() bool {
	return f.enabled.Load()
}

// Guarded composes an IRQFlag with a Spinlock into the canonical lock
// sequence. Enter disables interrupts then takes the spinlock;
// Exit releases the spinlock then restores interrupts — always pair them
// with a defer so every exit path runs both steps.
type Guarded struct {
	IRQ *IRQFlag
	SL  *Spinlock
}

// NewGuarded wires an IRQFlag and Spinlock together. Both may be shared with
// other Guarded instances that protect the same resource from different
// entry points (e.g. a thread-side call and an interrupt handler).
func NewGuarded(irq *IRQFlag, sl *Spinlock) *Guarded {
	return &Guarded{IRQ: irq, SL: sl}
}

// Enter disables interrupts and acquires the spinlock, returning a token
// that Exit needs to restore the prior interrupt state correctly.
func (g *Guarded) Enter() (prior bool) {
	prior = g.IRQ.Disable()
	g.SL.Acquire()
	return prior
}

// Exit releases the spinlock and restores interrupts to the state Enter
// observed.
func (g *Guarded) Exit(prior bool) {
	g.SL.Release()
	g.IRQ.Restore(prior)
}
