// Package sched implements the thread table, round-robin scheduler, sleep
// queue and counting semaphores. The thread table is a fixed-size array,
// slot 0 is the permanently-Ready idle thread, and the ready queue / sleep
// buckets are intrusive singly-linked lists threaded through Thread.next,
// with table indices standing in for pointers.
package sched

import (
	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
	"github.com/DIKU-EDU/kudos-sub000/internal/lock"
	"github.com/DIKU-EDU/kudos-sub000/internal/mm"
)

// State is a thread's lifecycle stage.
type State int

const (
	Free State = iota
	NonReady
	Ready
	Running
	Sleeping
	Dying
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case NonReady:
		return "NonReady"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Dying:
		return "Dying"
	default:
		return "Unknown"
	}
}

// ThreadID indexes the fixed thread table. Slot 0 is always the idle thread.
type ThreadID int

const idleThreadID ThreadID = 0

// EntryFn is what a created thread begins executing; finish runs when it
// returns, so falling off the end of the thread body is suicide.
type EntryFn func(arg any)

// Thread is one fixed slot of the thread table.
type Thread struct {
	id        ThreadID
	state     State
	entry     EntryFn
	arg       any
	pagetable *mm.PageTable // nullable: nil for kernel threads
	sleepsOn  Resource      // 0 if not sleeping on anything
	next      ThreadID      // intrusive list link; -1 if not linked
	pid       int
	flags     uint32
	parked    chan struct{} // signaled by a waker when a Sleeping thread should resume
}

func (t *Thread) ID() ThreadID             { return t.id }
func (t *Thread) State() State             { return t.state }
func (t *Thread) SleepsOn() Resource       { return t.sleepsOn }
func (t *Thread) PageTable() *mm.PageTable { return t.pagetable }
func (t *Thread) PID() int                 { return t.pid }

const none ThreadID = -1

// ThreadTable is the fixed-size thread slot array. One guard protects every
// slot's state and linkage; the Scheduler's ready queue and the SleepQueue's
// buckets both thread through Thread.next, so they share this single
// interlock rather than each bringing their own.
type ThreadTable struct {
	guard  *lock.Guarded
	slots  []Thread
	cursor int // rotating search start for Create
}

// NewThreadTable builds a table of the given capacity (a power of two
// <= 256; callers needing the default use kconfig.MaxThreads).
// Slot 0 is initialized as the idle thread: permanently Ready, never queued.
func NewThreadTable(capacity int) *ThreadTable {
	if capacity <= 0 {
		capacity = kconfig.MaxThreads
	}
	tt := &ThreadTable{
		guard: lock.NewGuarded(lock.NewIRQFlag(), &lock.Spinlock{}),
		slots: make([]Thread, capacity),
	}
	for i := range tt.slots {
		tt.slots[i] = Thread{id: ThreadID(i), state: Free, next: none, parked: make(chan struct{}, 1)}
	}
	tt.slots[idleThreadID].state = Ready
	tt.slots[idleThreadID].entry = func(any) {}
	return tt
}

// Capacity returns the fixed table size.
func (tt *ThreadTable) Capacity() int { return len(tt.slots) }

// Get returns the slot for id. Panics on an out-of-range id; a bad thread
// id is a programmer error, not a runtime condition.
func (tt *ThreadTable) Get(id ThreadID) *Thread {
	if int(id) < 0 || int(id) >= len(tt.slots) {
		panic("sched: thread id out of range")
	}
	return &tt.slots[id]
}

// Create finds a Free slot starting at the rotating cursor, initializes a
// fresh thread that will begin at entry(arg), and leaves it NonReady — the
// caller must still call Scheduler.Run to make it schedulable. Returns
// ErrExhausted if every slot (other than the idle slot, which is never
// reallocated) is in use.
func (tt *ThreadTable) Create(entry EntryFn, arg any, pt *mm.PageTable, pid int) (ThreadID, error) {
	prior := tt.guard.Enter()
	defer tt.guard.Exit(prior)

	n := len(tt.slots)
	for i := 0; i < n; i++ {
		idx := (tt.cursor + i) % n
		if idx == int(idleThreadID) {
			continue
		}
		s := &tt.slots[idx]
		if s.state == Free {
			tt.cursor = (idx + 1) % n
			s.state = NonReady
			s.entry = entry
			s.arg = arg
			s.pagetable = pt
			s.sleepsOn = 0
			s.next = none
			s.pid = pid
			s.flags = 0
			select {
			case <-s.parked:
			default:
			}
			return s.id, nil
		}
	}
	return none, errs.ErrExhausted
}

// finish transitions a thread to Dying. Actual slot reclamation to Free
// happens on the next schedule tick, never synchronously,
// so that a thread can never free its own still-in-use stack/state.
// Precondition: the table guard is held.
func (tt *ThreadTable) finish(id ThreadID) {
	tt.Get(id).state = Dying
}

// StateOf reads a slot's state under the table guard, for observers racing
// against the scheduler or a finishing thread.
func (tt *ThreadTable) StateOf(id ThreadID) State {
	prior := tt.guard.Enter()
	defer tt.guard.Exit(prior)
	return tt.Get(id).state
}

// setState updates one slot's state under the table guard, for callers
// (semaphore P) that otherwise hold only their own lock.
func (tt *ThreadTable) setState(id ThreadID, s State) {
	prior := tt.guard.Enter()
	tt.Get(id).state = s
	tt.guard.Exit(prior)
}
