package sched

import (
	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
	"github.com/DIKU-EDU/kudos-sub000/internal/lock"
)

// SemID indexes the fixed semaphore table.
type SemID int

const noSem SemID = -1

// semaphore is (value, wait spinlock, creator). Its resource key for
// the sleep queue is derived from its own table slot, so distinct
// semaphores never collide on the same bucket key even though the bucket
// hash table itself may still collide (handled by SleepQueue's match check).
type semaphore struct {
	value    int
	creator  ThreadID
	hasOwner bool
	guard    *lock.Guarded
}

func (s *semaphore) resourceKey(id SemID) Resource {
	return Resource(id) + 1 // keep 0 reserved for "not sleeping"
}

// SemaphoreTable is the bounded semaphore table: MaxSemaphores slots,
// unused ones with no creator. It is built on top of the same ThreadTable
// and SleepQueue the Scheduler uses, since P/V block and wake real threads.
type SemaphoreTable struct {
	tt   *ThreadTable
	sq   *SleepQueue
	sch  *Scheduler
	sems []semaphore
}

// NewSemaphoreTable builds a table of the given capacity over tt/sq/sch.
func NewSemaphoreTable(tt *ThreadTable, sq *SleepQueue, sch *Scheduler, capacity int) *SemaphoreTable {
	if capacity <= 0 {
		capacity = kconfig.MaxSemaphores
	}
	st := &SemaphoreTable{tt: tt, sq: sq, sch: sch, sems: make([]semaphore, capacity)}
	for i := range st.sems {
		st.sems[i] = semaphore{guard: lock.NewGuarded(lock.NewIRQFlag(), &lock.Spinlock{})}
	}
	return st
}

// Create allocates a semaphore initialized to initial, owned by creator.
// Fails with ErrExhausted if the table is full.
func (st *SemaphoreTable) Create(initial int, creator ThreadID) (SemID, error) {
	for i := range st.sems {
		if !st.sems[i].hasOwner {
			st.sems[i].hasOwner = true
			st.sems[i].value = initial
			st.sems[i].creator = creator
			return SemID(i), nil
		}
	}
	return noSem, errs.ErrExhausted
}

// Destroy frees a semaphore slot for reuse. Callers must ensure no thread
// is waiting on it first; the disk driver's private-semaphore lifecycle is
// the only place the kernel destroys semaphores dynamically.
func (st *SemaphoreTable) Destroy(id SemID) {
	st.sems[id] = semaphore{guard: st.sems[id].guard}
}

func (st *SemaphoreTable) get(id SemID) *semaphore {
	return &st.sems[id]
}

// Value returns the semaphore's raw counter; tests check the accounting
// invariant value + waiters == initial + signals - waits against it.
func (st *SemaphoreTable) Value(id SemID) int {
	return st.get(id).value
}

// Waiters returns how many threads are currently blocked on id.
func (st *SemaphoreTable) Waiters(id SemID) int {
	sem := st.get(id)
	return st.sq.WaitersOn(sem.resourceKey(id))
}

// P decrements the semaphore; if the result is negative, the calling thread
// (tid) enqueues on the semaphore and blocks until a matching V wakes it.
// P is the only operation in this package that may suspend its caller.
func (st *SemaphoreTable) P(id SemID, tid ThreadID) {
	sem := st.get(id)
	th := st.tt.Get(tid)

	prior := sem.guard.Enter()
	sem.value--
	mustWait := sem.value < 0
	if mustWait {
		st.sq.Add(tid, sem.resourceKey(id))
		st.tt.setState(tid, Sleeping)
	}
	sem.guard.Exit(prior)

	if mustWait {
		<-th.parked
	}
}

// V increments the semaphore; if the result is <= 0, it wakes the oldest
// waiter (FIFO per bucket). V never blocks and is safe to call from
// interrupt-handler-equivalent code.
func (st *SemaphoreTable) V(id SemID) {
	sem := st.get(id)

	prior := sem.guard.Enter()
	sem.value++
	shouldWake := sem.value <= 0
	var woken ThreadID = none
	if shouldWake {
		woken = st.sq.WakeOne(sem.resourceKey(id))
	}
	sem.guard.Exit(prior)

	if woken != none {
		st.sch.Run(woken) // returns the thread to Ready and the round-robin queue
		// non-blocking: the parked channel is buffered size 1
		select {
		case st.tt.Get(woken).parked <- struct{}{}:
		default:
		}
	}
}
