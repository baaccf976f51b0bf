package sched

import (
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
	"github.com/DIKU-EDU/kudos-sub000/internal/lock"
)

// Resource is the opaque key sleeping threads block on. On real hardware it
// would be an address; here it's whatever nonzero value the caller derives
// from the resource it represents (a semaphore's table slot, say).
type Resource uint64

// SleepQueue is a hash table of kconfig.SleepQueueSize buckets (prime, so
// resource keys spread), each an intrusive singly-linked list threaded
// through Thread.next. Every Sleeping thread's resource is in exactly one
// bucket; every bucket entry is in state Sleeping after being added and
// before being woken.
// Distinct resources may still collide on one bucket, and the bucket lists
// share Thread.next with the ready queue, so operations run under the thread
// table's guard rather than under whatever lock protects each individual
// resource.
type SleepQueue struct {
	guard   *lock.Guarded
	tt      *ThreadTable
	buckets []ThreadID // head of each bucket's list, or none
	size    int
}

// NewSleepQueue builds a queue of kconfig.SleepQueueSize buckets over tt.
func NewSleepQueue(tt *ThreadTable) *SleepQueue {
	size := kconfig.SleepQueueSize
	sq := &SleepQueue{
		guard:   tt.guard,
		tt:      tt,
		size:    size,
		buckets: make([]ThreadID, size),
	}
	for i := range sq.buckets {
		sq.buckets[i] = none
	}
	return sq
}

func (sq *SleepQueue) bucketIndex(r Resource) int {
	return int(uint64(r) % uint64(sq.size))
}

// Add appends the current thread to the bucket for resource and sets its
// sleepsOn field, but does NOT block — the caller must release any
// resource-guarding lock and then invoke the scheduler's Yield. The
// scheduler transitions the thread to Sleeping on the next tick once it
// observes sleepsOn != 0.
func (sq *SleepQueue) Add(id ThreadID, resource Resource) {
	if resource == 0 {
		panic("sched: cannot sleep on the zero resource")
	}
	prior := sq.guard.Enter()
	defer sq.guard.Exit(prior)

	th := sq.tt.Get(id)
	th.sleepsOn = resource
	th.next = none

	idx := sq.bucketIndex(resource)
	if sq.buckets[idx] == none {
		sq.buckets[idx] = id
		return
	}
	// append to the tail of the bucket's list, preserving FIFO order
	cur := sq.tt.Get(sq.buckets[idx])
	for cur.next != none {
		cur = sq.tt.Get(cur.next)
	}
	cur.next = id
}

// WakeOne removes the first thread in resource's bucket whose resource
// matches (chain collisions for other resources hashing to the same bucket
// are skipped, not unlinked in bulk) and clears its sleepsOn. The thread's
// state is left unchanged and it is not put on the ready queue;
// SemaphoreTable.V does that through Scheduler.Run. Returns none if no
// matching waiter was found.
func (sq *SleepQueue) WakeOne(resource Resource) ThreadID {
	prior := sq.guard.Enter()
	defer sq.guard.Exit(prior)
	idx := sq.bucketIndex(resource)
	return sq.unlinkFirstMatch(idx, resource)
}

// WakeAll does the same as WakeOne but repeats until no matching waiter
// remains, returning every thread it woke.
func (sq *SleepQueue) WakeAll(resource Resource) []ThreadID {
	prior := sq.guard.Enter()
	defer sq.guard.Exit(prior)
	idx := sq.bucketIndex(resource)
	var woken []ThreadID
	for {
		id := sq.unlinkFirstMatch(idx, resource)
		if id == none {
			return woken
		}
		woken = append(woken, id)
	}
}

// unlinkFirstMatch walks bucket idx, removes the first node whose resource
// equals want, and clears its sleep bookkeeping. Non-matching nodes found
// along the way are left exactly where they were.
func (sq *SleepQueue) unlinkFirstMatch(idx int, want Resource) ThreadID {
	var prev ThreadID = none
	cur := sq.buckets[idx]
	for cur != none {
		th := sq.tt.Get(cur)
		if th.sleepsOn == want {
			next := th.next
			if prev == none {
				sq.buckets[idx] = next
			} else {
				sq.tt.Get(prev).next = next
			}
			th.next = none
			th.sleepsOn = 0
			return cur
		}
		prev = cur
		cur = th.next
	}
	return none
}

// WaitersOn counts the threads currently queued on resource, used by the
// semaphore accounting checks in tests.
func (sq *SleepQueue) WaitersOn(resource Resource) int {
	prior := sq.guard.Enter()
	defer sq.guard.Exit(prior)
	idx := sq.bucketIndex(resource)
	n := 0
	cur := sq.buckets[idx]
	for cur != none {
		th := sq.tt.Get(cur)
		if th.sleepsOn == resource {
			n++
		}
		cur = th.next
	}
	return n
}
