package sched

import (
	"math/rand/v2"

	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
	"github.com/DIKU-EDU/kudos-sub000/internal/lock"
)

// Scheduler is the round-robin core: one global ready queue threaded
// through Thread.next, plus a per-CPU "current thread" slot. The ready queue
// excludes the idle thread by invariant — idle only ever runs as the
// fallback when the queue is empty.
type Scheduler struct {
	tt *ThreadTable
	sq *SleepQueue

	guard *lock.Guarded // the thread table's guard, shared with the sleep queue

	readyHead, readyTail ThreadID

	current []ThreadID // per CPU; only the owning CPU writes its own slot

	timesliceBase int
	rng           *rand.Rand
}

// NewScheduler wires a scheduler over tt/sq with numCPUs cores, all starting
// out running the idle thread. seed drives the timeslice jitter RNG and
// comes from the "randomseed" boot argument.
func NewScheduler(tt *ThreadTable, sq *SleepQueue, numCPUs int, seed uint64) *Scheduler {
	if numCPUs <= 0 {
		numCPUs = 1
	}
	s := &Scheduler{
		tt:            tt,
		sq:            sq,
		guard:         tt.guard,
		readyHead:     none,
		readyTail:     none,
		current:       make([]ThreadID, numCPUs),
		timesliceBase: kconfig.DefaultTimesliceTicks,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for i := range s.current {
		s.current[i] = idleThreadID
	}
	return s
}

// Current returns the thread presently running on cpu. The owning CPU
// writes its own slot under the guard, so a cross-CPU read takes it too.
func (s *Scheduler) Current(cpu int) ThreadID {
	prior := s.guard.Enter()
	defer s.guard.Exit(prior)
	return s.current[cpu]
}

// Run transitions a NonReady (or Sleeping, for a re-armed thread) thread to
// Ready and enqueues it at the ready list's tail.
func (s *Scheduler) Run(id ThreadID) {
	prior := s.guard.Enter()
	defer s.guard.Exit(prior)
	s.enqueueReadyLocked(id)
}

func (s *Scheduler) enqueueReadyLocked(id ThreadID) {
	if id == idleThreadID {
		// the idle thread is permanently ready and never queued
		s.tt.Get(id).state = Ready
		return
	}
	th := s.tt.Get(id)
	if th.state == Ready && (th.next != none || s.readyTail == id) {
		return // already queued
	}
	th.state = Ready
	th.next = none
	if s.readyHead == none {
		s.readyHead = id
		s.readyTail = id
		return
	}
	s.tt.Get(s.readyTail).next = id
	s.readyTail = id
}

func (s *Scheduler) popReadyLocked() ThreadID {
	if s.readyHead == none {
		return idleThreadID
	}
	id := s.readyHead
	th := s.tt.Get(id)
	s.readyHead = th.next
	if s.readyHead == none {
		s.readyTail = none
	}
	th.next = none
	return id
}

// Tick runs one schedule decision for cpu and returns the thread chosen to
// run next (also recorded as Current(cpu)). It is the hosted analogue of
// both the timer interrupt and an explicit Yield call, which behave
// identically.
func (s *Scheduler) Tick(cpu int) ThreadID {
	prior := s.guard.Enter()
	defer s.guard.Exit(prior)

	cur := s.current[cpu]
	th := s.tt.Get(cur)

	switch {
	case th.state == Dying:
		th.state = Free
		th.pagetable = nil
	case th.sleepsOn != 0:
		th.state = Sleeping
	case th.state == Running && cur != idleThreadID:
		// a current thread in any other state was already re-armed by a
		// waker and sits in the ready queue; re-enqueueing would link it
		// into the list twice
		s.enqueueReadyLocked(cur)
	}

	next := s.popReadyLocked()
	for next != idleThreadID {
		nt := s.tt.Get(next)
		if nt.state != Dying {
			break
		}
		// died while queued; reclaim and keep looking
		nt.state = Free
		nt.pagetable = nil
		next = s.popReadyLocked()
	}
	if next != idleThreadID {
		s.tt.Get(next).state = Running // the idle thread stays permanently Ready
	}
	s.current[cpu] = next
	return next
}

// Yield is Tick's voluntary-call alias: a thread invoking it is asking to
// give up the CPU for this round, which the scheduler treats exactly like a
// timer tick.
func (s *Scheduler) Yield(cpu int) ThreadID {
	return s.Tick(cpu)
}

// Launch makes a NonReady thread Ready and starts the goroutine standing in
// for its execution: the entry function runs with its creation argument and,
// when it returns, the thread is marked Dying so the next tick reclaims the
// slot — returning from the thread body is suicide.
func (s *Scheduler) Launch(id ThreadID) {
	th := s.tt.Get(id)
	s.Run(id)
	go func() {
		th.entry(th.arg)
		s.Finish(id)
	}()
}

// Finish marks id Dying. The slot is not reclaimed until the next Tick sees
// it, so a thread never frees its own in-use state synchronously.
func (s *Scheduler) Finish(id ThreadID) {
	prior := s.guard.Enter()
	defer s.guard.Exit(prior)
	s.tt.finish(id)
}

// NextTimeslice returns a randomized tick count in [T/2, 3T/2], jittered to
// reduce scheduling resonance across CPUs.
func (s *Scheduler) NextTimeslice() int {
	lo := s.timesliceBase / 2
	return lo + s.rng.IntN(s.timesliceBase+1)
}

// ReadyLen reports how many threads are currently queued, for tests
// asserting on ready-queue shape without reaching into internals.
func (s *Scheduler) ReadyLen() int {
	prior := s.guard.Enter()
	defer s.guard.Exit(prior)
	n := 0
	for id := s.readyHead; id != none; id = s.tt.Get(id).next {
		n++
	}
	return n
}
