package sched

import (
	"sync"
	"testing"
	"time"
)

func newTestMachine(capacity int) (*ThreadTable, *SleepQueue, *Scheduler) {
	tt := NewThreadTable(capacity)
	sq := NewSleepQueue(tt)
	sch := NewScheduler(tt, sq, 1, 42)
	return tt, sq, sch
}

func TestThreadTableCreateRunLifecycle(t *testing.T) {
	tt, _, sch := newTestMachine(4)

	id, err := tt.Create(func(any) {}, nil, nil, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tt.Get(id).State() != NonReady {
		t.Fatalf("expected NonReady after Create, got %v", tt.Get(id).State())
	}

	sch.Run(id)
	if tt.Get(id).State() != Ready {
		t.Fatalf("expected Ready after Run, got %v", tt.Get(id).State())
	}

	next := sch.Tick(0)
	if next != id {
		t.Fatalf("expected scheduler to pick %v, got %v", id, next)
	}
	if tt.Get(id).State() != Running {
		t.Fatalf("expected Running, got %v", tt.Get(id).State())
	}

	sch.Finish(id)
	idle := sch.Tick(0)
	if idle != idleThreadID {
		t.Fatalf("expected idle thread after finishing only runnable thread, got %v", idle)
	}
	if tt.Get(id).State() != Free {
		t.Fatalf("expected Free after the tick following Finish, got %v", tt.Get(id).State())
	}
}

func TestThreadTableExhausted(t *testing.T) {
	tt, _, _ := newTestMachine(2) // slot 0 is idle, so only 1 usable slot
	if _, err := tt.Create(func(any) {}, nil, nil, 1); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := tt.Create(func(any) {}, nil, nil, 1); err == nil {
		t.Fatal("expected ErrExhausted when the table has no free slots left")
	}
}

func TestSchedulerRoundRobinFIFO(t *testing.T) {
	tt, _, sch := newTestMachine(8)

	var ids []ThreadID
	for i := 0; i < 3; i++ {
		id, err := tt.Create(func(any) {}, nil, nil, i)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		sch.Run(id)
		ids = append(ids, id)
	}

	// first tick: nothing is "current" yet (idle), so it should pick ids[0]
	var order []ThreadID
	for i := 0; i < 3; i++ {
		order = append(order, sch.Tick(0))
	}
	for i, id := range ids {
		if order[i] != id {
			t.Fatalf("round robin order[%d] = %v, want %v", i, order[i], id)
		}
	}
}

func TestLaunchRunsEntryThenDies(t *testing.T) {
	tt, _, sch := newTestMachine(4)

	got := make(chan any, 1)
	id, err := tt.Create(func(arg any) { got <- arg }, "payload", nil, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sch.Launch(id)

	select {
	case arg := <-got:
		if arg != "payload" {
			t.Fatalf("entry arg: got %v, want payload", arg)
		}
	case <-time.After(time.Second):
		t.Fatal("entry function never ran")
	}

	deadline := time.Now().Add(time.Second)
	for tt.StateOf(id) != Dying {
		if time.Now().After(deadline) {
			t.Fatalf("expected Dying after entry returned, got %v", tt.StateOf(id))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSleepQueueFIFOWakeOrder(t *testing.T) {
	tt, sq, _ := newTestMachine(8)
	ids := []ThreadID{1, 2, 3}
	for _, id := range ids {
		sq.Add(id, Resource(99))
	}

	if got := sq.WaitersOn(Resource(99)); got != 3 {
		t.Fatalf("WaitersOn: got %d, want 3", got)
	}

	for _, want := range ids {
		got := sq.WakeOne(Resource(99))
		if got != want {
			t.Fatalf("WakeOne order: got %v, want %v", got, want)
		}
	}
	if got := sq.WakeOne(Resource(99)); got != none {
		t.Fatalf("expected no more waiters, got %v", got)
	}
	_ = tt
}

func TestSleepQueueSkipsNonMatchingBucketCollisions(t *testing.T) {
	tt, _, _ := newTestMachine(8)
	sq := NewSleepQueue(tt)
	size := sq.size

	// two distinct resources that collide in the same bucket
	r1 := Resource(5)
	r2 := Resource(uint64(size) + 5)

	sq.Add(1, r1)
	sq.Add(2, r2)
	sq.Add(3, r1)

	if got := sq.WakeOne(r2); got != 2 {
		t.Fatalf("WakeOne(r2): got %v, want 2", got)
	}
	if got := sq.WakeOne(r1); got != 1 {
		t.Fatalf("WakeOne(r1) first: got %v, want 1", got)
	}
	if got := sq.WakeOne(r1); got != 3 {
		t.Fatalf("WakeOne(r1) second: got %v, want 3", got)
	}
}

// TestSemaphoreOrderedWakeup: three threads P a
// semaphore with value 0 in order, a fourth V's it three times, and they
// must unblock in the order they blocked.
func TestSemaphoreOrderedWakeup(t *testing.T) {
	tt, sq, sch := newTestMachine(8)
	sems := NewSemaphoreTable(tt, sq, sch, 8)

	semID, err := sems.Create(0, idleThreadID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var tids []ThreadID
	for i := 0; i < 3; i++ {
		id, err := tt.Create(func(any) {}, nil, nil, i)
		if err != nil {
			t.Fatalf("Create thread: %v", err)
		}
		tids = append(tids, id)
	}

	waitFor := func(cond func() bool, what string) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s", what)
			}
			time.Sleep(time.Millisecond)
		}
	}

	// block the threads one at a time so the bucket order is exactly tids
	var mu sync.Mutex
	var order []ThreadID
	var wg sync.WaitGroup
	for i, id := range tids {
		wg.Add(1)
		go func(id ThreadID) {
			defer wg.Done()
			sems.P(semID, id)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(id)
		want := i + 1
		waitFor(func() bool { return sems.Waiters(semID) == want }, "thread to block on P")
	}

	for i := 0; i < 3; i++ {
		sems.V(semID)
		want := i + 1
		waitFor(func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == want
		}, "woken thread to resume")
	}
	wg.Wait()

	for i, id := range tids {
		if order[i] != id {
			t.Fatalf("wake order[%d] = %v, want %v", i, order[i], id)
		}
	}
}

func TestSemaphoreValueWaitersInvariant(t *testing.T) {
	tt, sq, sch := newTestMachine(8)
	sems := NewSemaphoreTable(tt, sq, sch, 8)
	id, _ := sems.Create(2, idleThreadID)

	sems.V(id)
	sems.V(id)
	if v := sems.Value(id); v != 4 {
		t.Fatalf("value: got %d want 4", v)
	}

	th, _ := tt.Create(func(any) {}, nil, nil, 1)
	for i := 0; i < 4; i++ {
		sems.P(id, th) // drains the positive value without blocking
	}
	if v := sems.Value(id); v != 0 {
		t.Fatalf("value after draining: got %d want 0", v)
	}
	if w := sems.Waiters(id); w != 0 {
		t.Fatalf("waiters: got %d want 0 (value never went negative)", w)
	}
}
