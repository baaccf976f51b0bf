// Package block implements the Generic Block Device (GBD) and a FIFO,
// at-most-one-in-flight-request disk driver. Requests are serviced
// strictly in submission order; callers may submit synchronously (blocking
// until completion) or asynchronously (supplying their own semaphore).
package block

import (
	"github.com/DIKU-EDU/kudos-sub000/internal/lock"
	"github.com/DIKU-EDU/kudos-sub000/internal/sched"
)

// Op is the block-request operation.
type Op int

const (
	Read Op = iota
	Write
)

// Request is (block number, physical buffer, optional signalling semaphore,
// op, return code). Buf is read from for Write, written into for
// Read — on real hardware this would be a DMA physical address; here it's
// just a byte slice into the simulated RAM/arena the caller owns.
type Request struct {
	Block      int
	Buf        []byte
	Sem        sched.SemID // valid only when HasSem is set
	HasSem     bool
	Op         Op
	ReturnCode int

	next *Request // FIFO queue link
}

// Device is the hosted simulated disk: the thing that actually moves bytes,
// analogous to the IDE/virtio backend the real driver programs via MMIO.
// ReturnCode should be 0 for success; any nonzero value is a device error,
// which the driver escalates to panic: there is no recovery path for a
// failed disk command below the filesystem layer.
type Device interface {
	// Execute performs req's operation synchronously against the backing
	// store and returns a device status code (0 == success).
	Execute(req *Request) int
	BlockSize() int
	TotalBlocks() int
}

// GBD is the generic block device view: one Device plus the FIFO
// request queue and "currently served" slot that make at-most-one request
// in flight at a time.
type GBD struct {
	dev    Device
	sems   *sched.SemaphoreTable
	guard  *lock.Guarded
	qHead  *Request
	qTail  *Request
	served *Request

	// irqLine is signaled once the backing Device has finished servicing
	// the current request — the hosted stand-in for the disk controller's
	// hardware IRQ.
	irqLine chan struct{}
}

// NewGBD wires a GBD around dev, using sems for the private-semaphore path
// of synchronous submissions.
func NewGBD(dev Device, sems *sched.SemaphoreTable) *GBD {
	return &GBD{
		dev:     dev,
		sems:    sems,
		guard:   lock.NewGuarded(lock.NewIRQFlag(), &lock.Spinlock{}),
		irqLine: make(chan struct{}, 1),
	}
}

func (g *GBD) BlockSize() int   { return g.dev.BlockSize() }
func (g *GBD) TotalBlocks() int { return g.dev.TotalBlocks() }

// Submit is the shared read/write implementation.
//  1. If req has no caller semaphore, allocate a private one at 0.
//  2. Enqueue at the tail (FIFO); if the device is idle, start it.
//  3. If the caller supplied no semaphore, P on the private one (blocking
//     the calling thread tid), then destroy it and report success iff
//     ReturnCode == 0. Otherwise return immediately (asynchronous).
func (g *GBD) Submit(req *Request, tid sched.ThreadID) (bool, error) {
	private := !req.HasSem
	if private {
		sem, err := g.sems.Create(0, tid)
		if err != nil {
			return false, err
		}
		req.Sem = sem
		req.HasSem = true
	}
	req.next = nil

	prior := g.guard.Enter()
	g.enqueueLocked(req)
	if g.served == nil {
		g.nextRequestLocked()
	}
	g.guard.Exit(prior)

	if !private {
		return true, nil // asynchronous: caller's own semaphore will signal
	}

	g.sems.P(req.Sem, tid)
	g.sems.Destroy(req.Sem)
	return req.ReturnCode == 0, nil
}

func (g *GBD) enqueueLocked(req *Request) {
	if g.qHead == nil {
		g.qHead = req
		g.qTail = req
		return
	}
	g.qTail.next = req
	g.qTail = req
}

// nextRequestLocked dequeues the head into "currently served" and issues
// the device command. Precondition: guard held, device idle.
func (g *GBD) nextRequestLocked() {
	if g.qHead == nil {
		return
	}
	req := g.qHead
	g.qHead = req.next
	if g.qHead == nil {
		g.qTail = nil
	}
	req.next = nil
	g.served = req

	go func() {
		status := g.dev.Execute(req)
		if status != 0 {
			panic("block: device reported an error status")
		}
		select {
		case g.irqLine <- struct{}{}:
		default:
		}
	}()
}

// IRQ exposes the controller's interrupt line: one value arrives per
// completed device command. Simulator loops that must also watch for
// shutdown select on it and call Complete for each arrival.
func (g *GBD) IRQ() <-chan struct{} {
	return g.irqLine
}

// Interrupt waits for the controller's next completion interrupt and
// handles it. Tests and simple drivers call this in a loop; it blocks until
// Device.Execute actually finishes the in-flight request.
func (g *GBD) Interrupt() {
	<-g.irqLine
	g.Complete()
}

// Complete is the completion handler proper: it acquires the device lock,
// asserts a request is being served, records its return code, signals its
// semaphore, and starts the next queued request. Precondition: the device
// has raised its IRQ line for the in-flight request.
func (g *GBD) Complete() {
	prior := g.guard.Enter()
	if g.served == nil {
		g.guard.Exit(prior)
		panic("block: interrupt with no request in flight")
	}
	done := g.served
	done.ReturnCode = 0
	g.served = nil
	g.nextRequestLocked()
	g.guard.Exit(prior)

	g.sems.V(done.Sem)
}
