// Command kudosim boots a simulated KUDOS kernel: it wires every core
// subsystem together in boot order, runs a short demo workload against
// a TFS-formatted memory disk, then drains and shuts down. There is no
// real hardware here — kudosim stands in for the machine simulator a
// real build would run under, existing only so the runtime components
// have something to run inside.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DIKU-EDU/kudos-sub000/internal/block"
	"github.com/DIKU-EDU/kudos-sub000/internal/bootargs"
	"github.com/DIKU-EDU/kudos-sub000/internal/device"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
	"github.com/DIKU-EDU/kudos-sub000/internal/kheap"
	"github.com/DIKU-EDU/kudos-sub000/internal/kprintf"
	"github.com/DIKU-EDU/kudos-sub000/internal/mm"
	"github.com/DIKU-EDU/kudos-sub000/internal/sched"
	"github.com/DIKU-EDU/kudos-sub000/internal/tfs"
	"github.com/DIKU-EDU/kudos-sub000/internal/vfs"
)

const (
	diskIRQMask uint32 = 1 << 0
	ttyIRQMask  uint32 = 1 << 1
)

func main() {
	argv := flag.String("args", "initprog=[disk]shell randomseed=42 testconsole", "boot-argument string")
	flag.Parse()

	if err := run(*argv); err != nil {
		log.Fatalf("kudosim: %v", err)
	}
}

// kernel collects the subsystems that outlive bootstrap, the hosted
// analogue of the handful of kernel-global pointers a freestanding build
// would keep.
type kernel struct {
	console *kprintf.Console
	tty     *device.UART
	devices *device.Registry
	irqs    *device.InterruptTable

	frames *mm.FrameAllocator
	ram    *mm.RAM

	threads *sched.ThreadTable
	sleepq  *sched.SleepQueue
	sched   *sched.Scheduler
	sems    *sched.SemaphoreTable

	gbd    *block.GBD
	volume *tfs.Volume
	vfs    *vfs.VFS

	shutdown *device.ShutdownDevice
}

// run performs the boot sequence against an in-memory TTY/disk, runs
// a short demo against the mounted volume, then drains and halts.
func run(argv string) error {
	args, err := bootargs.Parse(argv)
	if err != nil {
		return fmt.Errorf("parsing boot arguments: %w", err)
	}

	// bootstrap → static allocator
	stalloc := kheap.NewStalloc(make([]byte, 1<<16))
	_ = stalloc.Alloc(64) // early kernel-image bookkeeping

	// polling TTY (diagnostics only, never user I/O)
	backend := &bytes.Buffer{}
	k := &kernel{}
	k.tty = device.NewUART(backend)
	k.console = kprintf.NewConsole(os.Stdout)

	// interrupt init → thread table → sleep queue → semaphores
	k.irqs = device.NewInterruptTable(kconfig.MaxDevices, nil)
	k.threads = sched.NewThreadTable(kconfig.MaxThreads)
	k.sleepq = sched.NewSleepQueue(k.threads)

	seed := uint64(42)
	if v, ok := args.Get(bootargs.KeyRandomSeed); ok {
		fmt.Sscanf(v, "%d", &seed)
	}
	k.sched = sched.NewScheduler(k.threads, k.sleepq, 1, seed)
	k.sems = sched.NewSemaphoreTable(k.threads, k.sleepq, k.sched, kconfig.MaxSemaphores)

	// device init: registers drivers, which may register IRQ handlers
	k.devices = device.NewRegistry(kconfig.MaxDevices)
	if _, err := k.devices.Register(device.Device{Typecode: device.TTY, Generic: k.tty, Descriptor: "tty0"}); err != nil {
		return err
	}
	k.shutdown = &device.ShutdownDevice{}
	if _, err := k.devices.Register(device.Device{Typecode: device.SHUTDOWN, Generic: k.shutdown, Descriptor: "shutdown0"}); err != nil {
		return err
	}

	disk := block.NewMemDisk(kconfig.TFSMaxBlocks, kconfig.BlockSize)
	k.gbd = block.NewGBD(disk, k.sems)
	if _, err := k.devices.Register(device.Device{Typecode: device.DISK, Descriptor: "disk0"}); err != nil {
		return err
	}
	if err := k.irqs.Register(diskIRQMask, func(uint32) { k.gbd.Complete() }, nil); err != nil {
		return err
	}
	if err := k.irqs.Register(ttyIRQMask, func(uint32) { k.tty.DrainInterrupt() }, nil); err != nil {
		return err
	}

	// VM init: reserve the static image prefix, disable stalloc, build the
	// runtime heap over the remaining space.
	k.frames = mm.NewFrameAllocatorAuto(256)
	k.ram = mm.NewRAM(256)
	stalloc.Disable()
	heap := kheap.NewHeap(1 << 16)
	bootInfo, err := heap.Alloc(256) // stand-in for a kernel bookkeeping struct
	if err != nil {
		return fmt.Errorf("runtime heap alloc: %w", err)
	}

	// synthetic status devices over the live allocator/scheduler state
	if _, err := k.devices.Register(device.Device{
		Typecode:   device.MEMINFO,
		Descriptor: "meminfo0",
		Generic: &device.StatsDevice{Source: func() string {
			st := k.frames.Stats()
			return fmt.Sprintf("frames: %d free / %d allocated / %d reserved", st.Free, st.Allocated, st.Reserved)
		}},
	}); err != nil {
		return err
	}
	if _, err := k.devices.Register(device.Device{
		Typecode:   device.CPUSTATUS,
		Descriptor: "cpustatus0",
		Generic: &device.StatsDevice{Source: func() string {
			return fmt.Sprintf("cpu0: running thread %d, %d ready", k.sched.Current(0), k.sched.ReadyLen())
		}},
	}); err != nil {
		return err
	}

	k.vfs = vfs.New(kconfig.MaxFilesystems, kconfig.MaxOpenFiles)

	// create the first kernel thread, which owns the TFS mount sequence
	bootTid, err := k.threads.Create(func(any) {}, nil, nil, 0)
	if err != nil {
		return fmt.Errorf("creating boot thread: %w", err)
	}
	k.sched.Run(bootTid)

	// give the boot thread an address space: one mapped page, written
	// through the pagetable rather than the frame's bytes directly, so
	// Map/Memwrite/Translate all see real use before the thread exits.
	pt := mm.Create(mm.ASID(bootTid), k.ram, k.frames)
	frame, err := k.frames.AllocOne()
	if err != nil {
		return fmt.Errorf("allocating boot thread frame: %w", err)
	}
	if err := pt.Map(frame, 0, true); err != nil {
		return fmt.Errorf("mapping boot thread frame: %w", err)
	}
	pt.Memwrite(0, []byte("kudos"))
	defer pt.Destroy(true)

	// enable interrupts: supervise the simulated hardware interrupt
	// sources (timer, disk completion, TTY drain) as a goroutine group.
	// The disk pump must be live before the first block request goes out,
	// since every TFS operation below blocks on a completion interrupt.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pumpTimer(gctx, k) })
	g.Go(func() error { return pumpDisk(gctx, k) })
	g.Go(func() error { return pumpTTY(gctx, k) })

	if err := tfs.FormatVolume(k.gbd, k.sems, bootTid, 0, "disk"); err != nil {
		return fmt.Errorf("formatting volume: %w", err)
	}
	volume, name, err := tfs.Init(k.gbd, k.sems, bootTid, 0)
	if err != nil {
		return fmt.Errorf("mounting volume: %w", err)
	}
	k.volume = volume
	if err := k.vfs.Mount(k.volume, name); err != nil {
		return fmt.Errorf("vfs mount: %w", err)
	}

	copy(bootInfo.Bytes, name)
	_, _ = k.console.Printf("kudos: booted, volume %q mounted, %d frames free\n", name, k.frames.Stats().Free)
	for i, d := range k.devices.Devices() {
		_, _ = k.console.Printf("kudos: device %d: %s\n", i, d.Descriptor)
	}
	if prog, ok := args.Get(bootargs.KeyInitProg); ok {
		_, _ = k.console.Printf("kudos: init program %s\n", prog)
	}

	// a second kernel thread exercises the TTY write path; pumpTTY drains
	// it into the backend the way the UART interrupt would
	ttyTid, err := k.threads.Create(func(any) {
		_, _ = k.tty.Write([]byte("kudos: tty online\n"))
	}, nil, nil, 0)
	if err != nil {
		return fmt.Errorf("creating tty thread: %w", err)
	}
	k.sched.Launch(ttyTid)

	if err := demo(k, args); err != nil {
		return err
	}
	heap.Free(bootInfo)

	// shutdown: VFS drains, unmounts, writes the platform shutdown magic
	k.vfs.Deinit()
	halt := make(chan device.ShutdownMagic, 1)
	k.shutdown.Halt = func(m device.ShutdownMagic) { halt <- m }
	if _, err := k.shutdown.Write(encodeShutdownMagic(device.ShutdownNormal)); err != nil {
		return err
	}
	<-halt

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// demo exercises create/open/write/read/remove against the mounted volume
// and reports the result over the console, standing in for a userland
// shell program.
func demo(k *kernel, args *bootargs.Args) error {
	if err := k.vfs.Create("[disk]hello", 5); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	handle, err := k.vfs.Open("[disk]hello")
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := k.vfs.Write(handle, []byte("world"), 5); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	readBuf := make([]byte, 5)
	if err := k.vfs.Close(handle); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	h2, err := k.vfs.Open("[disk]hello")
	if err != nil {
		return fmt.Errorf("reopen: %w", err)
	}
	got, err := k.vfs.Read(h2, readBuf, 5)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	_, _ = k.console.Printf("kudos: read back %d bytes: %s\n", got, string(readBuf))

	if args.Has(bootargs.KeyTestConsole) {
		_, _ = k.console.Printf("kudos: console self-test ok\n")
	}

	if mem, err := k.devices.Get(device.MEMINFO, 0); err == nil {
		stats := make([]byte, 128)
		n, _ := mem.Generic.Read(stats)
		_, _ = k.console.Printf("kudos: %s\n", string(stats[:n]))
	}
	return k.vfs.Close(h2)
}

func pumpTimer(ctx context.Context, k *kernel) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		slice := k.sched.NextTimeslice()
		time.Sleep(time.Duration(slice) * time.Millisecond)
		k.sched.Tick(0)
	}
}

func pumpDisk(ctx context.Context, k *kernel) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-k.gbd.IRQ():
			k.irqs.Dispatch(diskIRQMask)
		}
	}
}

func pumpTTY(ctx context.Context, k *kernel) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.irqs.Dispatch(ttyIRQMask)
		}
	}
}

func encodeShutdownMagic(m device.ShutdownMagic) []byte {
	return []byte{byte(m), byte(m >> 8), byte(m >> 16), byte(m >> 24)}
}
