package mm

import (
	"errors"
	"testing"

	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
)

func TestFrameAllocatorBasics(t *testing.T) {
	fa := NewFrameAllocator(8, 2)

	st := fa.Stats()
	if st.Reserved != 2 || st.Free != 6 || st.Allocated != 0 || st.Total != 8 {
		t.Fatalf("unexpected initial stats: %+v", st)
	}

	f1, err := fa.AllocOne()
	if err != nil || f1 != 2 {
		t.Fatalf("AllocOne: got (%d, %v), want (2, nil)", f1, err)
	}

	start, err := fa.AllocN(3)
	if err != nil || start != 3 {
		t.Fatalf("AllocN(3): got (%d, %v), want (3, nil)", start, err)
	}

	fa.Free(f1)
	st = fa.Stats()
	if st.Free+st.Allocated+st.Reserved != st.Total {
		t.Fatalf("partition invariant violated: %+v", st)
	}
}

func TestFrameAllocatorOutOfMemory(t *testing.T) {
	fa := NewFrameAllocator(2, 0)
	if _, err := fa.AllocOne(); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := fa.AllocOne(); err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	if _, err := fa.AllocOne(); !errors.Is(err, errs.ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestFrameAllocatorFreeStaticPanics(t *testing.T) {
	fa := NewFrameAllocator(4, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic freeing a statically reserved frame")
		}
	}()
	fa.Free(0)
}

func TestFrameAllocatorDoubleFreePanics(t *testing.T) {
	fa := NewFrameAllocator(4, 0)
	f, _ := fa.AllocOne()
	fa.Free(f)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	fa.Free(f)
}

func TestPageTableMapUnmapTranslate(t *testing.T) {
	ram := NewRAM(4)
	fa := NewFrameAllocator(4, 0)
	pt := Create(1, ram, fa)

	frame, err := fa.AllocOne()
	if err != nil {
		t.Fatalf("AllocOne: %v", err)
	}
	if err := pt.Map(frame, 0x10, true); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, ok := pt.Translate(0x10)
	if !ok || got != frame {
		t.Fatalf("Translate: got (%d, %v), want (%d, true)", got, ok, frame)
	}

	if err := pt.Map(frame, 0x10, true); !errors.Is(err, errs.ErrAlreadyMapped) {
		t.Fatalf("expected ErrAlreadyMapped, got %v", err)
	}

	pt.Unmap(0x10)
	if _, ok := pt.Translate(0x10); ok {
		t.Fatal("expected unmap to clear the translation")
	}
}

func TestPageTableSetDirtyRequiresMapping(t *testing.T) {
	pt := Create(1, NewRAM(1), NewFrameAllocator(1, 0))
	if err := pt.SetDirty(0, true); !errors.Is(err, errs.ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped, got %v", err)
	}
}

func TestMemwriteAcrossPageBoundary(t *testing.T) {
	ram := NewRAM(4)
	fa := NewFrameAllocator(4, 0)
	pt := Create(1, ram, fa)

	f0, _ := fa.AllocOne()
	f1, _ := fa.AllocOne()
	if err := pt.Map(f0, 0, true); err != nil {
		t.Fatal(err)
	}
	if err := pt.Map(f1, 1, true); err != nil {
		t.Fatal(err)
	}

	data := make([]byte, 4096+16)
	for i := range data {
		data[i] = byte(i)
	}
	// write starting 4080 bytes into page 0, spilling 16 bytes into page 1
	pt.Memwrite(4080, data[:32])

	got0 := ram.FrameBytes(f0)[4080:4096]
	got1 := ram.FrameBytes(f1)[0:16]
	for i := 0; i < 16; i++ {
		if got0[i] != data[i] {
			t.Fatalf("page0 byte %d: got %d want %d", i, got0[i], data[i])
		}
	}
	for i := 0; i < 16; i++ {
		if got1[i] != data[16+i] {
			t.Fatalf("page1 byte %d: got %d want %d", i, got1[i], data[16+i])
		}
	}
}

func TestMemwriteUnmappedPagePanics(t *testing.T) {
	pt := Create(1, NewRAM(1), NewFrameAllocator(1, 0))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic writing through an unmapped page")
		}
	}()
	pt.Memwrite(0, []byte{1, 2, 3})
}

// TestPageTableMapEnforcesEntryCapacity: Map fails once the table
// already holds kconfig.MaxPageTableEntries mappings.
func TestPageTableMapEnforcesEntryCapacity(t *testing.T) {
	pt := Create(1, NewRAM(1), NewFrameAllocator(1, 0))
	for i := 0; i < kconfig.MaxPageTableEntries; i++ {
		if err := pt.Map(0, VPage(i), false); err != nil {
			t.Fatalf("Map(%d): unexpected error %v", i, err)
		}
	}
	if err := pt.Map(0, VPage(kconfig.MaxPageTableEntries), false); !errors.Is(err, errs.ErrLimit) {
		t.Fatalf("expected ErrLimit once capacity is exhausted, got %v", err)
	}
}

func TestPageTableDestroyFreesOwnedFrames(t *testing.T) {
	fa := NewFrameAllocator(2, 0)
	pt := Create(1, NewRAM(2), fa)
	f, _ := fa.AllocOne()
	if err := pt.Map(f, 0, true); err != nil {
		t.Fatal(err)
	}
	pt.Destroy(true)

	st := fa.Stats()
	if st.Allocated != 0 {
		t.Fatalf("expected Destroy to free owned frames, stats: %+v", st)
	}
}
