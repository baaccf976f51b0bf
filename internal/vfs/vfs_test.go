package vfs

import (
	"errors"
	"testing"
	"time"

	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
)

// stubFS is a minimal in-memory Filesystem double so vfs can be tested
// without pulling in tfs/block/sched.
type stubFS struct {
	files map[string][]byte
	ids   map[int]string
	next  int
}

func newStubFS() *stubFS {
	return &stubFS{files: map[string][]byte{}, ids: map[int]string{}, next: 1}
}

func (s *stubFS) put(name string, data []byte) {
	s.files[name] = data
}

func (s *stubFS) Open(name string) (int, error) {
	if _, ok := s.files[name]; !ok {
		return 0, errs.NotFound.Err()
	}
	id := s.next
	s.next++
	s.ids[id] = name
	return id, nil
}

func (s *stubFS) Close(id int) error { delete(s.ids, id); return nil }

func (s *stubFS) Create(name string, size uint32) error {
	if _, ok := s.files[name]; ok {
		return errs.Error.Err()
	}
	s.files[name] = make([]byte, size)
	return nil
}

func (s *stubFS) Remove(name string) error {
	if _, ok := s.files[name]; !ok {
		return errs.NotFound.Err()
	}
	delete(s.files, name)
	return nil
}

func (s *stubFS) Getfree() (uint32, error) {
	used := uint32(0)
	for _, data := range s.files {
		used += uint32(len(data))
	}
	return 1<<20 - used, nil
}

func (s *stubFS) Read(id int, buf []byte, n uint32, off uint32) (uint32, error) {
	name := s.ids[id]
	data := s.files[name]
	if off > uint32(len(data)) {
		return 0, errs.InvalidParams.Err()
	}
	end := off + n
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	k := copy(buf, data[off:end])
	return uint32(k), nil
}

func (s *stubFS) Write(id int, buf []byte, n uint32, off uint32) (uint32, error) {
	name := s.ids[id]
	data := s.files[name]
	end := off + n
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	k := copy(data[off:end], buf)
	return uint32(k), nil
}

func (s *stubFS) Filecount(dirname string) (int, error) { return len(s.files), nil }

func (s *stubFS) File(dirname string, idx int) (string, error) {
	i := 0
	for name := range s.files {
		if i == idx {
			return name, nil
		}
		i++
	}
	return "", errs.NotFound.Err()
}

func TestMountUnmountLifecycle(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()

	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := v.Mount(fs, "disk"); !errors.Is(err, errs.Error.Err()) {
		t.Fatalf("expected duplicate mount error, got %v", err)
	}

	count, err := v.Filecount("")
	if err != nil || count != 1 {
		t.Fatalf("Filecount(null): count=%d err=%v", count, err)
	}

	if err := v.Unmount("disk"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if err := v.Unmount("disk"); !errors.Is(err, errs.NoSuchFs.Err()) {
		t.Fatalf("expected NoSuchFs, got %v", err)
	}
}

func TestOpenReadWriteSeekAdvance(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()
	fs.put("hello", []byte("HELLOWORLD"))
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}

	h, err := v.Open("[disk]hello")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]byte, 5)
	n, err := v.Read(h, buf, 5)
	if err != nil || n != 5 || string(buf) != "HELLO" {
		t.Fatalf("first Read: n=%d buf=%q err=%v", n, buf, err)
	}

	n, err = v.Read(h, buf, 5)
	if err != nil || n != 5 || string(buf) != "WORLD" {
		t.Fatalf("second Read (seek advanced): n=%d buf=%q err=%v", n, buf, err)
	}

	if err := v.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUnmountFailsWhileFileOpen(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()
	fs.put("f", []byte("x"))
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Open("[disk]f"); err != nil {
		t.Fatal(err)
	}
	if err := v.Unmount("disk"); !errors.Is(err, errs.InUse.Err()) {
		t.Fatalf("expected InUse, got %v", err)
	}
}

func TestDeinitMakesEveryCallUnusable(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}

	v.Deinit()

	if err := v.Mount(fs, "other"); !errors.Is(err, errs.Unusable.Err()) {
		t.Fatalf("expected Unusable after Deinit, got %v", err)
	}
	if _, err := v.Filecount(""); !errors.Is(err, errs.Unusable.Err()) {
		t.Fatalf("expected Unusable after Deinit, got %v", err)
	}
}

// TestOpenBracketlessPathFailsNoSuchFs: a path with no
// "[volume]" prefix parses to the empty mount name and fails lookup with
// NoSuchFs, rather than being rejected by parsePath itself.
func TestOpenBracketlessPathFailsNoSuchFs(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()
	fs.put("nofile", []byte("x"))
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Open("nofile"); !errors.Is(err, errs.NoSuchFs.Err()) {
		t.Fatalf("expected NoSuchFs for bracketless path, got %v", err)
	}
}

// TestOpenEmptyFilenameReturnsError is the other half of scenario S6:
// "[vol]" (an empty filename) is Error, not InvalidParams.
func TestOpenEmptyFilenameReturnsError(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Open("[disk]"); !errors.Is(err, errs.Error.Err()) {
		t.Fatalf("expected Error for empty filename, got %v", err)
	}
}

func TestCreateRemoveThroughPaths(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}

	if err := v.Create("[disk]new", 8); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := v.Open("[disk]new"); err != nil {
		t.Fatalf("Open after Create: %v", err)
	}
	if err := v.Create("[nope]x", 8); !errors.Is(err, errs.NoSuchFs.Err()) {
		t.Fatalf("expected NoSuchFs, got %v", err)
	}

	if err := v.Remove("[disk]new"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := v.Remove("[disk]new"); !errors.Is(err, errs.NotFound.Err()) {
		t.Fatalf("expected NotFound removing twice, got %v", err)
	}
}

func TestSeekRepositionsReads(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()
	fs.put("f", []byte("HELLOWORLD"))
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}
	h, err := v.Open("[disk]f")
	if err != nil {
		t.Fatal(err)
	}

	if err := v.Seek(h, 5); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := v.Read(h, buf, 5)
	if err != nil || n != 5 || string(buf) != "WORLD" {
		t.Fatalf("Read after Seek: n=%d buf=%q err=%v", n, buf, err)
	}

	if err := v.Seek(h, -1); !errors.Is(err, errs.InvalidParams.Err()) {
		t.Fatalf("expected InvalidParams for negative seek, got %v", err)
	}
	if err := v.Seek(99, 0); !errors.Is(err, errs.NotOpen.Err()) {
		t.Fatalf("expected NotOpen for bad handle, got %v", err)
	}
}

func TestGetfreeDelegates(t *testing.T) {
	v := New(4, 16)
	fs := newStubFS()
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}
	free, err := v.Getfree("disk")
	if err != nil || free == 0 {
		t.Fatalf("Getfree: free=%d err=%v", free, err)
	}
	if _, err := v.Getfree("nope"); !errors.Is(err, errs.NoSuchFs.Err()) {
		t.Fatalf("expected NoSuchFs, got %v", err)
	}
}

// blockingFS wraps stubFS so that Write parks until released, for driving
// the shutdown-drain barrier from a test.
type blockingFS struct {
	*stubFS
	entered chan struct{}
	release chan struct{}
}

func (b *blockingFS) Write(id int, buf []byte, n uint32, off uint32) (uint32, error) {
	close(b.entered)
	<-b.release
	return b.stubFS.Write(id, buf, n, off)
}

// TestDeinitWaitsForInFlightWrite: a Deinit issued while a write is still
// in flight must block until that write returns, and every call made after
// it completes must fail Unusable.
func TestDeinitWaitsForInFlightWrite(t *testing.T) {
	v := New(4, 16)
	fs := &blockingFS{
		stubFS:  newStubFS(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	fs.put("f", []byte("xxxx"))
	if err := v.Mount(fs, "disk"); err != nil {
		t.Fatal(err)
	}
	h, err := v.Open("[disk]f")
	if err != nil {
		t.Fatal(err)
	}

	writeDone := make(chan error, 1)
	go func() {
		_, err := v.Write(h, []byte("abcd"), 4)
		writeDone <- err
	}()
	<-fs.entered

	deinitDone := make(chan struct{})
	go func() {
		v.Deinit()
		close(deinitDone)
	}()

	select {
	case <-deinitDone:
		t.Fatal("Deinit returned while a write was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(fs.release)
	if err := <-writeDone; err != nil {
		t.Fatalf("in-flight write: %v", err)
	}
	select {
	case <-deinitDone:
	case <-time.After(time.Second):
		t.Fatal("Deinit did not return after the write drained")
	}

	if err := v.Mount(fs, "other"); !errors.Is(err, errs.Unusable.Err()) {
		t.Fatalf("expected Unusable after drain, got %v", err)
	}
}

func TestMountTableLimit(t *testing.T) {
	v := New(1, 16)
	if err := v.Mount(newStubFS(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := v.Mount(newStubFS(), "b"); !errors.Is(err, errs.Limit.Err()) {
		t.Fatalf("expected Limit, got %v", err)
	}
}
