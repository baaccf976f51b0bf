// Package vfs implements the virtual filesystem layer: a mount table, an
// open-file table, a path-parsing convention ("[volume]filename"), and an
// op-counting drain barrier so shutdown can wait for outstanding operations
// before unmounting.
package vfs

import (
	"strings"
	"sync"

	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
)

// Filesystem is the capability surface any mountable filesystem (tfs.Volume
// today) must provide.
type Filesystem interface {
	Open(name string) (int, error)
	Close(id int) error
	Create(name string, size uint32) error
	Remove(name string) error
	Read(id int, buf []byte, n uint32, off uint32) (uint32, error)
	Write(id int, buf []byte, n uint32, off uint32) (uint32, error)
	Getfree() (uint32, error)
	Filecount(dirname string) (int, error)
	File(dirname string, idx int) (string, error)
}

type mountEntry struct {
	fs   Filesystem
	name string
}

type openFile struct {
	inUse bool
	fs    Filesystem
	mount string
	fsid  int
	seek  uint32
}

// VFS is the global filesystem-switch state: a usability
// flag, an in-flight operation counter, and the two fixed tables.
type VFS struct {
	mu sync.Mutex

	usable   bool
	draining bool
	opCount  int
	drainCh  chan struct{}

	mounts []mountEntry
	opens  []openFile
}

// New builds an empty, usable VFS with the given table capacities (0 means
// "use the kconfig default").
func New(maxMounts, maxOpen int) *VFS {
	if maxMounts <= 0 {
		maxMounts = kconfig.MaxFilesystems
	}
	if maxOpen <= 0 {
		maxOpen = kconfig.MaxOpenFiles
	}
	return &VFS{
		usable:  true,
		mounts:  make([]mountEntry, 0, maxMounts),
		opens:   make([]openFile, maxOpen),
		drainCh: make(chan struct{}, 1),
	}
}

// startOp brackets a public VFS call: fails Unusable while shutting down,
// otherwise increments the in-flight op count.
func (v *VFS) startOp() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.usable {
		return errs.Unusable.Err()
	}
	v.opCount++
	return nil
}

// endOp decrements the in-flight op count; if a drain is waiting and the
// count has reached zero, it signals the drain channel.
func (v *VFS) endOp() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opCount--
	if v.draining && v.opCount == 0 {
		select {
		case v.drainCh <- struct{}{}:
		default:
		}
	}
}

// Deinit atomically marks the VFS unusable, waits for any in-flight
// operations to drain, then force-unmounts every volume. After Deinit every
// VFS call returns Unusable.
func (v *VFS) Deinit() {
	v.mu.Lock()
	v.usable = false
	needDrain := v.opCount > 0
	v.draining = needDrain
	v.mu.Unlock()

	if needDrain {
		<-v.drainCh
	}

	v.mu.Lock()
	v.mounts = v.mounts[:0]
	v.mu.Unlock()
}

// Mount attaches fs under mountpoint name. Fails Limit if the mount table
// is full, Error on a duplicate mountpoint name.
func (v *VFS) Mount(fs Filesystem, name string) error {
	if err := v.startOp(); err != nil {
		return err
	}
	defer v.endOp()

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range v.mounts {
		if m.name == name {
			return errs.Error.Err()
		}
	}
	if len(v.mounts) >= cap(v.mounts) {
		return errs.Limit.Err()
	}
	v.mounts = append(v.mounts, mountEntry{fs: fs, name: name})
	return nil
}

// Unmount detaches the filesystem mounted at name. Fails NoSuchFs if
// unmounted, InUse if any file opened through it is still open.
func (v *VFS) Unmount(name string) error {
	if err := v.startOp(); err != nil {
		return err
	}
	defer v.endOp()

	v.mu.Lock()
	defer v.mu.Unlock()

	idx := -1
	for i, m := range v.mounts {
		if m.name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errs.NoSuchFs.Err()
	}
	for _, of := range v.opens {
		if of.inUse && of.mount == name {
			return errs.InUse.Err()
		}
	}
	v.mounts = append(v.mounts[:idx], v.mounts[idx+1:]...)
	return nil
}

// parsePath splits "[volume]filename" into the mountpoint name and filename.
// A path with no leading "[volume]" is a bare filename against the empty
// mount name — not an error here, since that name will simply fail to
// resolve at the mount-lookup stage with NoSuchFs.
func parsePath(path string) (mount, name string, err error) {
	if !strings.HasPrefix(path, "[") {
		return "", path, nil
	}
	end := strings.IndexByte(path, ']')
	if end < 0 {
		return "", "", errs.InvalidParams.Err()
	}
	mount = path[1:end]
	name = path[end+1:]
	if name == "" {
		return "", "", errs.Error.Err()
	}
	return mount, name, nil
}

func (v *VFS) findMountLocked(name string) (Filesystem, bool) {
	for _, m := range v.mounts {
		if m.name == name {
			return m.fs, true
		}
	}
	return nil, false
}

// Open resolves path, delegates to the target filesystem's Open, and
// allocates an open-file-table slot with seek position 0.
func (v *VFS) Open(path string) (int, error) {
	if err := v.startOp(); err != nil {
		return 0, err
	}
	defer v.endOp()

	mount, name, err := parsePath(path)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	fs, ok := v.findMountLocked(mount)
	v.mu.Unlock()
	if !ok {
		return 0, errs.NoSuchFs.Err()
	}

	fsid, err := fs.Open(name)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.opens {
		if !v.opens[i].inUse {
			v.opens[i] = openFile{inUse: true, fs: fs, mount: mount, fsid: fsid, seek: 0}
			return i, nil
		}
	}
	return 0, errs.Limit.Err()
}

// Close releases an open-file-table slot.
func (v *VFS) Close(handle int) error {
	if err := v.startOp(); err != nil {
		return err
	}
	defer v.endOp()

	v.mu.Lock()
	if handle < 0 || handle >= len(v.opens) || !v.opens[handle].inUse {
		v.mu.Unlock()
		return errs.NotOpen.Err()
	}
	of := v.opens[handle]
	v.opens[handle] = openFile{}
	v.mu.Unlock()

	return of.fs.Close(of.fsid)
}

// Create resolves path and delegates file creation (with a fixed size, set
// once at creation) to the target filesystem.
func (v *VFS) Create(path string, size uint32) error {
	if err := v.startOp(); err != nil {
		return err
	}
	defer v.endOp()

	mount, name, err := parsePath(path)
	if err != nil {
		return err
	}
	v.mu.Lock()
	fs, ok := v.findMountLocked(mount)
	v.mu.Unlock()
	if !ok {
		return errs.NoSuchFs.Err()
	}
	return fs.Create(name, size)
}

// Remove resolves path and delegates deletion to the target filesystem.
func (v *VFS) Remove(path string) error {
	if err := v.startOp(); err != nil {
		return err
	}
	defer v.endOp()

	mount, name, err := parsePath(path)
	if err != nil {
		return err
	}
	v.mu.Lock()
	fs, ok := v.findMountLocked(mount)
	v.mu.Unlock()
	if !ok {
		return errs.NoSuchFs.Err()
	}
	return fs.Remove(name)
}

// Seek sets an open file's seek position to an absolute offset. A negative
// offset is InvalidParams.
func (v *VFS) Seek(handle int, offset int64) error {
	if err := v.startOp(); err != nil {
		return err
	}
	defer v.endOp()

	if offset < 0 {
		return errs.InvalidParams.Err()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if handle < 0 || handle >= len(v.opens) || !v.opens[handle].inUse {
		return errs.NotOpen.Err()
	}
	v.opens[handle].seek = uint32(offset)
	return nil
}

// Getfree reports the free space on the volume mounted at mountname.
func (v *VFS) Getfree(mountname string) (uint32, error) {
	if err := v.startOp(); err != nil {
		return 0, err
	}
	defer v.endOp()

	v.mu.Lock()
	fs, ok := v.findMountLocked(mountname)
	v.mu.Unlock()
	if !ok {
		return 0, errs.NoSuchFs.Err()
	}
	return fs.Getfree()
}

// Read delegates to the open file's filesystem at its current seek
// position, then advances that position by the bytes actually read.
func (v *VFS) Read(handle int, buf []byte, n uint32) (uint32, error) {
	if err := v.startOp(); err != nil {
		return 0, err
	}
	defer v.endOp()

	v.mu.Lock()
	if handle < 0 || handle >= len(v.opens) || !v.opens[handle].inUse {
		v.mu.Unlock()
		return 0, errs.NotOpen.Err()
	}
	of := v.opens[handle]
	v.mu.Unlock()

	got, err := of.fs.Read(of.fsid, buf, n, of.seek)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	v.opens[handle].seek += got
	v.mu.Unlock()
	return got, nil
}

// Write delegates to the open file's filesystem at its current seek
// position, then advances that position by the bytes actually written.
func (v *VFS) Write(handle int, buf []byte, n uint32) (uint32, error) {
	if err := v.startOp(); err != nil {
		return 0, err
	}
	defer v.endOp()

	v.mu.Lock()
	if handle < 0 || handle >= len(v.opens) || !v.opens[handle].inUse {
		v.mu.Unlock()
		return 0, errs.NotOpen.Err()
	}
	of := v.opens[handle]
	v.mu.Unlock()

	put, err := of.fs.Write(of.fsid, buf, n, of.seek)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	v.opens[handle].seek += put
	v.mu.Unlock()
	return put, nil
}

// Filecount: path == "" (the null-path sentinel) returns the active mount
// count; otherwise it delegates to the named filesystem.
func (v *VFS) Filecount(path string) (int, error) {
	if err := v.startOp(); err != nil {
		return 0, err
	}
	defer v.endOp()

	if path == "" {
		v.mu.Lock()
		defer v.mu.Unlock()
		return len(v.mounts), nil
	}

	v.mu.Lock()
	fs, ok := v.findMountLocked(path)
	v.mu.Unlock()
	if !ok {
		return 0, errs.NoSuchFs.Err()
	}
	return fs.Filecount("/")
}

// File: path == "" returns the name of the idx-th mount; otherwise it
// delegates to the named filesystem's directory listing.
func (v *VFS) File(path string, idx int) (string, error) {
	if err := v.startOp(); err != nil {
		return "", err
	}
	defer v.endOp()

	if path == "" {
		v.mu.Lock()
		defer v.mu.Unlock()
		if idx < 0 || idx >= len(v.mounts) {
			return "", errs.NotFound.Err()
		}
		return v.mounts[idx].name, nil
	}

	v.mu.Lock()
	fs, ok := v.findMountLocked(path)
	v.mu.Unlock()
	if !ok {
		return "", errs.NoSuchFs.Err()
	}
	return fs.File("/", idx)
}
