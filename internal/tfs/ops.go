package tfs

import (
	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
)

// Open reads the directory block and linearly searches for name, returning
// its inode block number as the fileid. There is no refcounting: two opens
// of the same file share one fileid, serialized only by the volume
// semaphore.
func (v *Volume) Open(name string) (int, error) {
	v.lock()
	defer v.unlock()

	entries, err := v.readDir()
	if err != nil {
		return 0, errs.Error.Err()
	}
	for _, e := range entries {
		if e.Inode != 0 && e.nameString() == name {
			return int(e.Inode), nil
		}
	}
	return 0, errs.NotFound.Err()
}

// Close is a no-op: TFS fileids carry no open-count state.
func (v *Volume) Close(id int) error { return nil }

// Create allocates a directory slot, an inode block, and numblocks data
// blocks for a new zero-filled file.
func (v *Volume) Create(name string, size uint32) error {
	nameBytes, err := makeName(name)
	if err != nil {
		return errs.InvalidParams.Err()
	}
	numblocks := int((size + blockSize - 1) / blockSize)
	if numblocks > maxBlockNo {
		return errs.Error.Err()
	}

	v.lock()
	defer v.unlock()

	entries, err := v.readDir()
	if err != nil {
		return errs.Error.Err()
	}
	slot := -1
	for i, e := range entries {
		if e.Inode != 0 && e.nameString() == name {
			return errs.Error.Err() // duplicate name
		}
		if e.Inode == 0 && slot == -1 {
			slot = i
		}
	}
	if slot == -1 {
		return errs.Limit.Err()
	}

	if err := v.readBlock(bitmapBlock, v.bitmap[:]); err != nil {
		return errs.Error.Err()
	}

	inodeBlk, ok := v.allocBit()
	if !ok {
		return errs.Error.Err() // bits set so far are not rolled back
	}
	var dataBlocks []int
	for i := 0; i < numblocks; i++ {
		b, ok := v.allocBit()
		if !ok {
			return errs.Error.Err()
		}
		dataBlocks = append(dataBlocks, b)
	}

	var n inode
	n.Filesize = size
	for i, b := range dataBlocks {
		n.Blocks[i] = uint32(b)
	}

	if err := v.writeBlock(bitmapBlock, v.bitmap[:]); err != nil {
		return errs.Error.Err()
	}

	entries[slot] = dirEntry{Inode: uint32(inodeBlk), Name: nameBytes}
	if err := v.writeDir(entries); err != nil {
		return errs.Error.Err()
	}
	if err := v.writeInode(inodeBlk, n); err != nil {
		return errs.Error.Err()
	}

	var zero [blockSize]byte
	for _, b := range dataBlocks {
		if err := v.writeBlock(b, zero[:]); err != nil {
			return errs.Error.Err()
		}
	}
	return nil
}

// allocBit scans the in-memory bitmap (v.bitmap must already be loaded) for
// a clear bit within [0, totalBlocks), sets it, and returns its index.
func (v *Volume) allocBit() (int, bool) {
	for i := 0; i < v.totalBlocks; i++ {
		if !testBit(v.bitmap[:], i) {
			setBit(v.bitmap[:], i)
			return i, true
		}
	}
	return 0, false
}

// Remove locates name, frees its inode and data blocks, and clears the
// directory entry.
func (v *Volume) Remove(name string) error {
	v.lock()
	defer v.unlock()

	entries, err := v.readDir()
	if err != nil {
		return errs.Error.Err()
	}
	slot := -1
	var inodeBlk int
	for i, e := range entries {
		if e.Inode != 0 && e.nameString() == name {
			slot = i
			inodeBlk = int(e.Inode)
			break
		}
	}
	if slot == -1 {
		return errs.NotFound.Err()
	}

	n, err := v.readInode(inodeBlk)
	if err != nil {
		return errs.Error.Err()
	}
	if err := v.readBlock(bitmapBlock, v.bitmap[:]); err != nil {
		return errs.Error.Err()
	}
	clearBit(v.bitmap[:], inodeBlk)
	for _, b := range n.Blocks {
		if b != 0 {
			clearBit(v.bitmap[:], int(b))
		}
	}
	if err := v.writeBlock(bitmapBlock, v.bitmap[:]); err != nil {
		return errs.Error.Err()
	}

	entries[slot].Inode = 0
	entries[slot].Name[0] = 0
	return v.writeDir(entries)
}

// blockSpan computes (firstBlock, lastBlock) data-block indices covering
// the byte range [off, off+n).
func blockSpan(off, n uint32) (int, int) {
	first := int(off / blockSize)
	last := int((off + n - 1) / blockSize)
	return first, last
}

// Read copies up to n bytes at offset off from file id into buf, clamped to
// the file's size.
func (v *Volume) Read(id int, buf []byte, n uint32, off uint32) (uint32, error) {
	if id < minValidID || id > v.totalBlocks {
		return 0, errs.InvalidParams.Err()
	}

	v.lock()
	defer v.unlock()

	fnode, err := v.readInode(id)
	if err != nil {
		return 0, errs.Error.Err()
	}
	if off > fnode.Filesize {
		return 0, errs.InvalidParams.Err()
	}
	if off+n > fnode.Filesize {
		n = fnode.Filesize - off
	}
	if n == 0 {
		return 0, nil
	}

	first, last := blockSpan(off, n)
	written := uint32(0)
	for bi := first; bi <= last; bi++ {
		blockNo := int(fnode.Blocks[bi])
		if err := v.readBlock(blockNo, v.bitmap[:]); err != nil { // bitmap buf doubles as data scratch
			return written, errs.Error.Err()
		}
		start := uint32(0)
		if bi == first {
			start = off % blockSize
		}
		end := uint32(blockSize)
		if bi == last {
			end = (off + n - 1) % blockSize + 1
		}
		copy(buf[written:], v.bitmap[start:end])
		written += end - start
	}
	return written, nil
}

// Write overwrites up to n bytes at offset off in file id with buf, clamped
// to the file's existing size — TFS never extends a file.
// Partial head/tail blocks are read first so surrounding bytes survive.
func (v *Volume) Write(id int, buf []byte, n uint32, off uint32) (uint32, error) {
	if id < minValidID || id > v.totalBlocks {
		return 0, errs.InvalidParams.Err()
	}

	v.lock()
	defer v.unlock()

	fnode, err := v.readInode(id)
	if err != nil {
		return 0, errs.Error.Err()
	}
	if off > fnode.Filesize {
		return 0, errs.InvalidParams.Err()
	}
	if off+n > fnode.Filesize {
		n = fnode.Filesize - off
	}
	if n == 0 {
		return 0, nil
	}

	first, last := blockSpan(off, n)
	written := uint32(0)
	for bi := first; bi <= last; bi++ {
		blockNo := int(fnode.Blocks[bi])
		start := uint32(0)
		if bi == first {
			start = off % blockSize
		}
		end := uint32(blockSize)
		if bi == last {
			end = (off + n - 1) % blockSize + 1
		}

		var scratch [blockSize]byte
		if start != 0 || end != blockSize {
			if err := v.readBlock(blockNo, scratch[:]); err != nil {
				return written, errs.Error.Err()
			}
		}
		copy(scratch[start:end], buf[written:])
		if err := v.writeBlock(blockNo, scratch[:]); err != nil {
			return written, errs.Error.Err()
		}
		written += end - start
	}
	return written, nil
}

// Getfree reads the bitmap and returns free space in bytes: (totalblocks -
// set) * 512.
func (v *Volume) Getfree() (uint32, error) {
	v.lock()
	defer v.unlock()

	if err := v.readBlock(bitmapBlock, v.bitmap[:]); err != nil {
		return 0, errs.Error.Err()
	}
	set := 0
	for i := 0; i < v.totalBlocks; i++ {
		if testBit(v.bitmap[:], i) {
			set++
		}
	}
	return uint32(v.totalBlocks-set) * blockSize, nil
}

// Filecount accepts only "/" and returns the number of directory entries
// with a nonzero inode.
func (v *Volume) Filecount(dirname string) (int, error) {
	if dirname != "/" {
		return 0, errs.NotFound.Err()
	}
	v.lock()
	defer v.unlock()

	entries, err := v.readDir()
	if err != nil {
		return 0, errs.Error.Err()
	}
	count := 0
	for _, e := range entries {
		if e.Inode != 0 {
			count++
		}
	}
	return count, nil
}

// File returns the idx-th used directory entry's name via a linear scan.
func (v *Volume) File(dirname string, idx int) (string, error) {
	if dirname != "/" {
		return "", errs.NotFound.Err()
	}
	v.lock()
	defer v.unlock()

	entries, err := v.readDir()
	if err != nil {
		return "", errs.Error.Err()
	}
	seen := 0
	for _, e := range entries {
		if e.Inode == 0 {
			continue
		}
		if seen == idx {
			return e.nameString(), nil
		}
		seen++
	}
	return "", errs.NotFound.Err()
}
