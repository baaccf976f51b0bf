// Package tfs implements the "trivial file system": a
// single-directory, big-endian on-disk layout over a block.GBD. All
// integer fields are big-endian on disk; the only serialization boundary
// lives here — upper layers never see raw on-disk bytes.
package tfs

import (
	"encoding/binary"
	"fmt"

	"github.com/DIKU-EDU/kudos-sub000/internal/block"
	"github.com/DIKU-EDU/kudos-sub000/internal/errs"
	"github.com/DIKU-EDU/kudos-sub000/internal/kconfig"
	"github.com/DIKU-EDU/kudos-sub000/internal/sched"
)

const (
	magic = 3745

	nameLen     = 16
	dirEntries  = kconfig.TFSDirEntries
	maxBlockNo  = kconfig.TFSMaxBlockNo // inode.block[127]
	blockSize   = kconfig.BlockSize
	superblock  = 0 // volume-relative block numbers
	bitmapBlock = 1
	dirBlock    = 2

	// minValidID is the fileid floor Read/Write validate against. allocBit
	// never actually hands out 2 (the directory block's bit is pre-set by
	// FormatVolume), so in practice every real fileid is >= 3; the check
	// only rejects ids that cannot be inodes at all.
	minValidID = 2
)

// dirEntry mirrors the on-disk {inode u32, name [16]byte} pair.
type dirEntry struct {
	Inode uint32
	Name  [nameLen]byte
}

func (e dirEntry) nameString() string {
	n := 0
	for n < len(e.Name) && e.Name[n] != 0 {
		n++
	}
	return string(e.Name[:n])
}

func makeName(s string) ([nameLen]byte, error) {
	var out [nameLen]byte
	if len(s) == 0 || len(s) >= nameLen {
		return out, errs.InvalidParams.Err()
	}
	copy(out[:], s)
	return out, nil
}

// Volume is one mounted TFS filesystem: start block, block count, disk
// handle, a binary semaphore serializing every public operation, and three
// scratch buffers.
type Volume struct {
	gbd         *block.GBD
	sems        *sched.SemaphoreTable
	tid         sched.ThreadID // identity used to own the volume's private semaphore
	startBlock  int
	totalBlocks int
	volSem      sched.SemID

	inodeBuf [blockSize]byte
	bitmap   [blockSize]byte
	dirBuf   [blockSize]byte
}

// Init mounts the volume: validates the block size, reads and checks the
// superblock's magic, copies the volume name, and computes totalblocks =
// min(device total, 8*512).
func Init(gbd *block.GBD, sems *sched.SemaphoreTable, tid sched.ThreadID, startBlock int) (*Volume, string, error) {
	if gbd.BlockSize() != blockSize {
		return nil, "", fmt.Errorf("tfs: unsupported block size %d", gbd.BlockSize())
	}

	v := &Volume{gbd: gbd, sems: sems, tid: tid, startBlock: startBlock}

	sem, err := sems.Create(1, tid)
	if err != nil {
		return nil, "", err
	}
	v.volSem = sem

	if err := v.readBlock(0, v.inodeBuf[:]); err != nil {
		return nil, "", err
	}
	gotMagic := binary.BigEndian.Uint32(v.inodeBuf[0:4])
	if gotMagic != magic {
		return nil, "", fmt.Errorf("tfs: bad magic %d", gotMagic)
	}
	var nameBuf [nameLen]byte
	copy(nameBuf[:], v.inodeBuf[4:4+nameLen])
	name := dirEntry{Name: nameBuf}.nameString()

	total := gbd.TotalBlocks() - startBlock
	if total > kconfig.TFSMaxBlocks {
		total = kconfig.TFSMaxBlocks
	}
	v.totalBlocks = total

	return v, name, nil
}

// FormatVolume writes a fresh superblock, zeroed bitmap (with blocks 0..2
// pre-marked used), and empty directory to gbd starting at startBlock —
// the test/tooling equivalent of the host-side tfstool's mkfs path, not
// part of the on-target runtime API.
func FormatVolume(gbd *block.GBD, sems *sched.SemaphoreTable, tid sched.ThreadID, startBlock int, name string) error {
	if gbd.BlockSize() != blockSize {
		return fmt.Errorf("tfs: unsupported block size %d", gbd.BlockSize())
	}
	nameBytes, err := makeName(name)
	if err != nil {
		return err
	}

	var sb [blockSize]byte
	binary.BigEndian.PutUint32(sb[0:4], magic)
	copy(sb[4:4+nameLen], nameBytes[:])
	if err := writeRaw(gbd, tid, startBlock+superblock, sb[:]); err != nil {
		return err
	}

	var bm [blockSize]byte
	setBit(bm[:], 0)
	setBit(bm[:], 1)
	setBit(bm[:], 2)
	if err := writeRaw(gbd, tid, startBlock+bitmapBlock, bm[:]); err != nil {
		return err
	}

	var dir [blockSize]byte
	return writeRaw(gbd, tid, startBlock+dirBlock, dir[:])
}

func writeRaw(gbd *block.GBD, tid sched.ThreadID, absBlock int, buf []byte) error {
	ok, err := gbd.Submit(&block.Request{Block: absBlock, Buf: buf, Op: block.Write}, tid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tfs: device write failed at block %d", absBlock)
	}
	return nil
}

func (v *Volume) readBlock(rel int, buf []byte) error {
	ok, err := v.gbd.Submit(&block.Request{Block: v.startBlock + rel, Buf: buf, Op: block.Read}, v.tid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tfs: device read failed at block %d", v.startBlock+rel)
	}
	return nil
}

func (v *Volume) writeBlock(rel int, buf []byte) error {
	return writeRaw(v.gbd, v.tid, v.startBlock+rel, buf)
}

func (v *Volume) lock()   { v.sems.P(v.volSem, v.tid) }
func (v *Volume) unlock() { v.sems.V(v.volSem) }

// setBit/clearBit/testBit index a byte-slice bitmap, bit i in byte i/8.
func setBit(bm []byte, i int)       { bm[i/8] |= 1 << uint(i%8) }
func clearBit(bm []byte, i int)     { bm[i/8] &^= 1 << uint(i%8) }
func testBit(bm []byte, i int) bool { return bm[i/8]&(1<<uint(i%8)) != 0 }

func (v *Volume) readDir() ([dirEntries]dirEntry, error) {
	var entries [dirEntries]dirEntry
	if err := v.readBlock(dirBlock, v.dirBuf[:]); err != nil {
		return entries, err
	}
	for i := 0; i < dirEntries; i++ {
		off := i * 20
		entries[i].Inode = binary.BigEndian.Uint32(v.dirBuf[off : off+4])
		copy(entries[i].Name[:], v.dirBuf[off+4:off+20])
	}
	return entries, nil
}

func (v *Volume) writeDir(entries [dirEntries]dirEntry) error {
	for i, e := range entries {
		off := i * 20
		binary.BigEndian.PutUint32(v.dirBuf[off:off+4], e.Inode)
		copy(v.dirBuf[off+4:off+20], e.Name[:])
	}
	return v.writeBlock(dirBlock, v.dirBuf[:])
}

// inode mirrors the on-disk {filesize u32, block[127] u32} layout;
// readInode/writeInode (de)serialize it against v.inodeBuf.
type inode struct {
	Filesize uint32
	Blocks   [maxBlockNo]uint32
}

func decodeInode(buf []byte) inode {
	var n inode
	n.Filesize = binary.BigEndian.Uint32(buf[0:4])
	for i := 0; i < maxBlockNo; i++ {
		off := 4 + i*4
		n.Blocks[i] = binary.BigEndian.Uint32(buf[off : off+4])
	}
	return n
}

func encodeInode(n inode, buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], n.Filesize)
	for i := 0; i < maxBlockNo; i++ {
		off := 4 + i*4
		binary.BigEndian.PutUint32(buf[off:off+4], n.Blocks[i])
	}
}

func (v *Volume) readInode(block int) (inode, error) {
	if err := v.readBlock(block, v.inodeBuf[:]); err != nil {
		return inode{}, err
	}
	return decodeInode(v.inodeBuf[:]), nil
}

func (v *Volume) writeInode(block int, n inode) error {
	encodeInode(n, v.inodeBuf[:])
	return v.writeBlock(block, v.inodeBuf[:])
}
