package blockfs

import bitmap "github.com/boljen/go-bitmap"

// reserveBlock finds the lowest-index free block, marks it used, and
// flushes the metadata cache (spec §4.1). Returns 0 on exhaustion; block
// id 0 is reserved for the superblock and is never handed out.
func (v *Volume) reserveBlock() (uint32, error) {
	if v.super.FreeBlockCount == 0 {
		return 0, nil
	}
	bm := bitmap.Bitmap(v.blockBitmap)
	idx := findFreeBit(bm, int(v.super.BlockCount))
	if idx < 0 {
		return 0, nil
	}
	setBitmap(bm, idx)
	v.super.FreeBlockCount--
	if err := v.flushMetadata(); err != nil {
		// undo the in-memory mutation so the cache doesn't drift from disk
		clearBitmap(bm, idx)
		v.super.FreeBlockCount++
		return 0, err
	}
	return uint32(idx), nil
}

// releaseBlock clears the bit and flushes (spec §4.1). Releasing block 0
// or an already-free block is a caller bug; the core trusts its callers
// the same way the teacher's allocator trusts its single caller.
func (v *Volume) releaseBlock(id uint32) error {
	bm := bitmap.Bitmap(v.blockBitmap)
	clearBitmap(bm, int(id))
	v.super.FreeBlockCount++
	return v.flushMetadata()
}

// reserveInode mirrors reserveBlock for the inode bitmap/counter.
func (v *Volume) reserveInode() (uint32, error) {
	if v.super.FreeInodeCount == 0 {
		return 0, nil
	}
	bm := bitmap.Bitmap(v.inodeBitmap)
	idx := findFreeBit(bm, int(v.super.InodeCount))
	if idx < 0 {
		return 0, nil
	}
	setBitmap(bm, idx)
	v.super.FreeInodeCount--
	if err := v.flushMetadata(); err != nil {
		clearBitmap(bm, idx)
		v.super.FreeInodeCount++
		return 0, err
	}
	return uint32(idx), nil
}

func (v *Volume) releaseInode(iptr uint32) error {
	bm := bitmap.Bitmap(v.inodeBitmap)
	clearBitmap(bm, int(iptr))
	v.super.FreeInodeCount++
	return v.flushMetadata()
}

// flushMetadata writes the cached superblock and both bitmap blocks back
// to the device, in that order. There is no ordering guarantee required
// across the three writes (spec §4.1): the only concurrency is the single
// caller of a mounted Volume.
func (v *Volume) flushMetadata() error {
	sbBlock, err := v.super.MarshalBinary()
	if err != nil {
		return ErrIO
	}
	if err := v.dev.WriteBlock(blockSuper, sbBlock); err != nil {
		return ErrIO
	}
	if err := v.dev.WriteBlock(blockBlockBitmap, v.blockBitmap); err != nil {
		return ErrIO
	}
	if err := v.dev.WriteBlock(blockInodeBitmap, v.inodeBitmap); err != nil {
		return ErrIO
	}
	return nil
}
