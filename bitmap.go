package blockfs

import (
	bitmap "github.com/boljen/go-bitmap"
)

// bitsPerBlock is the number of allocation units a single BlockSize-sized
// bitmap block can describe: one bit per block id / inode index.
const bitsPerBlock = BlockSize * 8

// findFreeBit returns the index of the lowest-index zero bit in b, or -1
// if every bit is set. Grounded on the scan the dargueta/disko unixv1
// driver performs over its own bitmap.Bitmap in FSStat (it has no
// built-in "find free" call either, so both that driver and blockfs do
// the linear scan themselves and lean on the library only for Get/Set).
func findFreeBit(b bitmap.Bitmap, limit int) int {
	for i := 0; i < limit; i++ {
		if !b.Get(i) {
			return i
		}
	}
	return -1
}

func setBitmap(b bitmap.Bitmap, i int)   { b.Set(i, true) }
func clearBitmap(b bitmap.Bitmap, i int) { b.Set(i, false) }

// popcount counts the set bits in the first limit bits of b, used by the
// property tests in §8 (popcount + free_count == total).
func popcount(b bitmap.Bitmap, limit int) int {
	n := 0
	for i := 0; i < limit; i++ {
		if b.Get(i) {
			n++
		}
	}
	return n
}
