package blockfs

import (
	"testing"

	bitmap "github.com/boljen/go-bitmap"
)

func newTestBitmap(buf []byte) bitmap.Bitmap { return bitmap.Bitmap(buf) }

func TestFindFreeBitScansLowToHigh(t *testing.T) {
	buf := make([]byte, BlockSize)
	bm := newTestBitmap(buf)
	setBitmap(bm, 0)
	setBitmap(bm, 1)
	idx := findFreeBit(bm, 16)
	if idx != 2 {
		t.Fatalf("expected first free bit 2, got %d", idx)
	}
}

func TestFindFreeBitExhausted(t *testing.T) {
	buf := make([]byte, BlockSize)
	bm := newTestBitmap(buf)
	for i := 0; i < 8; i++ {
		setBitmap(bm, i)
	}
	if idx := findFreeBit(bm, 8); idx != -1 {
		t.Fatalf("expected -1 once every bit in range is set, got %d", idx)
	}
}

func TestPopcountMatchesSetBits(t *testing.T) {
	buf := make([]byte, BlockSize)
	bm := newTestBitmap(buf)
	for _, i := range []int{0, 3, 5, 9} {
		setBitmap(bm, i)
	}
	if n := popcount(bm, 16); n != 4 {
		t.Fatalf("popcount = %d, want 4", n)
	}
	clearBitmap(bm, 5)
	if n := popcount(bm, 16); n != 3 {
		t.Fatalf("popcount after clear = %d, want 3", n)
	}
}
