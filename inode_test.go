package blockfs

import (
	"testing"
	"time"

	bitmap "github.com/boljen/go-bitmap"
)

func TestInodeMarshalRoundTrip(t *testing.T) {
	in := &Inode{Type: TypeFile, Size: 12345, Modified: 1700000000, Blocks: 3}
	in.Data0[0] = 10
	in.Data0[1] = 11
	in.Data0[2] = 12

	rec := in.marshal()
	if len(rec) != InodeRecordSize {
		t.Fatalf("marshaled record len = %d, want %d", len(rec), InodeRecordSize)
	}

	got := &Inode{}
	if err := got.unmarshal(rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != TypeFile || got.Size != 12345 || got.Blocks != 3 {
		t.Fatalf("field mismatch: %+v", got)
	}
	if got.Data0[0] != 10 || got.Data0[1] != 11 || got.Data0[2] != 12 {
		t.Fatalf("direct pointer mismatch: %+v", got.Data0)
	}
}

// newTestVolume builds a minimal Volume directly over a MemDevice, with
// enough of the block allocator primed that reserveBlock/ensureBlocks
// exercise real bitmap state, bypassing Mkfs/Mount (those are covered at
// the Volume-API level in volume_test.go). Block 0 is pre-marked used,
// mirroring the invariant Mkfs establishes on a real container (block id
// 0 is the superblock and reserveBlock/ensureBlocks treat a returned id
// of 0 as allocator exhaustion, so it must never be handed out).
func newTestVolume(t *testing.T, blocks uint32) *Volume {
	t.Helper()
	dev := NewMemDevice(blocks)
	blockBitmapBlock := make([]byte, BlockSize)
	setBitmap(bitmap.Bitmap(blockBitmapBlock), 0)
	v := &Volume{
		dev:         dev,
		super:       blankSuperblock(64, blocks),
		blockBitmap: blockBitmapBlock,
		inodeBitmap: make([]byte, BlockSize),
		clock:       func() time.Time { return time.Unix(1700000000, 0) },
	}
	v.super.FreeBlockCount = blocks - 1
	return v
}

func TestEnsureBlocksGrowsAcrossIndirectBoundary(t *testing.T) {
	v := newTestVolume(t, 4096)
	in := &Inode{Type: TypeFile}

	if err := v.ensureBlocks(in, directPointers+3); err != nil {
		t.Fatalf("ensureBlocks: %v", err)
	}
	if in.Blocks != directPointers+3 {
		t.Fatalf("in.Blocks = %d, want %d", in.Blocks, directPointers+3)
	}
	if in.Data1 == 0 {
		t.Fatal("expected an indirect block to have been allocated")
	}

	for i := uint32(0); i < directPointers; i++ {
		if in.Data0[i] == 0 {
			t.Fatalf("direct pointer %d unset", i)
		}
	}

	id, err := v.blockAt(in, directPointers+1)
	if err != nil {
		t.Fatalf("blockAt: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero block id for an indirect-range block")
	}
}

func TestEnsureBlocksIsIdempotent(t *testing.T) {
	v := newTestVolume(t, 64)
	in := &Inode{Type: TypeFile}
	if err := v.ensureBlocks(in, 4); err != nil {
		t.Fatalf("ensureBlocks: %v", err)
	}
	ptrs := in.Data0
	if err := v.ensureBlocks(in, 2); err != nil {
		t.Fatalf("ensureBlocks shrink-request: %v", err)
	}
	if in.Blocks != 4 || in.Data0 != ptrs {
		t.Fatalf("ensureBlocks with n <= Blocks must be a no-op, got %+v", in)
	}
}

func TestEnsureBlocksRejectsOverLimit(t *testing.T) {
	v := newTestVolume(t, 4096)
	in := &Inode{Type: TypeFile}
	if err := v.ensureBlocks(in, maxBlocks+1); err == nil {
		t.Fatal("expected an error growing past maxBlocks")
	}
}

func TestLLReadWriteRoundTrip(t *testing.T) {
	v := newTestVolume(t, 4096)
	in := &Inode{Type: TypeFile}
	if err := v.ensureBlocks(in, directPointers+2); err != nil {
		t.Fatalf("ensureBlocks: %v", err)
	}

	buf := make([]byte, int(in.Blocks)*BlockSize)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	if err := v.llwrite(in, buf); err != nil {
		t.Fatalf("llwrite: %v", err)
	}

	got := make([]byte, len(buf))
	if err := v.llread(in, got); err != nil {
		t.Fatalf("llread: %v", err)
	}
	if string(got) != string(buf) {
		t.Fatal("llread did not return what llwrite wrote")
	}
}
