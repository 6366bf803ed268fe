package blockfs

import (
	"bytes"
	"encoding/binary"
	"reflect"

	"github.com/noxer/bytewriter"
)

// Magic is the 16-bit sentinel stamped in the superblock. A mismatch means
// the container is blank/unformatted (spec §3).
const Magic uint16 = 0xB10C

// Superblock states (spec §3): VALID means a clean unmount; a mounter
// stamps ERROR on mount and restores VALID only on clean Umount.
const (
	StateValid uint16 = 1
	StateError uint16 = 2
)

// Superblock is the single-block record described in spec §3. The boot
// record occupies the first 1024 bytes and is left zeroed by this core;
// everything past the State field, up to BlockSize, is unused padding.
type Superblock struct {
	BootRecord     [1024]byte
	InodeCount     uint32
	BlockCount     uint32
	FreeInodeCount uint32
	FreeBlockCount uint32
	FirstDataBlock uint32
	Magic          uint16
	State          uint16
}

// binarySize mirrors the teacher's reflection-driven superblock sizing
// (see KarpelesLab/squashfs Superblock.binarySize): walk the exported
// fields in declaration order and sum their encoded widths, so the wire
// layout always matches struct order without hand-maintained offsets.
func (s *Superblock) binarySize() int {
	v := reflect.ValueOf(s).Elem()
	sz := 0
	for i := 0; i < v.NumField(); i++ {
		sz += int(v.Type().Field(i).Type.Size())
	}
	return sz
}

// MarshalBinary encodes the superblock into a BlockSize-sized block,
// little-endian, zero-padded past the logical fields. Writes go straight
// into the pre-sized output block through a bytewriter.Writer, the same
// sequential-write-into-a-preallocated-slice idiom the dargueta/disko
// unixv1 formatter uses to lay out its own superblock/bitmap image
// ahead of the first block write.
func (s *Superblock) MarshalBinary() ([]byte, error) {
	out := make([]byte, BlockSize)
	w := bytewriter.New(out)
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Write(w, binary.LittleEndian, v.Field(i).Interface()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UnmarshalBinary decodes a BlockSize-sized block into the superblock.
func (s *Superblock) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Read(r, binary.LittleEndian, v.Field(i).Addr().Interface()); err != nil {
			return err
		}
	}
	return nil
}

// blankSuperblock returns a freshly initialized superblock for mkfs, given the
// container's total inode and block counts. Inode 0 and the reserved
// metadata/root-dir blocks are accounted for as already allocated by the
// caller (Mkfs), not here.
func blankSuperblock(inodeCount, blockCount uint32) *Superblock {
	return &Superblock{
		InodeCount:     inodeCount,
		BlockCount:     blockCount,
		FreeInodeCount: inodeCount,
		FreeBlockCount: blockCount,
		Magic:          Magic,
		State:          StateValid,
	}
}
