package blockfs

import (
	"bytes"
	"encoding/binary"
)

// Inode types (spec §3).
const (
	TypeFree uint16 = 0
	TypeFile uint16 = 1
	TypeDir  uint16 = 2
)

const (
	directPointers  = 8             // data0[0..8) direct block ids
	indirectEntries = BlockSize / 4 // block ids packed into data1
	maxBlocks       = directPointers + indirectEntries
	// MaxFileSize is the largest file this core can address: (8 + BlockSize/4) blocks.
	MaxFileSize = uint64(maxBlocks) * BlockSize

	// InodeRecordSize is the fixed on-disk size of one inode record.
	InodeRecordSize = 64
)

// Inode is the fixed-size record addressed by iptr in the inode table
// (spec §3): type, size, modification time, block count, and the
// direct/single-indirect block pointers.
type Inode struct {
	Type     uint16
	Reserved uint16
	Size     uint64
	Modified int64
	Blocks   uint32
	Data0    [directPointers]uint32
	Data1    uint32
}

func (in *Inode) marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, in)
	out := make([]byte, InodeRecordSize)
	copy(out, buf.Bytes())
	return out
}

func (in *Inode) unmarshal(data []byte) error {
	r := bytes.NewReader(data[:InodeRecordSize])
	return binary.Read(r, binary.LittleEndian, in)
}

// inodeRead is the inode-table port named in spec §6: unpack the inode
// record at slot iptr.
func (v *Volume) inodeRead(iptr uint32) (*Inode, error) {
	blockID, off := v.inodeSlot(iptr)
	block := make([]byte, BlockSize)
	if err := v.dev.ReadBlock(blockID, block); err != nil {
		return nil, ErrIO
	}
	in := &Inode{}
	if err := in.unmarshal(block[off : off+InodeRecordSize]); err != nil {
		return nil, ErrIO
	}
	return in, nil
}

// inodeWrite is the write half of the inode-table port.
func (v *Volume) inodeWrite(iptr uint32, in *Inode) error {
	blockID, off := v.inodeSlot(iptr)
	block := make([]byte, BlockSize)
	if err := v.dev.ReadBlock(blockID, block); err != nil {
		return ErrIO
	}
	copy(block[off:off+InodeRecordSize], in.marshal())
	if err := v.dev.WriteBlock(blockID, block); err != nil {
		return ErrIO
	}
	return nil
}

// inodeSlot maps an inode index to its containing block id and byte
// offset within that block.
func (v *Volume) inodeSlot(iptr uint32) (blockID uint32, offset int) {
	perBlock := uint32(BlockSize / InodeRecordSize)
	return v.inodeTableStart + iptr/perBlock, int(iptr%perBlock) * InodeRecordSize
}

// inodeTableBlockCount returns the number of contiguous blocks needed to
// hold inodeCount fixed-size inode records.
func inodeTableBlockCount(inodeCount uint32) uint32 {
	perBlock := uint32(BlockSize / InodeRecordSize)
	return (inodeCount + perBlock - 1) / perBlock
}

// blockAt translates logical block index i of a file to a device block
// id, per the direct/single-indirect layout of spec §4.2. Returns 0, nil
// if i is beyond the currently allocated block count (a hole is never
// produced by this core, but blockAt is also used defensively).
func (v *Volume) blockAt(in *Inode, i uint32) (uint32, error) {
	if i >= in.Blocks {
		return 0, nil
	}
	if i < directPointers {
		return in.Data0[i], nil
	}
	indirect := make([]byte, BlockSize)
	if err := v.dev.ReadBlock(in.Data1, indirect); err != nil {
		return 0, ErrIO
	}
	off := int(i-directPointers) * 4
	return binary.LittleEndian.Uint32(indirect[off : off+4]), nil
}

// ensureBlocks grows a file's block set to exactly n logical blocks
// (spec §4.2). Idempotent when n <= in.Blocks. Returns ErrFileTooBig if n
// exceeds the addressing limit, ErrNoSpace if the allocator is exhausted
// partway through (the inode is left with whatever blocks were
// successfully reserved, consistent with §7's "no partial-success" note).
func (v *Volume) ensureBlocks(in *Inode, n uint32) error {
	if n <= in.Blocks {
		return nil
	}
	if n > maxBlocks {
		return ErrFileTooBig
	}

	for in.Blocks < n && in.Blocks < directPointers {
		id, err := v.reserveBlock()
		if err != nil {
			return ErrIO
		}
		if id == 0 {
			return ErrNoSpace
		}
		in.Data0[in.Blocks] = id
		in.Blocks++
	}
	if in.Blocks >= n {
		return nil
	}

	indirect := make([]byte, BlockSize)
	if in.Data1 == 0 {
		id, err := v.reserveBlock()
		if err != nil {
			return ErrIO
		}
		if id == 0 {
			return ErrNoSpace
		}
		in.Data1 = id
	} else {
		if err := v.dev.ReadBlock(in.Data1, indirect); err != nil {
			return ErrIO
		}
	}

	for in.Blocks < n {
		id, err := v.reserveBlock()
		if err != nil {
			return ErrIO
		}
		if id == 0 {
			return ErrNoSpace
		}
		off := int(in.Blocks-directPointers) * 4
		binary.LittleEndian.PutUint32(indirect[off:off+4], id)
		in.Blocks++
	}
	if err := v.dev.WriteBlock(in.Data1, indirect); err != nil {
		return ErrIO
	}
	return nil
}

// llread reads every block currently owned by in into buf, which must be
// at least in.Blocks*BlockSize bytes (spec §4.2).
func (v *Volume) llread(in *Inode, buf []byte) error {
	if uint64(len(buf)) < uint64(in.Blocks)*BlockSize {
		return ErrInvalid
	}
	n := in.Blocks
	direct := n
	if direct > directPointers {
		direct = directPointers
	}
	for i := uint32(0); i < direct; i++ {
		if err := v.dev.ReadBlock(in.Data0[i], buf[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return ErrIO
		}
	}
	if n <= directPointers {
		return nil
	}
	indirect := make([]byte, BlockSize)
	if err := v.dev.ReadBlock(in.Data1, indirect); err != nil {
		return ErrIO
	}
	for i := uint32(directPointers); i < n; i++ {
		off := int(i-directPointers) * 4
		id := binary.LittleEndian.Uint32(indirect[off : off+4])
		dst := buf[i*BlockSize : (i+1)*BlockSize]
		if err := v.dev.ReadBlock(id, dst); err != nil {
			return ErrIO
		}
	}
	return nil
}

// llwrite writes buf (at least in.Blocks*BlockSize bytes) to every block
// currently owned by in (spec §4.2).
func (v *Volume) llwrite(in *Inode, buf []byte) error {
	if uint64(len(buf)) < uint64(in.Blocks)*BlockSize {
		return ErrInvalid
	}
	n := in.Blocks
	direct := n
	if direct > directPointers {
		direct = directPointers
	}
	for i := uint32(0); i < direct; i++ {
		if err := v.dev.WriteBlock(in.Data0[i], buf[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return ErrIO
		}
	}
	if n <= directPointers {
		return nil
	}
	indirect := make([]byte, BlockSize)
	if err := v.dev.ReadBlock(in.Data1, indirect); err != nil {
		return ErrIO
	}
	for i := uint32(directPointers); i < n; i++ {
		off := int(i-directPointers) * 4
		id := binary.LittleEndian.Uint32(indirect[off : off+4])
		src := buf[i*BlockSize : (i+1)*BlockSize]
		if err := v.dev.WriteBlock(id, src); err != nil {
			return ErrIO
		}
	}
	return nil
}
