package blockfs

import (
	"encoding/binary"
)

// File types stored in a directory entry's file_type byte, matching the
// inode Type values (spec §3).
const (
	DirFileTypeDir  = uint8(TypeDir)
	DirFileTypeFile = uint8(TypeFile)
)

// dirEntryHeaderSize is the fixed prefix of every directory record:
// inode(4) + entry_len(2) + name_len(1) + file_type(1).
const dirEntryHeaderSize = 8

// DirEntry is a decoded directory record (spec §3/§4.3).
type DirEntry struct {
	Inode    uint32
	FileType uint8
	Name     string

	// offset and entryLen let callers (rmdir, in particular) locate and
	// splice out the raw bytes of this entry without re-scanning.
	offset   int
	entryLen uint16
}

// alignUp4 rounds x up to the next multiple of 4.
func alignUp4(x int) int {
	return (x + 3) &^ 3
}

// encodeDirEntry packs one directory record, padding entry_len up to a
// 4-byte multiple (spec §4.3 encoding rules).
func encodeDirEntry(inode uint32, fileType uint8, name string) []byte {
	nameLen := len(name)
	entryLen := alignUp4(dirEntryHeaderSize + nameLen)
	rec := make([]byte, entryLen)
	binary.LittleEndian.PutUint32(rec[0:4], inode)
	binary.LittleEndian.PutUint16(rec[4:6], uint16(entryLen))
	rec[6] = byte(nameLen)
	rec[7] = fileType
	copy(rec[8:8+nameLen], name)
	return rec
}

// dirIterator walks the variable-length records of a directory buffer
// (spec §4.3 decoding rules): emit the entry at the cursor, advance by
// entry_len, terminate when the cursor reaches size. Restartable via
// rewind; single-pass per handle otherwise.
type dirIterator struct {
	buf  []byte
	size int
	pos  int
}

func newDirIterator(buf []byte, size int) *dirIterator {
	return &dirIterator{buf: buf, size: size}
}

func (it *dirIterator) rewind() { it.pos = 0 }

// next returns the entry at the cursor and advances past it, or ok=false
// once the cursor reaches the directory's logical size.
func (it *dirIterator) next() (DirEntry, bool) {
	if it.pos >= it.size {
		return DirEntry{}, false
	}
	rec := it.buf[it.pos:]
	inode := binary.LittleEndian.Uint32(rec[0:4])
	entryLen := binary.LittleEndian.Uint16(rec[4:6])
	nameLen := rec[6]
	fileType := rec[7]
	name := string(rec[8 : 8+int(nameLen)])

	e := DirEntry{
		Inode:    inode,
		FileType: fileType,
		Name:     name,
		offset:   it.pos,
		entryLen: entryLen,
	}
	it.pos += int(entryLen)
	return e, true
}
