package blockfs

// MaxFD is the fixed size of the file-descriptor table (spec §3).
const MaxFD = 64

// FDMode selects the direction a file descriptor was opened in.
type FDMode uint8

const (
	FDFree FDMode = iota
	FDRead
	FDWrite
)

// fdEntry is the in-memory-only file-descriptor record of spec §3: a
// state, the inode id, an owned copy of the inode, a byte cursor, and an
// owned buffer holding the file's currently-allocated blocks.
type fdEntry struct {
	state  FDMode
	iptr   uint32
	inode  *Inode
	cursor uint64
	buf    []byte
}

// creat appends a FILE entry to dir and reserves+initializes its inode
// (spec §4.6 creat). Fails with ErrExist if the name is already taken.
func (v *Volume) creat(dir *DirHandle, name string) error {
	if _, ok := dir.find(name); ok {
		return ErrExist
	}
	iptr, err := v.reserveInode()
	if err != nil {
		return err
	}
	if iptr == 0 {
		return ErrNoSpace
	}
	in := &Inode{Type: TypeFile, Modified: v.now()}
	if err := v.inodeWrite(iptr, in); err != nil {
		v.releaseInode(iptr)
		return err
	}
	if err := v.appendDirEntry(dir, iptr, DirFileTypeFile, name); err != nil {
		v.releaseInode(iptr)
		return err
	}
	return nil
}

// Creat implements spec §4.6 creat over a path.
func (v *Volume) Creat(path string) error {
	parent, name, err := v.resolveParentAndName(path)
	if err != nil {
		return opErr("creat", path, err)
	}
	defer v.closedir(parent)
	if err := v.creat(parent, name); err != nil {
		return opErr("creat", path, err)
	}
	return nil
}

// freeFD returns the lowest-index free slot in the fd table, or -1.
func (v *Volume) freeFD() int {
	for i := 0; i < MaxFD; i++ {
		if !v.fdBitmap.Get(i) {
			return i
		}
	}
	return -1
}

// open implements spec §4.6 open: if the name is missing and mode is
// FDWrite, creat it first; populate a free fd slot with an owned copy of
// the inode and, if the file has blocks, a whole-file-read buffer.
func (v *Volume) open(dir *DirHandle, name string, mode FDMode) (int, error) {
	e, ok := dir.find(name)
	if !ok {
		if mode != FDWrite {
			return -1, ErrNotExist
		}
		if err := v.creat(dir, name); err != nil {
			return -1, err
		}
		e, ok = dir.find(name)
		if !ok {
			return -1, ErrIO
		}
	}

	slot := v.freeFD()
	if slot < 0 {
		return -1, ErrNoSpace
	}

	in, err := v.inodeRead(e.Inode)
	if err != nil {
		return -1, err
	}

	var buf []byte
	if in.Blocks > 0 {
		buf = make([]byte, int(in.Blocks)*BlockSize)
		if err := v.llread(in, buf); err != nil {
			return -1, err
		}
	}

	v.fdBitmap.Set(slot, true)
	v.fdTable[slot] = fdEntry{state: mode, iptr: e.Inode, inode: in, buf: buf}
	return slot, nil
}

// Open implements spec §4.6 open over a path. Returns -1 on failure.
func (v *Volume) Open(path string, mode FDMode) (int, error) {
	parent, name, err := v.resolveParentAndName(path)
	if err != nil {
		return -1, opErr("open", path, err)
	}
	defer v.closedir(parent)
	fd, err := v.open(parent, name, mode)
	if err != nil {
		return -1, opErr("open", path, err)
	}
	return fd, nil
}

func (v *Volume) fdAt(fd int) (*fdEntry, error) {
	if v.state != VolumeGood {
		return nil, ErrNotMounted
	}
	if fd < 0 || fd >= MaxFD || !v.fdBitmap.Get(fd) {
		return nil, ErrBadFD
	}
	return &v.fdTable[fd], nil
}

// Read implements spec §4.6 read: copies min(n, remaining) bytes from the
// in-RAM buffer at cursor into buf and advances cursor. remaining is
// computed as size - (cursor + 1), the documented off-by-one (spec §9),
// preserved rather than silently corrected.
func (v *Volume) Read(fd int, buf []byte) (int, error) {
	e, err := v.fdAt(fd)
	if err != nil {
		return 0, err
	}
	if e.state != FDRead {
		return 0, ErrAccess
	}

	remaining := int64(e.inode.Size) - int64(e.cursor) - 1
	if remaining < 0 {
		remaining = 0
	}
	n := len(buf)
	if int64(n) > remaining {
		n = int(remaining)
	}
	if n > 0 {
		copy(buf[:n], e.buf[e.cursor:e.cursor+uint64(n)])
	}
	e.cursor += uint64(n)
	return n, nil
}

// growTo implements the shared growth procedure of seek/write (spec
// §4.6): zero-extend the RAM buffer (grounded on fs.c's realloc_cache,
// which uses calloc — see SPEC_FULL.md), grow the file's block
// allocation if needed, and persist the inode's new size.
func (v *Volume) growTo(e *fdEntry, requiredSize uint64) error {
	if requiredSize <= e.inode.Size {
		return nil
	}
	requiredBlocks := uint32(requiredSize/BlockSize) + 1
	if requiredBlocks > maxBlocks {
		return ErrFileTooBig
	}
	if uint64(len(e.buf)) < uint64(requiredBlocks)*BlockSize {
		newBuf := make([]byte, int(requiredBlocks)*BlockSize)
		copy(newBuf, e.buf)
		e.buf = newBuf
	}
	if e.inode.Blocks < requiredBlocks {
		if err := v.ensureBlocks(e.inode, requiredBlocks); err != nil {
			return err
		}
	}
	e.inode.Size = requiredSize
	e.inode.Modified = v.now()
	return v.inodeWrite(e.iptr, e.inode)
}

// Seek implements spec §4.6 seek. requiredSize is computed as
// cursor + offset, not the absolute offset — the documented non-standard
// behavior of spec §9, preserved rather than silently corrected.
func (v *Volume) Seek(fd int, offset uint64) error {
	e, err := v.fdAt(fd)
	if err != nil {
		return err
	}
	requiredSize := e.cursor + offset
	if err := v.growTo(e, requiredSize); err != nil {
		return err
	}
	e.cursor = offset
	return nil
}

// Write implements spec §4.6 write: grows the file exactly as Seek does
// (required_size = cursor + n), copies buf into the RAM buffer at
// cursor, advances cursor, and whole-file-writes the buffer back to
// device.
func (v *Volume) Write(fd int, buf []byte) (int, error) {
	e, err := v.fdAt(fd)
	if err != nil {
		return 0, err
	}
	if e.state != FDWrite {
		return 0, ErrAccess
	}

	n := len(buf)
	requiredSize := e.cursor + uint64(n)
	if err := v.growTo(e, requiredSize); err != nil {
		return 0, err
	}
	copy(e.buf[e.cursor:e.cursor+uint64(n)], buf)
	e.cursor += uint64(n)
	if err := v.llwrite(e.inode, e.buf); err != nil {
		return 0, err
	}
	return n, nil
}

// Close implements spec §4.6 close: frees the buffer, clears the fd
// bitmap, and marks the slot FDFree. Fails with ErrBadFD on a FREE fd.
func (v *Volume) Close(fd int) error {
	if v.state != VolumeGood {
		return ErrNotMounted
	}
	if fd < 0 || fd >= MaxFD || !v.fdBitmap.Get(fd) {
		return ErrBadFD
	}
	v.fdTable[fd] = fdEntry{}
	v.fdBitmap.Set(fd, false)
	return nil
}
