package blockfs

import (
	"fmt"
	"strings"
	"time"
)

// appendDirEntry places a new entry at byte offset inode.Size, bumps
// Size and Modified, and persists the inode plus the directory's single
// data block (spec §4.3 "Append"). The core assumes a directory fits in
// its first data block; growing past it is rejected with ErrNoSpace
// (spec §9's resolution of the directory-overflow open question).
func (v *Volume) appendDirEntry(h *DirHandle, iptr uint32, fileType uint8, name string) error {
	rec := encodeDirEntry(iptr, fileType, name)
	newSize := int(h.Inode.Size) + len(rec)
	if newSize > len(h.buf) {
		return ErrNoSpace
	}
	copy(h.buf[h.Inode.Size:], rec)
	h.Inode.Size = uint64(newSize)
	h.Inode.Modified = v.now()
	if err := v.inodeWrite(h.Iptr, h.Inode); err != nil {
		return err
	}
	if err := v.llwrite(h.Inode, h.buf); err != nil {
		return err
	}
	h.it = newDirIterator(h.buf, int(h.Inode.Size))
	return nil
}

// removeDirEntry splices e's bytes out of h's buffer, shifting later
// entries down, decrements Size, and persists (spec §4.5 rmdir).
func (v *Volume) removeDirEntry(h *DirHandle, e DirEntry) error {
	tailStart := e.offset + int(e.entryLen)
	tail := h.buf[tailStart:h.Inode.Size]
	copy(h.buf[e.offset:], tail)
	h.Inode.Size -= uint64(e.entryLen)
	h.Inode.Modified = v.now()
	if err := v.inodeWrite(h.Iptr, h.Inode); err != nil {
		return err
	}
	if err := v.llwrite(h.Inode, h.buf); err != nil {
		return err
	}
	h.it = newDirIterator(h.buf, int(h.Inode.Size))
	return nil
}

// Mkdir implements spec §4.5 mkdir: resolve the parent, fail if the name
// already exists, reserve an inode and a block for the child, initialize
// its "." and ".." entries, and append the child's entry to the parent.
func (v *Volume) Mkdir(path string) error {
	parent, name, err := v.resolveParentAndName(path)
	if err != nil {
		return opErr("mkdir", path, err)
	}
	defer v.closedir(parent)

	if _, ok := parent.find(name); ok {
		return opErr("mkdir", path, ErrExist)
	}

	childIptr, err := v.reserveInode()
	if err != nil {
		return opErr("mkdir", path, err)
	}
	if childIptr == 0 {
		return opErr("mkdir", path, ErrNoSpace)
	}

	blockID, err := v.reserveBlock()
	if err != nil {
		v.releaseInode(childIptr)
		return opErr("mkdir", path, err)
	}
	if blockID == 0 {
		v.releaseInode(childIptr)
		return opErr("mkdir", path, ErrNoSpace)
	}

	block := make([]byte, BlockSize)
	dot := encodeDirEntry(childIptr, DirFileTypeDir, ".")
	copy(block, dot)
	copy(block[len(dot):], encodeDirEntry(parent.Iptr, DirFileTypeDir, ".."))
	if err := v.dev.WriteBlock(blockID, block); err != nil {
		v.releaseBlock(blockID)
		v.releaseInode(childIptr)
		return opErr("mkdir", path, ErrIO)
	}

	childInode := &Inode{Type: TypeDir, Size: 24, Modified: v.now(), Blocks: 1}
	childInode.Data0[0] = blockID
	if err := v.inodeWrite(childIptr, childInode); err != nil {
		v.releaseBlock(blockID)
		v.releaseInode(childIptr)
		return opErr("mkdir", path, err)
	}

	if err := v.appendDirEntry(parent, childIptr, DirFileTypeDir, name); err != nil {
		v.releaseBlock(blockID)
		v.releaseInode(childIptr)
		return opErr("mkdir", path, err)
	}
	return nil
}

// Rmdir implements spec §4.5 rmdir: fails with ErrNotEmpty unless the
// child directory contains only "." and "..", otherwise releases its
// block and inode and rewrites the parent without the entry.
func (v *Volume) Rmdir(path string) error {
	parent, name, err := v.resolveParentAndName(path)
	if err != nil {
		return opErr("rmdir", path, err)
	}
	defer v.closedir(parent)

	e, ok := parent.find(name)
	if !ok {
		return opErr("rmdir", path, ErrNotExist)
	}
	if e.FileType != DirFileTypeDir {
		return opErr("rmdir", path, ErrInvalid)
	}

	child, err := v.inodeRead(e.Inode)
	if err != nil {
		return opErr("rmdir", path, err)
	}
	if child.Size != 24 {
		return opErr("rmdir", path, ErrNotEmpty)
	}

	if child.Blocks > 0 {
		if err := v.releaseBlock(child.Data0[0]); err != nil {
			return opErr("rmdir", path, err)
		}
	}
	if err := v.releaseInode(e.Inode); err != nil {
		return opErr("rmdir", path, err)
	}
	return v.removeDirEntry(parent, e)
}

// Ls implements spec §4.5 ls: entry names separated by "\n", one
// trailing newline per entry (including "." and "..").
func (v *Volume) Ls(path string) (string, error) {
	h, err := v.resolve(path)
	if err != nil {
		return "", opErr("ls", path, err)
	}
	defer v.closedir(h)

	var sb strings.Builder
	h.rewind()
	for {
		e, ok := h.next()
		if !ok {
			break
		}
		sb.WriteString(e.Name)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// Stat implements spec §4.5 stat: returns the inode id named by path.
func (v *Volume) Stat(path string) (uint32, error) {
	if v.state != VolumeGood {
		return 0, ErrNotMounted
	}
	trimmed := strings.Trim(path, "/")
	if trimmed == "" || path == "/" {
		return v.rootIptr, nil
	}
	parent, name, err := v.resolveParentAndName(path)
	if err != nil {
		return 0, opErr("stat", path, err)
	}
	defer v.closedir(parent)
	e, ok := parent.find(name)
	if !ok {
		return 0, opErr("stat", path, ErrNotExist)
	}
	return e.Inode, nil
}

// Cd implements spec §4.5 cd: opendir the path, replace the cwd handle on
// success, and store the requested path *literally* as the new cwd
// string. This is the documented path-concatenation-free behavior of
// spec §9 — cd "a" from "/" yields cwd string "a", not "/a" — preserved
// rather than silently corrected (see DESIGN.md).
func (v *Volume) Cd(path string) error {
	h, err := v.resolve(path)
	if err != nil {
		return opErr("cd", path, err)
	}
	old := v.cwd
	v.cwd = h
	v.cwdPath = path
	v.closedir(old)
	return nil
}

// Pwd implements spec §4.5 pwd: return the cached cwd string.
func (v *Volume) Pwd() string { return v.cwdPath }

// Tree implements spec §4.5 tree: a depth-first walk from cwd printing,
// per entry, 4-space indent per depth, name, an F/D flag, size, and a
// human-readable modified time. "." and ".." are skipped. Each directory
// visited gets its own freshly opened handle (spec's "fresh handle per
// directory"), so this never disturbs v.cwd/v.cwdPath the way a literal
// cd/cd-.. walk would (tree's output is unaffected either way, and this
// sidesteps cd's known path-string bug entirely).
func (v *Volume) Tree() (string, error) {
	if v.state != VolumeGood {
		return "", ErrNotMounted
	}
	var sb strings.Builder
	if err := v.treeWalk(v.cwd.Iptr, 0, &sb); err != nil {
		return "", opErr("tree", v.cwdPath, err)
	}
	return sb.String(), nil
}

func (v *Volume) treeWalk(iptr uint32, depth int, sb *strings.Builder) error {
	h, err := v.opendir(iptr)
	if err != nil {
		return err
	}
	defer v.closedir(h)

	h.rewind()
	for {
		e, ok := h.next()
		if !ok {
			break
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		child, err := v.inodeRead(e.Inode)
		if err != nil {
			return err
		}
		flag := "F"
		if child.Type == TypeDir {
			flag = "D"
		}
		sb.WriteString(strings.Repeat(" ", depth*4))
		fmt.Fprintf(sb, "%s %s %d %s\n", e.Name, flag, child.Size,
			time.Unix(child.Modified, 0).UTC().Format(time.RFC3339))
		if child.Type == TypeDir {
			if err := v.treeWalk(e.Inode, depth+1, sb); err != nil {
				return err
			}
		}
	}
	return nil
}
