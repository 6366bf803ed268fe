package blockfs

import "strings"

// DirHandle is an in-RAM directory handle (spec §3): it owns a buffer
// holding the directory inode's current blocks and iterates them with a
// restartable, single-pass cursor. Handles exist from opendir to closedir
// (or, for the cwd/root handles, for as long as they're mounted).
type DirHandle struct {
	Iptr  uint32
	Inode *Inode
	buf   []byte
	it    *dirIterator
}

// opendir inflates a directory handle for the inode at iptr: reads the
// inode, allocates a contiguous buffer sized blocks*BlockSize, whole-file
// reads it via llread, and resets the iteration cursor (spec §4.4
// "Inflating a directory handle").
func (v *Volume) opendir(iptr uint32) (*DirHandle, error) {
	in, err := v.inodeRead(iptr)
	if err != nil {
		return nil, err
	}
	if in.Type != TypeDir {
		return nil, ErrInvalid
	}
	buf := make([]byte, int(in.Blocks)*BlockSize)
	if in.Blocks > 0 {
		if err := v.llread(in, buf); err != nil {
			return nil, err
		}
	}
	h := &DirHandle{Iptr: iptr, Inode: in, buf: buf}
	h.it = newDirIterator(h.buf, int(in.Size))
	return h, nil
}

// closedir releases a directory handle's buffer. The core has no
// finalizer (spec §5): callers must closedir every opendir.
func (v *Volume) closedir(h *DirHandle) {
	h.buf = nil
	h.it = nil
}

// rewind resets a handle's iteration cursor to the start of the
// directory, per spec §4.3.
func (h *DirHandle) rewind() { h.it.rewind() }

// next returns the next live entry, or ok=false at end of directory.
func (h *DirHandle) next() (DirEntry, bool) { return h.it.next() }

// find scans h from the start for an entry whose name matches exactly
// (spec §4.4: "comparing the entry's first name_len bytes to the token
// byte-for-byte").
func (h *DirHandle) find(name string) (DirEntry, bool) {
	h.rewind()
	for {
		e, ok := h.next()
		if !ok {
			return DirEntry{}, false
		}
		if e.Name == name {
			return e, true
		}
	}
}

// resolve implements the path resolver of spec §4.4: optional leading
// '/', zero or more '/'-separated segments, empty string treated as ".".
// Returns a fresh directory handle for the inode named by the final
// segment; the caller must closedir it.
func (v *Volume) resolve(path string) (*DirHandle, error) {
	if v.state != VolumeGood {
		return nil, ErrNotMounted
	}
	if path == "" {
		path = "."
	}

	var h *DirHandle
	var err error
	if strings.HasPrefix(path, "/") {
		h, err = v.opendir(v.rootIptr)
	} else {
		h, err = v.opendir(v.cwd.Iptr)
	}
	if err != nil {
		return nil, err
	}
	if path == "/" {
		return h, nil
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		e, ok := h.find(seg)
		if !ok {
			v.closedir(h)
			return nil, ErrNotExist
		}
		next, err := v.opendir(e.Inode)
		v.closedir(h)
		if err != nil {
			return nil, err
		}
		h = next
	}
	return h, nil
}

// resolveParentAndName splits path into the handle of its containing
// directory and the final path component's literal name, used by mkdir,
// rmdir, creat, and open. The caller must closedir the returned handle.
func (v *Volume) resolveParentAndName(path string) (*DirHandle, string, error) {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	var parentPath, name string
	if idx < 0 {
		parentPath = "."
		name = trimmed
	} else {
		name = trimmed[idx+1:]
		if idx == 0 {
			parentPath = "/"
		} else {
			parentPath = trimmed[:idx]
		}
	}
	if name == "" {
		return nil, "", ErrInvalid
	}
	h, err := v.resolve(parentPath)
	if err != nil {
		return nil, "", err
	}
	return h, name, nil
}
