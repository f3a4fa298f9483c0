package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// Handle is an object handle into the store, implementing fsal.ObjectOps.
// Handles are cheap; several may point at the same node.
type Handle struct {
	s    *Store
	n    *node
	refs atomic.Int64
}

func (s *Store) newHandle(n *node) *Handle {
	h := &Handle{s: s, n: n}
	h.refs.Store(1)
	return h
}

// Type returns the immutable object type.
func (h *Handle) Type() fsal.ObjectType {
	return h.n.otype
}

// Getattrs fetches a fresh snapshot of the node's attributes.
func (h *Handle) Getattrs(ctx context.Context) (*fsal.Attributes, fsal.Status) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()

	if h.n.unlinked {
		return nil, fsal.Stat(fsal.ErrStale)
	}
	return h.n.snapshot(), fsal.OK()
}

// Setattrs applies the fields selected by attr.Mask.
func (h *Handle) Setattrs(ctx context.Context, creds fsal.Credentials, attr *fsal.Attributes) fsal.Status {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	n := h.n
	if n.unlinked {
		return fsal.Stat(fsal.ErrStale)
	}

	now := time.Now()
	if attr.Mask.Has(fsal.AttrMode) {
		n.mode = attr.Mode & 0o7777
	}
	if attr.Mask.Has(fsal.AttrOwner) {
		n.owner = attr.Owner
	}
	if attr.Mask.Has(fsal.AttrGroup) {
		n.group = attr.Group
	}
	if attr.Mask.Has(fsal.AttrSize) {
		h.resizeLocked(attr.Size)
		n.mtime = now
	}
	if attr.Mask.Has(fsal.AttrAtime) {
		n.atime = attr.Atime
	}
	if attr.Mask.Has(fsal.AttrMtime) {
		n.mtime = attr.Mtime
	}
	if attr.Mask.Has(fsal.AttrAtimeServer) {
		n.atime = now
	}
	if attr.Mask.Has(fsal.AttrMtimeServer) {
		n.mtime = now
	}
	if attr.Mask.Has(fsal.AttrCreation) {
		n.creation = attr.Creation
	}
	if attr.Mask.Has(fsal.AttrACL) {
		old := n.acl
		if attr.ACL != nil {
			n.acl = attr.ACL.Ref()
		} else {
			n.acl = nil
		}
		_ = old.Release()
	}

	n.touch()
	return fsal.OK()
}

func (h *Handle) resizeLocked(size uint64) {
	n := h.n
	old := uint64(len(n.data))
	switch {
	case size < old:
		n.data = n.data[:size]
		h.s.usedBytes -= old - size
	case size > old:
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
		h.s.usedBytes += size - old
	}
}

// Open opens a regular file's descriptor in the given mode.
func (h *Handle) Open(ctx context.Context, flags fsal.OpenFlags) fsal.Status {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.n.unlinked {
		return fsal.Stat(fsal.ErrStale)
	}
	if h.n.otype != fsal.TypeRegular {
		return fsal.Stat(fsal.ErrBadType)
	}
	h.n.open = flags.Mode() | (flags & fsal.OpenSync)
	return fsal.OK()
}

// Reopen switches the descriptor's open mode atomically.
func (h *Handle) Reopen(ctx context.Context, flags fsal.OpenFlags) fsal.Status {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.n.unlinked {
		return fsal.Stat(fsal.ErrStale)
	}
	if h.n.open == fsal.OpenClosed {
		return fsal.Stat(fsal.ErrNotOpened)
	}
	h.n.open = flags.Mode() | (flags & fsal.OpenSync)
	return fsal.OK()
}

// Close closes the descriptor.
func (h *Handle) Close(ctx context.Context) fsal.Status {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.n.open == fsal.OpenClosed {
		return fsal.Stat(fsal.ErrNotOpened)
	}
	h.n.open = fsal.OpenClosed
	return fsal.OK()
}

// OpenStatus reports the descriptor's current open mode.
func (h *Handle) OpenStatus(ctx context.Context) fsal.OpenFlags {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return h.n.open
}

// Read copies data from the file at the given offset.
func (h *Handle) Read(ctx context.Context, offset uint64, buf []byte) (int, bool, fsal.Status) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()

	n := h.n
	if n.unlinked {
		return 0, false, fsal.Stat(fsal.ErrStale)
	}
	if n.open == fsal.OpenClosed {
		return 0, false, fsal.Stat(fsal.ErrNotOpened)
	}
	size := uint64(len(n.data))
	if offset >= size {
		return 0, true, fsal.OK()
	}
	copied := copy(buf, n.data[offset:])
	return copied, offset+uint64(copied) >= size, fsal.OK()
}

// ReadPlus is Read; the store keeps no hole information.
func (h *Handle) ReadPlus(ctx context.Context, offset uint64, buf []byte, info *fsal.IOInfo) (int, bool, fsal.Status) {
	return h.Read(ctx, offset, buf)
}

// Write copies data into the file at the given offset, growing it as
// needed. Writes into memory are stable by nature, so a requested stable
// write is always honored in-line.
func (h *Handle) Write(ctx context.Context, offset uint64, data []byte, stable *bool) (int, fsal.Status) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	n := h.n
	if n.unlinked {
		return 0, fsal.Stat(fsal.ErrStale)
	}
	if n.open == fsal.OpenClosed {
		return 0, fsal.Stat(fsal.ErrNotOpened)
	}

	end := offset + uint64(len(data))
	if end > uint64(len(n.data)) {
		if h.s.usedBytes+end-uint64(len(n.data)) > h.s.opts.TotalBytes {
			return 0, fsal.Stat(fsal.ErrNoSpace)
		}
		h.resizeLocked(end)
	}
	copy(n.data[offset:end], data)
	n.mtime = time.Now()
	n.touch()
	return len(data), fsal.OK()
}

// WritePlus is Write; the store keeps no hole information.
func (h *Handle) WritePlus(ctx context.Context, offset uint64, data []byte, stable *bool, info *fsal.IOInfo) (int, fsal.Status) {
	return h.Write(ctx, offset, data, stable)
}

// Commit succeeds immediately; memory has no volatile write cache.
func (h *Handle) Commit(ctx context.Context, offset, length uint64) fsal.Status {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	if h.n.unlinked {
		return fsal.Stat(fsal.ErrStale)
	}
	return fsal.OK()
}

// Lookup resolves one name in the directory.
func (h *Handle) Lookup(ctx context.Context, name string) (fsal.ObjectOps, fsal.Status) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()

	n := h.n
	if n.unlinked {
		return nil, fsal.Stat(fsal.ErrStale)
	}
	if n.otype != fsal.TypeDirectory {
		return nil, fsal.Stat(fsal.ErrNotDir)
	}
	if name == "." {
		return h.s.newHandle(n), fsal.OK()
	}
	if name == ".." {
		// The store keeps no parent pointers beyond the root being its
		// own parent; walking up is the cache layer's business
		return h.s.newHandle(n), fsal.OK()
	}
	id, ok := n.children[name]
	if !ok {
		return nil, fsal.Stat(fsal.ErrNoEnt)
	}
	return h.s.newHandle(h.s.nodes[id]), fsal.OK()
}

// Create makes a regular file.
func (h *Handle) Create(ctx context.Context, name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
	return h.createChild(name, fsal.TypeRegular, attr, "", nil)
}

// Mkdir makes a directory.
func (h *Handle) Mkdir(ctx context.Context, name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
	return h.createChild(name, fsal.TypeDirectory, attr, "", nil)
}

// Symlink makes a symbolic link to target.
func (h *Handle) Symlink(ctx context.Context, name, target string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
	return h.createChild(name, fsal.TypeSymlink, attr, target, nil)
}

// Mknode makes a special file of the given type.
func (h *Handle) Mknode(ctx context.Context, name string, t fsal.ObjectType, dev *fsal.DeviceSpec, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
	switch t {
	case fsal.TypeSocket, fsal.TypeFIFO, fsal.TypeCharDevice, fsal.TypeBlockDevice:
	default:
		return nil, fsal.Stat(fsal.ErrBadType)
	}
	return h.createChild(name, t, attr, "", dev)
}

func (h *Handle) createChild(name string, t fsal.ObjectType, attr *fsal.Attributes, target string, dev *fsal.DeviceSpec) (fsal.ObjectOps, fsal.Status) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	parent := h.n
	if parent.unlinked {
		return nil, fsal.Stat(fsal.ErrStale)
	}
	if parent.otype != fsal.TypeDirectory {
		return nil, fsal.Stat(fsal.ErrNotDir)
	}
	if name == "" || name == "." || name == ".." {
		return nil, fsal.Stat(fsal.ErrInval)
	}
	if _, ok := parent.children[name]; ok {
		return nil, fsal.Stat(fsal.ErrExist)
	}

	child := h.s.newNode(t, attr)
	child.target = target
	if dev != nil {
		child.rawDev = *dev
	}

	parent.children[name] = child.id
	if t == fsal.TypeDirectory {
		parent.nlinks++
	}
	parent.mtime = time.Now()
	parent.touch()
	return h.s.newHandle(child), fsal.OK()
}

// Link adds name in destDir as another name for this object.
func (h *Handle) Link(ctx context.Context, destDir fsal.ObjectOps, name string) fsal.Status {
	dir, ok := destDir.(*Handle)
	if !ok {
		return fsal.Stat(fsal.ErrXDev)
	}

	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.n.unlinked || dir.n.unlinked {
		return fsal.Stat(fsal.ErrStale)
	}
	if h.n.otype == fsal.TypeDirectory {
		return fsal.Stat(fsal.ErrBadType)
	}
	if dir.n.otype != fsal.TypeDirectory {
		return fsal.Stat(fsal.ErrNotDir)
	}
	if _, exists := dir.n.children[name]; exists {
		return fsal.Stat(fsal.ErrExist)
	}

	dir.n.children[name] = h.n.id
	h.n.nlinks++
	h.n.touch()
	dir.n.mtime = time.Now()
	dir.n.touch()
	return fsal.OK()
}

// Unlink removes one name from the directory. The node behind the last name
// becomes stale for any handle still pointing at it.
func (h *Handle) Unlink(ctx context.Context, name string) fsal.Status {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.unlinkLocked(name)
}

func (h *Handle) unlinkLocked(name string) fsal.Status {
	parent := h.n
	if parent.unlinked {
		return fsal.Stat(fsal.ErrStale)
	}
	if parent.otype != fsal.TypeDirectory {
		return fsal.Stat(fsal.ErrNotDir)
	}
	id, ok := parent.children[name]
	if !ok {
		return fsal.Stat(fsal.ErrNoEnt)
	}

	child := h.s.nodes[id]
	if child.otype == fsal.TypeDirectory {
		if len(child.children) != 0 {
			return fsal.Stat(fsal.ErrNotEmpty)
		}
		child.unlinked = true
		parent.nlinks--
	} else {
		child.nlinks--
		if child.nlinks == 0 {
			child.unlinked = true
			h.s.usedBytes -= uint64(len(child.data))
		}
	}

	delete(parent.children, name)
	parent.mtime = time.Now()
	parent.touch()
	return fsal.OK()
}

// Rename moves oldName in srcDir to newName in destDir, replacing any
// object at the destination.
func (h *Handle) Rename(ctx context.Context, srcDir fsal.ObjectOps, oldName string, destDir fsal.ObjectOps, newName string) fsal.Status {
	src, ok := srcDir.(*Handle)
	if !ok {
		return fsal.Stat(fsal.ErrXDev)
	}
	dst, ok := destDir.(*Handle)
	if !ok {
		return fsal.Stat(fsal.ErrXDev)
	}

	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if src.n.unlinked || dst.n.unlinked {
		return fsal.Stat(fsal.ErrStale)
	}
	if src.n.otype != fsal.TypeDirectory || dst.n.otype != fsal.TypeDirectory {
		return fsal.Stat(fsal.ErrNotDir)
	}
	id, ok := src.n.children[oldName]
	if !ok {
		return fsal.Stat(fsal.ErrNoEnt)
	}

	if _, exists := dst.n.children[newName]; exists {
		if st := dst.unlinkLocked(newName); st.IsError() {
			return st
		}
	}

	delete(src.n.children, oldName)
	dst.n.children[newName] = id

	moved := h.s.nodes[id]
	if moved.otype == fsal.TypeDirectory && src.n != dst.n {
		src.n.nlinks--
		dst.n.nlinks++
	}

	now := time.Now()
	src.n.mtime = now
	src.n.touch()
	if src.n != dst.n {
		dst.n.mtime = now
		dst.n.touch()
	}
	moved.touch()
	return fsal.OK()
}

// Readlink returns the symlink's target.
func (h *Handle) Readlink(ctx context.Context, refresh bool) (string, fsal.Status) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()

	if h.n.unlinked {
		return "", fsal.Stat(fsal.ErrStale)
	}
	if h.n.otype != fsal.TypeSymlink {
		return "", fsal.Stat(fsal.ErrInval)
	}
	return h.n.target, fsal.OK()
}

// Readdir iterates entries in name order. The cookie is the index of the
// next entry to deliver; cookie 0 starts from the beginning.
func (h *Handle) Readdir(ctx context.Context, cookie uint64, cb fsal.DirentFunc) (bool, fsal.Status) {
	h.s.mu.RLock()
	if h.n.unlinked {
		h.s.mu.RUnlock()
		return false, fsal.Stat(fsal.ErrStale)
	}
	if h.n.otype != fsal.TypeDirectory {
		h.s.mu.RUnlock()
		return false, fsal.Stat(fsal.ErrNotDir)
	}
	names := h.n.sortedNames()
	h.s.mu.RUnlock()

	// The callback runs without the store lock; it calls back into the
	// store for lookups
	for i := int(cookie); i < len(names); i++ {
		if !cb(names[i], uint64(i+1)) {
			return false, fsal.OK()
		}
	}
	return true, fsal.OK()
}

// LockOp performs a byte-range lock operation against the node's lock list.
func (h *Handle) LockOp(ctx context.Context, req fsal.LockRequest) fsal.Status {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.n.unlinked {
		return fsal.Stat(fsal.ErrStale)
	}

	locks := h.n.locks
	switch req.Kind {
	case fsal.LockUnlock:
		kept := locks[:0]
		for _, l := range locks {
			if l.owner == req.Owner && overlaps(l, req) {
				continue
			}
			kept = append(kept, l)
		}
		h.n.locks = kept
		return fsal.OK()

	case fsal.LockTest:
		for _, l := range locks {
			if l.owner != req.Owner && conflicts(l, req) {
				return fsal.Stat(fsal.ErrLocked)
			}
		}
		return fsal.OK()

	case fsal.LockRead, fsal.LockWrite:
		for _, l := range locks {
			if l.owner != req.Owner && conflicts(l, req) {
				if req.Block {
					return fsal.Stat(fsal.ErrBlocked)
				}
				return fsal.Stat(fsal.ErrLocked)
			}
		}
		h.n.locks = append(locks, lockRec{
			owner:  req.Owner,
			kind:   req.Kind,
			offset: req.Offset,
			length: req.Length,
		})
		return fsal.OK()

	default:
		return fsal.Stat(fsal.ErrInval)
	}
}

func overlaps(l lockRec, req fsal.LockRequest) bool {
	lEnd := l.offset + l.length
	rEnd := req.Offset + req.Length
	if l.length == 0 {
		lEnd = ^uint64(0)
	}
	if req.Length == 0 {
		rEnd = ^uint64(0)
	}
	return l.offset < rEnd && req.Offset < lEnd
}

func conflicts(l lockRec, req fsal.LockRequest) bool {
	if !overlaps(l, req) {
		return false
	}
	// Two read locks coexist; anything involving a write lock conflicts
	return l.kind == fsal.LockWrite || req.Kind == fsal.LockWrite
}

// GetRef takes an additional reference on the handle.
func (h *Handle) GetRef() {
	h.refs.Add(1)
}

// PutRef drops one reference.
func (h *Handle) PutRef() {
	h.refs.Add(-1)
}
