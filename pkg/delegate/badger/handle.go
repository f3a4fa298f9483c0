package badger

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// errAbort carries a status computed inside a transaction out through the
// transaction error path without committing.
var errAbort = errors.New("transaction aborted")

// Handle is an object handle into the store, implementing fsal.ObjectOps.
// It carries only the node id and the immutable type; everything else is
// read from the database per operation.
type Handle struct {
	s     *Store
	id    uint64
	otype fsal.ObjectType
	refs  atomic.Int64
}

func (s *Store) newHandle(id uint64, otype fsal.ObjectType) *Handle {
	h := &Handle{s: s, id: id, otype: otype}
	h.refs.Store(1)
	return h
}

// Type returns the immutable object type.
func (h *Handle) Type() fsal.ObjectType {
	return h.otype
}

// Getattrs fetches a fresh attribute snapshot from the database.
func (h *Handle) Getattrs(ctx context.Context) (*fsal.Attributes, fsal.Status) {
	var (
		attrs *fsal.Attributes
		st    fsal.Status
	)
	err := h.s.db.View(func(txn *badger.Txn) error {
		rec, gst := getNode(txn, h.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}
		attrs = rec.snapshot()
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return nil, s
	}
	return attrs, fsal.OK()
}

// Setattrs applies the fields selected by attr.Mask.
func (h *Handle) Setattrs(ctx context.Context, creds fsal.Credentials, attr *fsal.Attributes) fsal.Status {
	var (
		st    fsal.Status
		usage int64
	)
	err := h.s.db.Update(func(txn *badger.Txn) error {
		rec, gst := getNode(txn, h.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}

		now := time.Now()
		if attr.Mask.Has(fsal.AttrMode) {
			rec.Mode = attr.Mode & 0o7777
		}
		if attr.Mask.Has(fsal.AttrOwner) {
			rec.Owner = attr.Owner
		}
		if attr.Mask.Has(fsal.AttrGroup) {
			rec.Group = attr.Group
		}
		if attr.Mask.Has(fsal.AttrSize) {
			delta, tst := h.truncate(txn, rec, attr.Size)
			if tst.IsError() {
				st = tst
				return errAbort
			}
			usage = delta
			rec.Mtime = now
		}
		if attr.Mask.Has(fsal.AttrAtime) {
			rec.Atime = attr.Atime
		}
		if attr.Mask.Has(fsal.AttrMtime) {
			rec.Mtime = attr.Mtime
		}
		if attr.Mask.Has(fsal.AttrAtimeServer) {
			rec.Atime = now
		}
		if attr.Mask.Has(fsal.AttrMtimeServer) {
			rec.Mtime = now
		}
		if attr.Mask.Has(fsal.AttrCreation) {
			rec.Creation = attr.Creation
		}
		if attr.Mask.Has(fsal.AttrACL) {
			rec.setACL(attr.ACL)
		}

		rec.touch()
		if pst := putNode(txn, rec); pst.IsError() {
			st = pst
			return errAbort
		}
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return s
	}
	if usage != 0 {
		h.s.adjustUsage(usage)
	}
	return fsal.OK()
}

// truncate resizes the content blob to size, returning the usage delta for
// the caller to apply after commit. Caller persists the record.
func (h *Handle) truncate(txn *badger.Txn, rec *nodeRecord, size uint64) (int64, fsal.Status) {
	data, st := h.readContent(txn)
	if st.IsError() {
		return 0, st
	}
	old := uint64(len(data))
	switch {
	case size < old:
		data = data[:size]
	case size > old:
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
	default:
		return 0, fsal.OK()
	}
	if err := txn.Set(keyContent(h.id), data); err != nil {
		return 0, fsal.Stat(fsal.ErrIO)
	}
	rec.Size = size
	return int64(size) - int64(old), fsal.OK()
}

func (h *Handle) readContent(txn *badger.Txn) ([]byte, fsal.Status) {
	item, err := txn.Get(keyContent(h.id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fsal.OK()
	}
	if err != nil {
		return nil, fsal.Stat(fsal.ErrIO)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fsal.Stat(fsal.ErrIO)
	}
	return data, fsal.OK()
}

// adjustUsage applies a committed change to the content byte total. The
// total only moves after the transaction that produced the delta has
// committed; an aborted or conflicted transaction must not touch it.
func (s *Store) adjustUsage(delta int64) {
	s.mu.Lock()
	if delta < 0 && uint64(-delta) > s.usedBytes {
		s.usedBytes = 0
	} else {
		s.usedBytes = uint64(int64(s.usedBytes) + delta)
	}
	s.mu.Unlock()
}

// TestAccess evaluates the requested access mask against the node's current
// attributes.
func (h *Handle) TestAccess(ctx context.Context, creds fsal.Credentials, mask fsal.AccessMask, allowed, denied *fsal.AccessMask) fsal.Status {
	attrs, st := h.Getattrs(ctx)
	if st.IsError() {
		return st
	}

	grant, deny := fsal.CheckAccess(creds, attrs, mask)
	_ = attrs.ACL.Release()

	if allowed != nil {
		*allowed = grant
	}
	if denied != nil {
		*denied = deny
	}
	if deny != 0 {
		return fsal.Stat(fsal.ErrAccess)
	}
	return fsal.OK()
}

// Open opens a regular file's descriptor in the given mode. Descriptor
// state is process-local.
func (h *Handle) Open(ctx context.Context, flags fsal.OpenFlags) fsal.Status {
	if h.otype != fsal.TypeRegular {
		return fsal.Stat(fsal.ErrBadType)
	}
	if st := h.exists(); st.IsError() {
		return st
	}
	h.s.mu.Lock()
	h.s.openState[h.id] = flags.Mode() | (flags & fsal.OpenSync)
	h.s.mu.Unlock()
	return fsal.OK()
}

// Reopen switches the descriptor's open mode atomically.
func (h *Handle) Reopen(ctx context.Context, flags fsal.OpenFlags) fsal.Status {
	if st := h.exists(); st.IsError() {
		return st
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.s.openState[h.id] == fsal.OpenClosed {
		return fsal.Stat(fsal.ErrNotOpened)
	}
	h.s.openState[h.id] = flags.Mode() | (flags & fsal.OpenSync)
	return fsal.OK()
}

// Close closes the descriptor.
func (h *Handle) Close(ctx context.Context) fsal.Status {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.s.openState[h.id] == fsal.OpenClosed {
		return fsal.Stat(fsal.ErrNotOpened)
	}
	delete(h.s.openState, h.id)
	return fsal.OK()
}

// OpenStatus reports the descriptor's current open mode.
func (h *Handle) OpenStatus(ctx context.Context) fsal.OpenFlags {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.openState[h.id]
}

func (h *Handle) exists() fsal.Status {
	var st fsal.Status
	err := h.s.db.View(func(txn *badger.Txn) error {
		_, gst := getNode(txn, h.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}
		return nil
	})
	return ioStatus(err, st)
}

// Read copies data from the file at the given offset.
func (h *Handle) Read(ctx context.Context, offset uint64, buf []byte) (int, bool, fsal.Status) {
	if h.OpenStatus(ctx) == fsal.OpenClosed {
		return 0, false, fsal.Stat(fsal.ErrNotOpened)
	}

	var (
		n   int
		eof bool
		st  fsal.Status
	)
	err := h.s.db.View(func(txn *badger.Txn) error {
		if _, gst := getNode(txn, h.id); gst.IsError() {
			st = gst
			return errAbort
		}
		data, cst := h.readContent(txn)
		if cst.IsError() {
			st = cst
			return errAbort
		}
		size := uint64(len(data))
		if offset >= size {
			eof = true
			return nil
		}
		n = copy(buf, data[offset:])
		eof = offset+uint64(n) >= size
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return 0, false, s
	}
	return n, eof, fsal.OK()
}

// ReadPlus is Read; the store keeps no hole information.
func (h *Handle) ReadPlus(ctx context.Context, offset uint64, buf []byte, info *fsal.IOInfo) (int, bool, fsal.Status) {
	return h.Read(ctx, offset, buf)
}

// Write copies data into the file at the given offset, growing it as
// needed. BadgerDB commits the transaction durably, so a requested stable
// write is always honored in-line.
func (h *Handle) Write(ctx context.Context, offset uint64, data []byte, stable *bool) (int, fsal.Status) {
	if h.OpenStatus(ctx) == fsal.OpenClosed {
		return 0, fsal.Stat(fsal.ErrNotOpened)
	}

	var (
		st   fsal.Status
		grew int64
	)
	err := h.s.db.Update(func(txn *badger.Txn) error {
		rec, gst := getNode(txn, h.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}

		content, cst := h.readContent(txn)
		if cst.IsError() {
			st = cst
			return errAbort
		}

		end := offset + uint64(len(data))
		if end > uint64(len(content)) {
			grow := end - uint64(len(content))
			h.s.mu.Lock()
			over := h.s.usedBytes+grow > h.s.opts.TotalBytes
			h.s.mu.Unlock()
			if over {
				st = fsal.Stat(fsal.ErrNoSpace)
				return errAbort
			}
			grown := make([]byte, end)
			copy(grown, content)
			content = grown
			grew = int64(grow)
			rec.Size = end
		}
		copy(content[offset:end], data)

		if err := txn.Set(keyContent(h.id), content); err != nil {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}
		rec.Mtime = time.Now()
		rec.touch()
		if pst := putNode(txn, rec); pst.IsError() {
			st = pst
			return errAbort
		}
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return 0, s
	}
	if grew != 0 {
		h.s.adjustUsage(grew)
	}
	return len(data), fsal.OK()
}

// WritePlus is Write; the store keeps no hole information.
func (h *Handle) WritePlus(ctx context.Context, offset uint64, data []byte, stable *bool, info *fsal.IOInfo) (int, fsal.Status) {
	return h.Write(ctx, offset, data, stable)
}

// Commit succeeds immediately; writes are durable at transaction commit.
func (h *Handle) Commit(ctx context.Context, offset, length uint64) fsal.Status {
	return h.exists()
}

// Lookup resolves one name in the directory.
func (h *Handle) Lookup(ctx context.Context, name string) (fsal.ObjectOps, fsal.Status) {
	if h.otype != fsal.TypeDirectory {
		return nil, fsal.Stat(fsal.ErrNotDir)
	}
	if name == "." || name == ".." {
		// The store keeps no parent pointers; walking up is the cache
		// layer's business
		return h.s.newHandle(h.id, h.otype), fsal.OK()
	}

	var (
		child *Handle
		st    fsal.Status
	)
	err := h.s.db.View(func(txn *badger.Txn) error {
		if _, gst := getNode(txn, h.id); gst.IsError() {
			st = gst
			return errAbort
		}

		item, gerr := txn.Get(keyChild(h.id, name))
		if errors.Is(gerr, badger.ErrKeyNotFound) {
			st = fsal.Stat(fsal.ErrNoEnt)
			return errAbort
		}
		if gerr != nil {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}

		var childID uint64
		gerr = item.Value(func(val []byte) error {
			var derr error
			childID, derr = decodeID(val)
			return derr
		})
		if gerr != nil {
			st = fsal.Stat(fsal.ErrServerFault)
			return errAbort
		}

		rec, gst := getNode(txn, childID)
		if gst.IsError() {
			st = gst
			return errAbort
		}
		child = h.s.newHandle(childID, rec.Type)
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return nil, s
	}
	return child, fsal.OK()
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
	if h.otype != fsal.TypeDirectory {
		return nil, fsal.Stat(fsal.ErrNotDir)
	}
	if name == "" || name == "." || name == ".." {
		return nil, fsal.Stat(fsal.ErrInval)
	}

	var (
		child *Handle
		st    fsal.Status
	)
	err := h.s.db.Update(func(txn *badger.Txn) error {
		parent, gst := getNode(txn, h.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}

		if _, gerr := txn.Get(keyChild(h.id, name)); gerr == nil {
			st = fsal.Stat(fsal.ErrExist)
			return errAbort
		} else if !errors.Is(gerr, badger.ErrKeyNotFound) {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}

		id, nerr := h.s.nextID()
		if nerr != nil {
			st = fsal.Stat(fsal.ErrServerFault)
			return errAbort
		}

		now := time.Now()
		rec := &nodeRecord{
			ID:       id,
			Type:     t,
			Mode:     0o644,
			NLinks:   1,
			Atime:    now,
			Mtime:    now,
			Ctime:    now,
			Creation: now,
			Change:   1,
			Target:   target,
		}
		if t == fsal.TypeDirectory {
			rec.Mode = 0o755
			rec.NLinks = 2
		}
		if dev != nil {
			rec.DevMajor = dev.Major
			rec.DevMinor = dev.Minor
		}
		if attr != nil {
			if attr.Mask.Has(fsal.AttrMode) {
				rec.Mode = attr.Mode & 0o7777
			}
			if attr.Mask.Has(fsal.AttrOwner) {
				rec.Owner = attr.Owner
			}
			if attr.Mask.Has(fsal.AttrGroup) {
				rec.Group = attr.Group
			}
			if attr.Mask.Has(fsal.AttrAtime) {
				rec.Atime = attr.Atime
			}
			if attr.Mask.Has(fsal.AttrMtime) {
				rec.Mtime = attr.Mtime
			}
			if attr.Mask.Has(fsal.AttrACL) {
				rec.setACL(attr.ACL)
			}
		}

		if pst := putNode(txn, rec); pst.IsError() {
			st = pst
			return errAbort
		}
		if serr := txn.Set(keyChild(h.id, name), encodeID(id)); serr != nil {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}

		if t == fsal.TypeDirectory {
			parent.NLinks++
		}
		parent.Mtime = now
		parent.touch()
		if pst := putNode(txn, parent); pst.IsError() {
			st = pst
			return errAbort
		}

		child = h.s.newHandle(id, t)
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return nil, s
	}
	return child, fsal.OK()
}

// Link adds name in destDir as another name for this object.
func (h *Handle) Link(ctx context.Context, destDir fsal.ObjectOps, name string) fsal.Status {
	dir, ok := destDir.(*Handle)
	if !ok || dir.s != h.s {
		return fsal.Stat(fsal.ErrXDev)
	}
	if h.otype == fsal.TypeDirectory {
		return fsal.Stat(fsal.ErrBadType)
	}
	if dir.otype != fsal.TypeDirectory {
		return fsal.Stat(fsal.ErrNotDir)
	}

	var st fsal.Status
	err := h.s.db.Update(func(txn *badger.Txn) error {
		rec, gst := getNode(txn, h.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}
		parent, gst := getNode(txn, dir.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}

		if _, gerr := txn.Get(keyChild(dir.id, name)); gerr == nil {
			st = fsal.Stat(fsal.ErrExist)
			return errAbort
		} else if !errors.Is(gerr, badger.ErrKeyNotFound) {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}

		if serr := txn.Set(keyChild(dir.id, name), encodeID(h.id)); serr != nil {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}

		rec.NLinks++
		rec.touch()
		if pst := putNode(txn, rec); pst.IsError() {
			st = pst
			return errAbort
		}
		parent.Mtime = time.Now()
		parent.touch()
		if pst := putNode(txn, parent); pst.IsError() {
			st = pst
			return errAbort
		}
		return nil
	})
	return ioStatus(err, st)
}

// Unlink removes one name from the directory, deleting the node when its
// last name goes away.
func (h *Handle) Unlink(ctx context.Context, name string) fsal.Status {
	if h.otype != fsal.TypeDirectory {
		return fsal.Stat(fsal.ErrNotDir)
	}

	var (
		st    fsal.Status
		usage int64
	)
	err := h.s.db.Update(func(txn *badger.Txn) error {
		delta, ust := h.unlinkInTxn(txn, name)
		if ust.IsError() {
			st = ust
			return errAbort
		}
		usage = delta
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return s
	}
	if usage != 0 {
		h.s.adjustUsage(usage)
	}
	return fsal.OK()
}

// unlinkInTxn removes one name, returning the usage delta for the caller to
// apply after commit.
func (h *Handle) unlinkInTxn(txn *badger.Txn, name string) (int64, fsal.Status) {
	parent, gst := getNode(txn, h.id)
	if gst.IsError() {
		return 0, gst
	}

	item, gerr := txn.Get(keyChild(h.id, name))
	if errors.Is(gerr, badger.ErrKeyNotFound) {
		return 0, fsal.Stat(fsal.ErrNoEnt)
	}
	if gerr != nil {
		return 0, fsal.Stat(fsal.ErrIO)
	}
	var childID uint64
	if verr := item.Value(func(val []byte) error {
		var derr error
		childID, derr = decodeID(val)
		return derr
	}); verr != nil {
		return 0, fsal.Stat(fsal.ErrServerFault)
	}

	child, gst := getNode(txn, childID)
	if gst.IsError() {
		return 0, gst
	}

	var freed int64
	if child.Type == fsal.TypeDirectory {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyChildPrefix(childID)})
		empty := true
		it.Rewind()
		if it.Valid() {
			empty = false
		}
		it.Close()
		if !empty {
			return 0, fsal.Stat(fsal.ErrNotEmpty)
		}
		if derr := txn.Delete(keyNode(childID)); derr != nil {
			return 0, fsal.Stat(fsal.ErrIO)
		}
		parent.NLinks--
	} else {
		child.NLinks--
		if child.NLinks == 0 {
			if derr := txn.Delete(keyNode(childID)); derr != nil {
				return 0, fsal.Stat(fsal.ErrIO)
			}
			if derr := txn.Delete(keyContent(childID)); derr != nil {
				return 0, fsal.Stat(fsal.ErrIO)
			}
			freed = -int64(child.Size)
		} else {
			child.touch()
			if pst := putNode(txn, child); pst.IsError() {
				return 0, pst
			}
		}
	}

	if derr := txn.Delete(keyChild(h.id, name)); derr != nil {
		return 0, fsal.Stat(fsal.ErrIO)
	}
	parent.Mtime = time.Now()
	parent.touch()
	return freed, putNode(txn, parent)
}

// Rename moves oldName in srcDir to newName in destDir, replacing any
// object at the destination.
func (h *Handle) Rename(ctx context.Context, srcDir fsal.ObjectOps, oldName string, destDir fsal.ObjectOps, newName string) fsal.Status {
	src, ok := srcDir.(*Handle)
	if !ok || src.s != h.s {
		return fsal.Stat(fsal.ErrXDev)
	}
	dst, ok := destDir.(*Handle)
	if !ok || dst.s != h.s {
		return fsal.Stat(fsal.ErrXDev)
	}
	if src.otype != fsal.TypeDirectory || dst.otype != fsal.TypeDirectory {
		return fsal.Stat(fsal.ErrNotDir)
	}

	var (
		st    fsal.Status
		usage int64
	)
	err := h.s.db.Update(func(txn *badger.Txn) error {
		srcRec, gst := getNode(txn, src.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}

		item, gerr := txn.Get(keyChild(src.id, oldName))
		if errors.Is(gerr, badger.ErrKeyNotFound) {
			st = fsal.Stat(fsal.ErrNoEnt)
			return errAbort
		}
		if gerr != nil {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}
		var movedID uint64
		if verr := item.Value(func(val []byte) error {
			var derr error
			movedID, derr = decodeID(val)
			return derr
		}); verr != nil {
			st = fsal.Stat(fsal.ErrServerFault)
			return errAbort
		}

		if _, gerr := txn.Get(keyChild(dst.id, newName)); gerr == nil {
			delta, ust := dst.unlinkInTxn(txn, newName)
			if ust.IsError() {
				st = ust
				return errAbort
			}
			usage = delta
		} else if !errors.Is(gerr, badger.ErrKeyNotFound) {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}

		if derr := txn.Delete(keyChild(src.id, oldName)); derr != nil {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}
		if serr := txn.Set(keyChild(dst.id, newName), encodeID(movedID)); serr != nil {
			st = fsal.Stat(fsal.ErrIO)
			return errAbort
		}

		moved, gst := getNode(txn, movedID)
		if gst.IsError() {
			st = gst
			return errAbort
		}

		now := time.Now()
		if moved.Type == fsal.TypeDirectory && src.id != dst.id {
			dstRec, gst := getNode(txn, dst.id)
			if gst.IsError() {
				st = gst
				return errAbort
			}
			srcRec.NLinks--
			dstRec.NLinks++
			dstRec.Mtime = now
			dstRec.touch()
			if pst := putNode(txn, dstRec); pst.IsError() {
				st = pst
				return errAbort
			}
		} else if src.id != dst.id {
			dstRec, gst := getNode(txn, dst.id)
			if gst.IsError() {
				st = gst
				return errAbort
			}
			dstRec.Mtime = now
			dstRec.touch()
			if pst := putNode(txn, dstRec); pst.IsError() {
				st = pst
				return errAbort
			}
		}

		srcRec.Mtime = now
		srcRec.touch()
		if pst := putNode(txn, srcRec); pst.IsError() {
			st = pst
			return errAbort
		}
		moved.touch()
		if pst := putNode(txn, moved); pst.IsError() {
			st = pst
			return errAbort
		}
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return s
	}
	if usage != 0 {
		h.s.adjustUsage(usage)
	}
	return fsal.OK()
}

// Readlink returns the symlink's target.
func (h *Handle) Readlink(ctx context.Context, refresh bool) (string, fsal.Status) {
	if h.otype != fsal.TypeSymlink {
		return "", fsal.Stat(fsal.ErrInval)
	}

	var (
		target string
		st     fsal.Status
	)
	err := h.s.db.View(func(txn *badger.Txn) error {
		rec, gst := getNode(txn, h.id)
		if gst.IsError() {
			st = gst
			return errAbort
		}
		target = rec.Target
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return "", s
	}
	return target, fsal.OK()
}

// Readdir iterates entries in name order. The cookie is the index of the
// next entry to deliver; cookie 0 starts from the beginning.
func (h *Handle) Readdir(ctx context.Context, cookie uint64, cb fsal.DirentFunc) (bool, fsal.Status) {
	if h.otype != fsal.TypeDirectory {
		return false, fsal.Stat(fsal.ErrNotDir)
	}

	var (
		names []string
		st    fsal.Status
	)
	err := h.s.db.View(func(txn *badger.Txn) error {
		if _, gst := getNode(txn, h.id); gst.IsError() {
			st = gst
			return errAbort
		}
		prefix := keyChildPrefix(h.id)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if s := ioStatus(err, st); s.IsError() {
		return false, s
	}

	// The callback runs outside the transaction; it calls back into the
	// store for lookups
	for i := int(cookie); i < len(names); i++ {
		if !cb(names[i], uint64(i+1)) {
			return false, fsal.OK()
		}
	}
	return true, fsal.OK()
}

// LockOp performs a byte-range lock operation against the node's in-memory
// lock list.
func (h *Handle) LockOp(ctx context.Context, req fsal.LockRequest) fsal.Status {
	if st := h.exists(); st.IsError() {
		return st
	}

	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	locks := h.s.locks[h.id]
	switch req.Kind {
	case fsal.LockUnlock:
		kept := locks[:0]
		for _, l := range locks {
			if l.owner == req.Owner && overlaps(l, req) {
				continue
			}
			kept = append(kept, l)
		}
		h.s.locks[h.id] = kept
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
		h.s.locks[h.id] = append(locks, lockRec{
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
