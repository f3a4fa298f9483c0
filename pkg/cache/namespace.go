package cache

import (
	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// fileID reads the cached file identifier under the attribute lock.
func (e *Entry) fileID() uint64 {
	e.attrMu.Lock()
	defer e.attrMu.Unlock()
	return e.attrs.FileID
}

// lookup resolves one name inside the directory, in the fine-grained status
// domain so composite operations (create collisions, rename) can
// distinguish a missing name from other failures.
func (e *Entry) lookup(op *OpContext, name string) (*Entry, fsal.Status) {
	ctx := op.ctx()

	if e.otype != fsal.TypeDirectory {
		return nil, fsal.Stat(fsal.ErrNotDir)
	}

	if st := e.access(op, fsal.ModeExecOK|fsal.PermExecute, nil, nil); st.IsError() {
		logger.Debug("permission to search directory denied: %s", st)
		return nil, st
	}

	switch name {
	case "":
		return nil, fsal.Stat(fsal.ErrInval)
	case ".":
		e.Ref()
		return e, fsal.OK()
	case "..":
		return e.lookupParent(op)
	}

	sub, st := e.sub.Lookup(ctx, name)
	if st.IsError() {
		e.killOnStale(st)
		return nil, st
	}

	child, nst := NewEntry(ctx, sub)
	if nst.IsError() {
		sub.PutRef()
		return nil, nst
	}
	return child, fsal.OK()
}

// lookupParent resolves "..". An export root is its own parent: the
// namespace above it belongs to another export and is not reachable by
// walking up.
func (e *Entry) lookupParent(op *OpContext) (*Entry, fsal.Status) {
	if e.dir != nil && e.dir.exportRootRefs.Load() != 0 {
		e.Ref()
		return e, fsal.OK()
	}

	sub, st := e.sub.Lookup(op.ctx(), "..")
	if st.IsError() {
		e.killOnStale(st)
		return nil, st
	}

	parent, nst := NewEntry(op.ctx(), sub)
	if nst.IsError() {
		sub.PutRef()
		return nil, nst
	}
	return parent, fsal.OK()
}

// Lookup resolves one name inside the directory, returning a referenced
// entry for the object found. "." returns the directory itself and ".."
// its parent, both with search permission checked first.
func (e *Entry) Lookup(op *OpContext, name string) (*Entry, Status) {
	child, st := e.lookup(op, name)
	if st.IsError() {
		return nil, Convert(st.Err)
	}
	return child, StatusSuccess
}

// LookupParent resolves the directory's parent.
func (e *Entry) LookupParent(op *OpContext) (*Entry, Status) {
	parent, st := e.lookupParent(op)
	if st.IsError() {
		return nil, Convert(st.Err)
	}
	return parent, StatusSuccess
}

// Readlink returns the symlink's target.
func (e *Entry) Readlink(op *OpContext) (string, Status) {
	if e.otype != fsal.TypeSymlink {
		logger.Debug("readlink on non-symlink entry %p (%s)", e, e.otype)
		return "", StatusBadType
	}

	target, st := e.sub.Readlink(op.ctx(), false)
	if st.IsError() {
		e.killOnStale(st)
		return "", Convert(st.Err)
	}
	return target, StatusSuccess
}

// Link creates a hard link to this object under name in destDir.
//
// The add-file permission on the destination directory is checked here
// unless the export declares the back end does its own link permission
// checking. Directories cannot be hard linked.
func (e *Entry) Link(op *OpContext, destDir *Entry, name string) Status {
	ctx := op.ctx()

	if e.otype == fsal.TypeDirectory {
		return StatusBadType
	}
	if destDir.otype != fsal.TypeDirectory {
		return StatusNotDirectory
	}

	if !op.Supports(fsal.CapLinkPermissionChecks) {
		mask := fsal.ModeWriteOK | fsal.ModeExecOK |
			fsal.PermExecute | fsal.PermAddFile
		if st := destDir.access(op, mask, nil, nil); st.IsError() {
			logger.Debug("permission to link into directory denied: %s", st)
			return Convert(st.Err)
		}
	}

	st := e.sub.Link(ctx, destDir.sub, name)
	if st.IsError() {
		e.killOnStale(st)
		return Convert(st.Err)
	}

	// The destination directory changed and this object's link count did
	if rst := destDir.RefreshAttrs(ctx); rst.IsError() {
		logger.Warn("failed to refresh directory attributes after link: %s", rst)
	}
	if rst := e.RefreshAttrs(ctx); rst.IsError() {
		logger.Warn("failed to refresh attributes after link: %s", rst)
	}
	return StatusSuccess
}

// Remove unlinks name from the directory.
//
// Directories serving as an export root or carrying a junction are
// protected; attempting to remove one fails as if the directory were not
// empty. An open regular file is closed before the unlink.
func (e *Entry) Remove(op *OpContext, name string) Status {
	ctx := op.ctx()

	if e.otype != fsal.TypeDirectory {
		return StatusNotDirectory
	}

	target, lst := e.lookup(op, name)
	if lst.IsError() {
		return Convert(lst.Err)
	}
	defer target.Unref()

	if target.isProtectedDir() {
		logger.Warn("attempt to remove export or junction %q", name)
		return StatusDirNotEmpty
	}

	if target.IsOpen(ctx) {
		if st := target.close(op); st.IsError() {
			logger.Info("error closing %q before unlink: %s", name, st)
		}
	}

	if st := e.sub.Unlink(ctx, name); st.IsError() {
		e.killOnStale(st)
		return Convert(st.Err)
	}

	if rst := e.RefreshAttrs(ctx); rst.IsError() {
		logger.Warn("failed to refresh directory attributes after unlink: %s", rst)
	}
	// For a surviving hard link the link count moved; for the last link
	// this reports stale and condemns the entry, which is the point
	if rst := target.RefreshAttrs(ctx); rst.IsError() {
		logger.Debug("removed object attribute refresh: %s", rst)
	}

	return StatusSuccess
}

// Rename moves oldName in this directory to newName in destDir, replacing
// any object already at the destination.
//
// Renaming an export root or junction is refused. When source and
// destination resolve to the same object the rename succeeds without
// touching anything, per POSIX.
func (e *Entry) Rename(op *OpContext, oldName string, destDir *Entry, newName string) Status {
	ctx := op.ctx()

	if e.otype != fsal.TypeDirectory || destDir.otype != fsal.TypeDirectory {
		return StatusNotDirectory
	}
	if oldName == "." || oldName == ".." || newName == "." || newName == ".." {
		return StatusInvalidArgument
	}

	src, lst := e.lookup(op, oldName)
	if lst.IsError() {
		return Convert(lst.Err)
	}
	defer src.Unref()

	if src.isProtectedDir() {
		logger.Warn("attempt to rename export or junction %q", oldName)
		return StatusDirNotEmpty
	}

	dst, dlst := destDir.lookup(op, newName)
	switch {
	case dlst.IsError():
		if !dlst.Is(fsal.ErrNoEnt) {
			return Convert(dlst.Err)
		}
		dst = nil
	case dst.isProtectedDir():
		logger.Warn("attempt to rename over export or junction %q", newName)
		dst.Unref()
		return StatusDirNotEmpty
	case dst.fileID() == src.fileID():
		// Same object under both names: nothing to do
		logger.Debug("rename of %q onto its own link %q", oldName, newName)
		dst.Unref()
		return StatusSuccess
	}

	st := src.sub.Rename(ctx, e.sub, oldName, destDir.sub, newName)
	if st.IsError() {
		e.killOnStale(st)
		if dst != nil {
			dst.Unref()
		}
		return Convert(st.Err)
	}

	if rst := e.RefreshAttrs(ctx); rst.IsError() {
		logger.Warn("failed to refresh source directory after rename: %s", rst)
	}
	if destDir != e {
		if rst := destDir.RefreshAttrs(ctx); rst.IsError() {
			logger.Warn("failed to refresh destination directory after rename: %s", rst)
		}
	}
	if dst != nil {
		// The replaced object lost a link (usually its last); stale
		// here just condemns the displaced entry
		if rst := dst.RefreshAttrs(ctx); rst.IsError() {
			logger.Debug("displaced object attribute refresh: %s", rst)
		}
		dst.Unref()
	}

	return StatusSuccess
}
