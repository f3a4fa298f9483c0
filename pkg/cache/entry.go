package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// Entry is one cached filesystem object: a delegate handle plus the cached
// attribute snapshot that mirrors the back end's authoritative state.
//
// Entries are shared by every caller holding a reference and destroyed when
// the count reaches zero. The object type is immutable after creation.
//
// Locking: attrMu is the single writer lock for all attribute-mutating
// pipelines (refresh, setattr, post-write refresh). The original design left
// this unresolved; here every mutating path holds attrMu so a refresh and
// the permission check that follows it observe one consistent snapshot.
// Directory junction state has its own read-write lock with finer rules
// (see dirState).
type Entry struct {
	sub   fsal.ObjectOps
	otype fsal.ObjectType

	attrMu sync.Mutex
	attrs  fsal.Attributes

	refs atomic.Int64
	dead atomic.Bool

	// slot is the open-budget reservation held for the delegate
	// descriptor, nil while no descriptor slot is held
	slot atomic.Pointer[OpenBudget]

	// dir is non-nil for directories only
	dir *dirState
}

// dirState is the junction/export-root linkage of a directory.
//
// Readers (remove/rename checks, getattr junction detection) take the read
// lock; an export reference obtained under it must be Ref'd before the lock
// is dropped and Unref'd by the reader after use.
type dirState struct {
	mu sync.RWMutex

	// junction is the export mounted on this directory, or nil
	junction *Export

	// exportRootRefs counts the exports using this directory as their
	// root; a directory with a nonzero count must not be removed or
	// renamed
	exportRootRefs atomic.Int32
}

// NewEntry wraps a delegate handle in a cache entry, seeding the attribute
// snapshot with a fresh fetch. The caller's reference on sub is adopted by
// the entry; on error it remains the caller's to release.
func NewEntry(ctx context.Context, sub fsal.ObjectOps) (*Entry, fsal.Status) {
	attrs, st := sub.Getattrs(ctx)
	if st.IsError() {
		return nil, st
	}

	e := &Entry{
		sub:   sub,
		otype: sub.Type(),
		attrs: *attrs,
	}
	if e.otype == fsal.TypeDirectory {
		e.dir = &dirState{}
	}
	e.refs.Store(1)
	return e, fsal.OK()
}

// Type returns the immutable object type.
func (e *Entry) Type() fsal.ObjectType {
	return e.otype
}

// Sub exposes the wrapped delegate handle. Intended for delegates stacked
// above this layer and for tests; regular callers go through the entry's
// operations.
func (e *Entry) Sub() fsal.ObjectOps {
	return e.sub
}

// Ref takes an additional reference on the entry.
func (e *Entry) Ref() {
	e.refs.Add(1)
}

// Unref drops one reference. At zero the cached ACL reference is released,
// any descriptor still holding a budget slot is reclaimed (a stale kill
// skips the delegate close, leaving the slot reserved until now), and the
// delegate handle's reference is returned.
func (e *Entry) Unref() {
	n := e.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		logger.Error("entry %p: reference count went negative", e)
		return
	}
	if b := e.slot.Swap(nil); b != nil {
		if st := e.sub.Close(context.Background()); st.IsError() {
			logger.Debug("entry %p: closing descriptor on last unref: %s", e, st)
		}
		b.Release()
	}
	if err := e.attrs.ACL.Release(); err != nil {
		logger.Error("entry %p: releasing cached acl: %v", e, err)
	}
	e.attrs.ACL = nil
	e.sub.PutRef()
}

// releaseSlot returns the held open-budget reservation, if any.
func (e *Entry) releaseSlot() {
	if b := e.slot.Swap(nil); b != nil {
		b.Release()
	}
}

// Refs returns the current reference count, for tests and diagnostics.
func (e *Entry) Refs() int64 {
	return e.refs.Load()
}

// Kill marks the entry abandoned after a stale-handle report. Killed
// entries stay usable by existing holders (their operations keep failing
// stale); the mark tells owning caches to stop handing the entry out.
func (e *Entry) Kill() {
	if !e.dead.Swap(true) {
		logger.Debug("entry %p: marked stale", e)
	}
}

// Killed reports whether a stale-handle report has condemned this entry.
func (e *Entry) Killed() bool {
	return e.dead.Load()
}

// killOnStale marks the entry when a delegate status reports it stale.
func (e *Entry) killOnStale(st fsal.Status) {
	if st.Is(fsal.ErrStale) {
		e.Kill()
	}
}

// RefreshAttrs invalidates the cached ACL and re-fetches current attributes
// from the delegate. Must run before any permission decision and after
// mutating operations so the cache tracks the back end.
//
// Delegate fetch errors (including stale) propagate unchanged; they are
// logged, never retried.
func (e *Entry) RefreshAttrs(ctx context.Context) fsal.Status {
	e.attrMu.Lock()
	defer e.attrMu.Unlock()
	return e.refreshLocked(ctx)
}

// refreshLocked is RefreshAttrs for callers already holding attrMu.
func (e *Entry) refreshLocked(ctx context.Context) fsal.Status {
	if e.attrs.ACL != nil {
		if err := e.attrs.ACL.Release(); err != nil {
			logger.Warn("entry %p: failed to release old acl: %v", e, err)
		}
		e.attrs.ACL = nil
	}

	attrs, st := e.sub.Getattrs(ctx)
	if st.IsError() {
		logger.Debug("entry %p: attribute refresh failed: %s", e, st)
		e.killOnStale(st)
		return st
	}

	e.attrs = *attrs
	return fsal.OK()
}

// Attributes returns a copy of the cached snapshot with its own ACL
// reference, safe to hold after the entry's snapshot moves on.
func (e *Entry) Attributes() fsal.Attributes {
	e.attrMu.Lock()
	defer e.attrMu.Unlock()
	return e.attrs.Clone()
}

// IsOpen reports whether the object is a regular file with an open
// delegate descriptor.
func (e *Entry) IsOpen(ctx context.Context) bool {
	if e == nil || e.otype != fsal.TypeRegular {
		return false
	}
	return e.sub.OpenStatus(ctx) != fsal.OpenClosed
}

// MarkExportRoot records that an export uses this directory as its root,
// protecting it from remove and rename.
func (e *Entry) MarkExportRoot() {
	if e.dir != nil {
		e.dir.exportRootRefs.Add(1)
	}
}

// UnmarkExportRoot drops one export-root reference.
func (e *Entry) UnmarkExportRoot() {
	if e.dir != nil {
		e.dir.exportRootRefs.Add(-1)
	}
}

// SetJunction mounts (or with nil, unmounts) an export on this directory.
// Only meaningful for directories.
func (e *Entry) SetJunction(exp *Export) {
	if e.dir == nil {
		return
	}
	e.dir.mu.Lock()
	e.dir.junction = exp
	e.dir.mu.Unlock()
}

// isProtectedDir reports whether the directory is a junction or an export
// root, checked under the directory state read lock. Non-directories are
// never protected.
func (e *Entry) isProtectedDir() bool {
	if e.dir == nil {
		return false
	}
	e.dir.mu.RLock()
	defer e.dir.mu.RUnlock()
	return e.dir.junction != nil || e.dir.exportRootRefs.Load() != 0
}

// junctionTarget returns the export mounted on this directory with a
// reference taken, or nil when there is no live junction. The reference is
// taken under the state lock so the export cannot disappear between the
// lock release and the caller's use.
func (e *Entry) junctionTarget() *Export {
	if e.dir == nil {
		return nil
	}
	e.dir.mu.RLock()
	defer e.dir.mu.RUnlock()
	if e.dir.junction != nil && e.dir.junction.Ready() {
		e.dir.junction.Ref()
		return e.dir.junction
	}
	return nil
}
