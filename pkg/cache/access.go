package cache

import (
	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// CBState tags callback invocations during getattr and readdir so the
// caller can tell ordinary entries from junction crossings and resolution
// failures.
type CBState int

const (
	// CBOriginal is a normal invocation
	CBOriginal CBState = iota

	// CBJunction is the re-invocation against a junction's target root
	CBJunction

	// CBProblem signals a junction that could not be resolved; the
	// entry and attributes arguments are nil
	CBProblem
)

// GetattrFunc receives cached attributes for an object. Returning
// fsal.ErrCrossJunction asks the cache layer to resolve the junction
// mounted on the object and invoke the callback again against the target
// export's root, tagged CBJunction.
type GetattrFunc func(opaque any, e *Entry, attrs *fsal.Attributes, mountedOnFileID uint64, cookie uint64, state CBState) fsal.Errno

// access refreshes the cached attributes and asks the delegate to test the
// requested access mask, in the fine-grained status domain for composition
// by other operations.
func (e *Entry) access(op *OpContext, mask fsal.AccessMask, allowed, denied *fsal.AccessMask) fsal.Status {
	if st := e.RefreshAttrs(op.ctx()); st.IsError() {
		logger.Warn("failed to refresh attributes: %s", st)
		return st
	}

	st := e.sub.TestAccess(op.ctx(), op.Creds, mask, allowed, denied)
	e.killOnStale(st)
	return st
}

// Access checks whether the caller holds the requested access on the
// object, refreshing attributes first. When allowed/denied are non-nil they
// receive the per-bit breakdown.
func (e *Entry) Access(op *OpContext, mask fsal.AccessMask, allowed, denied *fsal.AccessMask) Status {
	return Convert(e.access(op, mask, allowed, denied).Err)
}

// Getattr hands the cached attributes to cb. Attributes should have been
// refreshed beforehand, usually via Access. Junction crossings signalled by
// the callback are resolved and re-dispatched (see GetattrFunc).
func (e *Entry) Getattr(op *OpContext, opaque any, cb GetattrFunc) Status {
	return Convert(e.getattr(op, opaque, cb, CBOriginal))
}

func (e *Entry) getattr(op *OpContext, opaque any, cb GetattrFunc, state CBState) fsal.Errno {
	attrs := e.Attributes()
	defer func() {
		if err := attrs.ACL.Release(); err != nil {
			logger.Error("releasing attribute copy acl: %v", err)
		}
	}()

	errno := cb(opaque, e, &attrs, attrs.FileID, 0, state)
	if errno != fsal.ErrCrossJunction {
		return errno
	}

	// The callback saw a junction; resolve the target export's root and
	// call it again with that.
	junction := e.junctionTarget()
	if junction == nil {
		logger.Error("a junction became stale")
		cb(opaque, nil, nil, 0, 0, CBProblem)
		return fsal.ErrStale
	}

	root, st := junction.RootEntry(op.ctx())
	if st.IsError() {
		logger.Error("failed to get root for export %d (%s): %s",
			junction.ID, junction.Path, st)
		cb(opaque, nil, nil, 0, 0, CBProblem)
		junction.Unref()
		return st.Err
	}

	errno = root.getattr(op, opaque, cb, CBJunction)

	root.Unref()
	junction.Unref()
	return errno
}
