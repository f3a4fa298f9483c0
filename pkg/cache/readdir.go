package cache

import (
	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// DirentParams is handed to the consumer callback once per directory entry.
type DirentParams struct {
	// Opaque is the consumer state passed to ReadDir
	Opaque any

	// Name is the entry name in its parent directory
	Name string

	// Cookie is the continuation cookie positioned after this entry
	Cookie uint64

	// AttrAllowed tells the consumer whether the caller may see entry
	// attributes; checked once per directory, not per entry
	AttrAllowed bool

	// InResult is set by the consumer when the entry made it into its
	// response; only such entries count toward the found total
	InResult bool
}

// ReaddirFunc consumes one directory entry. The boolean result continues or
// cleanly stops the iteration (a full response buffer stops it); a nonzero
// errno aborts with that error. Returning fsal.ErrCrossJunction asks for the
// entry to be re-presented as the mounted export's root, tagged CBJunction.
type ReaddirFunc func(p *DirentParams, e *Entry, attrs *fsal.Attributes, state CBState) (cont bool, errno fsal.Errno)

// ReadDir iterates the directory from the continuation cookie, invoking cb
// once per entry with a referenced child entry and a fresh attribute copy.
//
// Listing requires list access on the directory; whether entry attributes
// may be disclosed is checked separately and reported per entry through
// AttrAllowed rather than failing the whole listing. Children that turn out
// to live on a different filesystem are skipped, not fatal. Junctions are
// crossed on the consumer's request and presented as the target export's
// root.
func (e *Entry) ReadDir(op *OpContext, attrmask fsal.AttrMask, cookie uint64, opaque any, cb ReaddirFunc) (nbFound int, eod bool, status Status) {
	ctx := op.ctx()

	if e.otype != fsal.TypeDirectory {
		logger.Warn("readdir on non-directory entry %p (%s)", e, e.otype)
		return 0, false, StatusNotDirectory
	}

	listMask := fsal.ModeReadOK | fsal.PermListDir
	if attrmask.Has(fsal.AttrACL) {
		listMask |= fsal.PermReadACL
	}

	if st := e.access(op, listMask, nil, nil); st.IsError() {
		logger.Debug("permission to read directory denied: %s", st)
		return 0, false, Convert(st.Err)
	}

	// Whether the caller may see entry attributes is a separate question
	// from whether they may list names; a denial here degrades the
	// listing instead of failing it. The probe only runs when the caller
	// asked for attributes at all.
	attrAllowed := true
	if attrmask != 0 {
		attrMask := fsal.ModeReadOK | fsal.ModeExecOK | fsal.PermListDir | fsal.PermExecute
		attrAllowed = !e.sub.TestAccess(ctx, op.Creds, attrMask, nil, nil).IsError()
	}

	var (
		iterErr fsal.Status
		stopped bool
	)

	eod, st := e.sub.Readdir(ctx, cookie, func(name string, entryCookie uint64) bool {
		sub, lst := e.sub.Lookup(ctx, name)
		if lst.IsError() {
			if lst.Is(fsal.ErrXDev) {
				logger.Debug("skipping entry %q on another filesystem", name)
				return true
			}
			logger.Info("lookup of %q during readdir failed: %s", name, lst)
			iterErr = lst
			return false
		}

		child, nst := NewEntry(ctx, sub)
		if nst.IsError() {
			sub.PutRef()
			logger.Info("failed to cache %q during readdir: %s", name, nst)
			iterErr = nst
			return false
		}

		attrs := child.Attributes()
		params := &DirentParams{
			Opaque:      opaque,
			Name:        name,
			Cookie:      entryCookie,
			AttrAllowed: attrAllowed,
		}

		cont, errno := cb(params, child, &attrs, CBOriginal)
		if errno == fsal.ErrCrossJunction {
			cont, errno = e.crossJunction(op, params, child, cb)
		}

		if err := attrs.ACL.Release(); err != nil {
			logger.Error("releasing readdir attribute copy acl: %v", err)
		}
		child.Unref()

		if errno != fsal.ErrNone {
			iterErr = fsal.Stat(errno)
			return false
		}
		if params.InResult {
			nbFound++
		}
		if !cont {
			stopped = true
			return false
		}
		return true
	})

	if iterErr.IsError() {
		return nbFound, false, Convert(iterErr.Err)
	}
	if st.IsError() {
		e.killOnStale(st)
		return nbFound, false, Convert(st.Err)
	}
	if stopped {
		// The consumer ran out of buffer; there is more to read
		return nbFound, false, StatusSuccess
	}

	if nbFound == 0 {
		logger.Debug("readdir found no entries (empty directory or end of listing)")
	}
	return nbFound, eod, StatusSuccess
}

// crossJunction re-presents a directory entry as the root of the export
// mounted on it. Resolution failures are reported to the consumer with
// CBProblem and nil entry/attributes.
func (e *Entry) crossJunction(op *OpContext, params *DirentParams, child *Entry, cb ReaddirFunc) (bool, fsal.Errno) {
	junction := child.junctionTarget()
	if junction == nil {
		logger.Error("junction on %q became stale", params.Name)
		cont, _ := cb(params, nil, nil, CBProblem)
		return cont, fsal.ErrStale
	}

	root, st := junction.RootEntry(op.ctx())
	if st.IsError() {
		logger.Error("failed to get root for export %d (%s): %s",
			junction.ID, junction.Path, st)
		junction.Unref()
		cont, _ := cb(params, nil, nil, CBProblem)
		return cont, st.Err
	}

	attrs := root.Attributes()
	cont, errno := cb(params, root, &attrs, CBJunction)

	if err := attrs.ACL.Release(); err != nil {
		logger.Error("releasing junction attribute copy acl: %v", err)
	}
	root.Unref()
	junction.Unref()
	return cont, errno
}
