package cache

import (
	"time"

	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// IODirection selects the transfer kind for ReadWrite.
type IODirection int

const (
	IORead IODirection = iota
	IOReadPlus
	IOWrite
	IOWritePlus
)

// IORequest describes one read or write against a regular file.
type IORequest struct {
	Direction IODirection

	// Offset is the absolute file position
	Offset uint64

	// Buffer receives read data or supplies write data; its length is
	// the requested transfer size
	Buffer []byte

	// Sync requests stable-write semantics. The export's StableWrites
	// option forces it on for writes regardless of the caller's value.
	Sync bool

	// Info carries the extended layout arguments of the plus variants
	Info *fsal.IOInfo
}

// IOResult reports the outcome of a transfer.
type IOResult struct {
	// BytesMoved is the amount actually read or written
	BytesMoved int

	// EOF reports whether a read hit end of file
	EOF bool

	// Sync reports whether a write ended up stable (honored in-line by
	// the delegate or covered by an explicit commit)
	Sync bool
}

func (op *OpContext) budget() *OpenBudget {
	if op.Export == nil {
		return nil
	}
	return op.Export.Budget
}

// open drives the descriptor state machine toward the requested mode.
//
// A compatible descriptor is left alone. An incompatible one is switched
// via the delegate's reopen method when the export advertises one, else
// closed and re-opened. Every CLOSED-to-OPEN transition reserves a slot in
// the process-wide open budget; exhaustion is reported as ErrDelay without
// blocking, for the client to retry.
func (e *Entry) open(op *OpContext, flags fsal.OpenFlags) fsal.Status {
	ctx := op.ctx()

	if e.otype != fsal.TypeRegular {
		return fsal.Stat(fsal.ErrBadType)
	}

	// Reclaim is a request qualifier, never part of descriptor state
	flags &^= fsal.OpenReclaim

	current := e.sub.OpenStatus(ctx)

	if current != fsal.OpenReadWrite && current != fsal.OpenClosed &&
		current.Mode() != flags.Mode() {
		// Flags are insufficient; need to re-open
		var st fsal.Status
		closed := false
		if op.Supports(fsal.CapReopenMethod) {
			st = e.sub.Reopen(ctx, flags)
		} else {
			st = e.sub.Close(ctx)
			closed = true
		}
		if st.IsError() && !st.Is(fsal.ErrNotOpened) {
			e.killOnStale(st)
			return st
		}
		if !st.IsError() && closed {
			e.releaseSlot()
		}

		current = e.sub.OpenStatus(ctx)
	}

	if current == fsal.OpenClosed {
		b := op.budget()
		if b != nil && !b.TryAcquire() {
			// Let the client try again after descriptors are
			// reaped
			return fsal.Stat(fsal.ErrDelay)
		}

		st := e.sub.Open(ctx, flags)
		if st.IsError() {
			if b != nil {
				b.Release()
			}
			e.killOnStale(st)
			return st
		}

		if b != nil {
			e.slot.Store(b)
			logger.Debug("entry %p: openflags=%d, open_fd_count=%d",
				e, flags, b.InUse())
		}
	}

	return fsal.OK()
}

// close closes the delegate descriptor if open, returning its budget slot.
func (e *Entry) close(op *OpContext) fsal.Status {
	ctx := op.ctx()

	if e.otype != fsal.TypeRegular {
		logger.Debug("entry %p is not a regular file", e)
		return fsal.Stat(fsal.ErrBadType)
	}

	if !e.IsOpen(ctx) {
		return fsal.OK()
	}

	st := e.sub.Close(ctx)
	if !st.IsError() {
		e.releaseSlot()
	}
	e.killOnStale(st)
	return st
}

// Open opens the file for the given access mode.
func (e *Entry) Open(op *OpContext, flags fsal.OpenFlags) Status {
	return Convert(e.open(op, flags).Err)
}

// Close closes the file's delegate descriptor. Closing a file that is not
// open succeeds.
func (e *Entry) Close(op *OpContext) Status {
	return Convert(e.close(op).Err)
}

// ReadWrite performs one read or write, managing the descriptor state
// around the transfer.
//
// Writes honor stable-write semantics: when the export forces stable writes
// or the caller requested sync, and the delegate did not honor sync in-line,
// an explicit commit covering the written range is issued afterward. A
// descriptor opened just for this call is closed before returning. After a
// successful write the cached attributes are refreshed; a successful read
// only touches the cached atime.
func (e *Entry) ReadWrite(op *OpContext, req *IORequest) (*IOResult, Status) {
	ctx := op.ctx()
	res := &IOResult{}

	var openflags fsal.OpenFlags
	switch req.Direction {
	case IORead, IOReadPlus:
		openflags = fsal.OpenRead
	default:
		// Pretend the caller requested a stable write if the export
		// forces commit semantics. OpenSync alone carries no
		// guarantee the delegate honors it; the commit fallback
		// below covers that.
		if op.Export != nil && op.Export.Options.StableWrites {
			req.Sync = true
		}
		openflags = fsal.OpenWrite
		if req.Sync {
			openflags |= fsal.OpenSync
		}
	}

	// IO is done only on regular files
	if e.otype != fsal.TypeRegular {
		if e.otype == fsal.TypeDirectory {
			return res, StatusIsDirectory
		}
		return res, StatusBadType
	}

	opened := false
	loflags := e.sub.OpenStatus(ctx)
	for !loflags.Satisfies(openflags) {
		if st := e.open(op, openflags); st.IsError() {
			return res, Convert(st.Err)
		}
		opened = true
		loflags = e.sub.OpenStatus(ctx)
	}

	var ioStatus fsal.Status
	switch req.Direction {
	case IORead:
		res.BytesMoved, res.EOF, ioStatus = e.sub.Read(ctx, req.Offset, req.Buffer)
	case IOReadPlus:
		res.BytesMoved, res.EOF, ioStatus = e.sub.ReadPlus(ctx, req.Offset, req.Buffer, req.Info)
	case IOWrite, IOWritePlus:
		inlineSync := req.Sync
		if req.Direction == IOWrite {
			res.BytesMoved, ioStatus = e.sub.Write(ctx, req.Offset, req.Buffer, &inlineSync)
		} else {
			res.BytesMoved, ioStatus = e.sub.WritePlus(ctx, req.Offset, req.Buffer, &inlineSync, req.Info)
		}

		// The unstable write is complete. If it was supposed to be
		// stable and the delegate didn't make it so in-line, sync the
		// written range now.
		if req.Sync && loflags&fsal.OpenSync == 0 && !inlineSync &&
			!ioStatus.IsError() {
			ioStatus = e.sub.Commit(ctx, req.Offset, uint64(len(req.Buffer)))
			res.Sync = !ioStatus.IsError()
		} else {
			res.Sync = inlineSync
		}
	}

	logger.Debug("io returned %s, asked_size=%d, effective_size=%d",
		ioStatus, len(req.Buffer), res.BytesMoved)

	if ioStatus.IsError() {
		if ioStatus.Is(fsal.ErrDelay) {
			logger.Info("delegate io returned DELAY")
		}

		res.BytesMoved = 0

		if ioStatus.Is(fsal.ErrStale) {
			// The object is being discarded entirely; don't
			// bother closing
			e.Kill()
			return res, Convert(ioStatus.Err)
		}

		if !ioStatus.Is(fsal.ErrNotOpened) &&
			e.sub.OpenStatus(ctx) != fsal.OpenClosed {
			logger.Debug("closing entry %p after io error", e)

			// Best-effort: the primary result is already an
			// error, a close failure only gets logged
			if st := e.close(op); st.IsError() {
				logger.Error("error closing file after io error: %s", st)
			}
		}

		return res, Convert(ioStatus.Err)
	}

	if opened {
		if st := e.close(op); st.IsError() {
			logger.Info("closing temporarily opened entry: %s", st)
			return res, Convert(st.Err)
		}
	}

	switch req.Direction {
	case IOWrite, IOWritePlus:
		// Size and mtime must reflect the new state
		if st := e.RefreshAttrs(ctx); st.IsError() {
			return res, Convert(st.Err)
		}
	case IORead, IOReadPlus:
		e.attrMu.Lock()
		e.attrs.Atime = time.Now()
		e.attrMu.Unlock()
	}

	return res, StatusSuccess
}

// Commit flushes a range of the file to stable storage, opening (and then
// closing) a descriptor for the duration when none is open.
func (e *Entry) Commit(op *OpContext, offset, length uint64) Status {
	ctx := op.ctx()

	if length > ^uint64(0)-offset {
		return StatusInvalidArgument
	}

	opened := false
	if !e.IsOpen(ctx) {
		logger.Debug("entry %p: opening for commit", e)
		if st := e.open(op, fsal.OpenWrite); st.IsError() {
			return Convert(st.Err)
		}
		opened = true
	}

	st := e.sub.Commit(ctx, offset, length)
	e.killOnStale(st)

	if opened {
		if cst := e.close(op); cst.IsError() {
			logger.Warn("error closing after commit: %s", cst)
		}
	}

	return Convert(st.Err)
}

// Statfs returns current usage of the filesystem containing the object.
func (e *Entry) Statfs(op *OpContext) (*fsal.DynamicInfo, Status) {
	info, st := op.Export.Delegate.DynamicInfo(op.ctx(), e.sub)
	if st.IsError() {
		return nil, Convert(st.Err)
	}

	logger.Debug("statfs: total_bytes=%d free_bytes=%d avail_bytes=%d total_files=%d free_files=%d avail_files=%d",
		info.TotalBytes, info.FreeBytes, info.AvailBytes,
		info.TotalFiles, info.FreeFiles, info.AvailFiles)
	return info, StatusSuccess
}
