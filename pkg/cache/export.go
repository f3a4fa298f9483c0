// Package cache is the metadata/attribute caching and permission-checking
// layer between a file-serving front end and storage delegates.
//
// Each cached object is an Entry wrapping one delegate handle
// (fsal.ObjectOps). Operations follow a fixed pipeline: refresh the cached
// attributes, check permissions, call the delegate, refresh again, and map
// the delegate's fine-grained status into the coarse cache Status domain.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// ExportOptions are per-export behavior switches supplied by configuration.
type ExportOptions struct {
	// StableWrites forces every write through this export to be treated
	// as synchronous, issuing a covering commit when the delegate does
	// not honor in-line sync.
	StableWrites bool
}

// Export is one exported namespace: a delegate capability surface, a root
// path, behavior options, and a share of the process-wide open budget.
//
// Exports are reference counted because directory entries can point at them
// across junctions: a reader that finds a junction export under the
// directory's state lock must take a reference before dropping the lock and
// release it after use.
type Export struct {
	// ID distinguishes exports in logs and handles
	ID uint16

	// Path is the absolute root path inside the delegate's namespace
	Path string

	// Delegate is the back end serving this export
	Delegate fsal.Export

	// Options are the configured behavior switches
	Options ExportOptions

	// Budget is the process-wide open-file budget (shared, not owned)
	Budget *OpenBudget

	refs  atomic.Int64
	ready atomic.Bool

	rootMu sync.Mutex
	root   *Entry
}

// NewExport builds a ready export holding one reference owned by the caller.
func NewExport(id uint16, path string, delegate fsal.Export, opts ExportOptions, budget *OpenBudget) *Export {
	e := &Export{
		ID:       id,
		Path:     path,
		Delegate: delegate,
		Options:  opts,
		Budget:   budget,
	}
	e.refs.Store(1)
	e.ready.Store(true)
	return e
}

// Ready reports whether the export is still serving requests. A junction
// whose target export is no longer ready is treated as stale.
func (e *Export) Ready() bool {
	return e.ready.Load()
}

// Shutdown marks the export unavailable. Existing references stay valid;
// new junction crossings fail stale.
func (e *Export) Shutdown() {
	e.ready.Store(false)
}

// Ref takes an additional reference.
func (e *Export) Ref() {
	e.refs.Add(1)
}

// Unref drops one reference.
func (e *Export) Unref() {
	if n := e.refs.Add(-1); n < 0 {
		logger.Error("export %d: reference count went negative", e.ID)
	}
}

// RootEntry returns the export's root directory entry with a reference
// owned by the caller. The root is resolved through the delegate on first
// use and cached afterward.
func (e *Export) RootEntry(ctx context.Context) (*Entry, fsal.Status) {
	e.rootMu.Lock()
	defer e.rootMu.Unlock()

	if e.root == nil {
		sub, st := e.Delegate.LookupPath(ctx, e.Path)
		if st.IsError() {
			logger.Error("export %d: failed to resolve root %s: %s", e.ID, e.Path, st)
			return nil, st
		}
		root, st := NewEntry(ctx, sub)
		if st.IsError() {
			sub.PutRef()
			return nil, st
		}
		root.MarkExportRoot()
		e.root = root
	}

	e.root.Ref()
	return e.root, fsal.OK()
}

// OpContext carries the per-operation request state every cache operation
// needs: cancellation, caller credentials, and the export the request is
// scoped to.
type OpContext struct {
	Context context.Context
	Creds   fsal.Credentials
	Export  *Export
}

func (c *OpContext) ctx() context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}

// Supports probes the export delegate for an optional capability.
func (c *OpContext) Supports(cap fsal.Capability) bool {
	return c.Export != nil && c.Export.Delegate.Supports(cap)
}
