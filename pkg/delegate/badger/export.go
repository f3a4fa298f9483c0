package badger

import (
	"context"
	"strings"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// Export is the store's per-export capability surface.
type Export struct {
	s *Store
}

// NewExport wraps the store for use as a cache-layer delegate.
func NewExport(s *Store) *Export {
	return &Export{s: s}
}

// Supports probes an optional capability.
func (x *Export) Supports(c fsal.Capability) bool {
	switch c {
	case fsal.CapSetTime:
		return !x.s.opts.DisableSetTime
	case fsal.CapReopenMethod:
		return !x.s.opts.DisableReopen
	case fsal.CapLinkPermissionChecks:
		return x.s.opts.LinkChecks
	default:
		return false
	}
}

// DynamicInfo reports the configured capacity and current usage.
func (x *Export) DynamicInfo(ctx context.Context, obj fsal.ObjectOps) (*fsal.DynamicInfo, fsal.Status) {
	x.s.mu.Lock()
	used := x.s.usedBytes
	x.s.mu.Unlock()

	var free uint64
	if used < x.s.opts.TotalBytes {
		free = x.s.opts.TotalBytes - used
	}
	return &fsal.DynamicInfo{
		TotalBytes: x.s.opts.TotalBytes,
		FreeBytes:  free,
		AvailBytes: free,
		TotalFiles: x.s.opts.TotalFiles,
		FreeFiles:  x.s.opts.TotalFiles,
		AvailFiles: x.s.opts.TotalFiles,
	}, fsal.OK()
}

// LookupPath resolves an absolute path to a handle, walking from the root.
func (x *Export) LookupPath(ctx context.Context, path string) (fsal.ObjectOps, fsal.Status) {
	var cur fsal.ObjectOps = x.s.Root()
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		next, st := cur.Lookup(ctx, part)
		cur.PutRef()
		if st.IsError() {
			return nil, st
		}
		cur = next
	}
	return cur, fsal.OK()
}
