package memory

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

// Supports probes an optional capability. The store can do everything
// unless configured otherwise.
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

// DynamicInfo reports the store's synthetic capacity and current usage.
func (x *Export) DynamicInfo(ctx context.Context, obj fsal.ObjectOps) (*fsal.DynamicInfo, fsal.Status) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()

	free := x.s.opts.TotalBytes - x.s.usedBytes
	used := uint64(len(x.s.nodes))
	var freeFiles uint64
	if used < x.s.opts.TotalFiles {
		freeFiles = x.s.opts.TotalFiles - used
	}
	return &fsal.DynamicInfo{
		TotalBytes: x.s.opts.TotalBytes,
		FreeBytes:  free,
		AvailBytes: free,
		TotalFiles: x.s.opts.TotalFiles,
		FreeFiles:  freeFiles,
		AvailFiles: freeFiles,
	}, fsal.OK()
}

// LookupPath resolves an absolute path to a handle, walking from the root.
func (x *Export) LookupPath(ctx context.Context, path string) (fsal.ObjectOps, fsal.Status) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()

	n := x.s.nodes[x.s.rootID]
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		if n.otype != fsal.TypeDirectory {
			return nil, fsal.Stat(fsal.ErrNotDir)
		}
		id, ok := n.children[part]
		if !ok {
			return nil, fsal.Stat(fsal.ErrNoEnt)
		}
		n = x.s.nodes[id]
	}
	return x.s.newHandle(n), fsal.OK()
}
