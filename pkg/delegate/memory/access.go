package memory

import (
	"context"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// TestAccess evaluates the requested access mask against the caller's
// credentials, over the node's current attributes.
func (h *Handle) TestAccess(ctx context.Context, creds fsal.Credentials, mask fsal.AccessMask, allowed, denied *fsal.AccessMask) fsal.Status {
	h.s.mu.RLock()
	if h.n.unlinked {
		h.s.mu.RUnlock()
		return fsal.Stat(fsal.ErrStale)
	}
	attrs := h.n.snapshot()
	h.s.mu.RUnlock()

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
