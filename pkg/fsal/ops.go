package fsal

import "context"

// OpenFlags is the open state (or requested open mode) of a regular file.
// OpenClosed is the zero value; OpenRead|OpenWrite means read-write. The
// flag bits beyond the mode pair qualify a request and are never part of the
// reported state.
type OpenFlags uint32

const (
	OpenClosed OpenFlags = 0
	OpenRead   OpenFlags = 1 << iota
	OpenWrite

	// OpenSync requests synchronous (stable) writes on the descriptor
	OpenSync

	// OpenReclaim marks a post-restart reclaim open; filtered out before
	// comparing against current state
	OpenReclaim
)

const OpenReadWrite = OpenRead | OpenWrite

// Mode strips the qualifier flags, leaving the read/write mode pair.
func (f OpenFlags) Mode() OpenFlags {
	return f & OpenReadWrite
}

// Satisfies reports whether a descriptor open with flags f can serve a
// request for want: read-write serves everything, closed serves nothing,
// otherwise the modes must match.
func (f OpenFlags) Satisfies(want OpenFlags) bool {
	cur := f.Mode()
	if cur == OpenClosed {
		return false
	}
	if cur == OpenReadWrite {
		return true
	}
	return cur == want.Mode()
}

// IOInfo carries the extended layout arguments of the read_plus/write_plus
// variants (sparse holes, application data blocks). The cache layer passes
// it through untouched.
type IOInfo struct {
	// Content distinguishes data from holes; back-end specific values
	Content uint32

	// Offset and Length describe the region the info applies to
	Offset uint64
	Length uint64
}

// LockKind is the lock operation requested through LockOp.
type LockKind int

const (
	LockRead LockKind = iota
	LockWrite
	LockUnlock
	LockTest
)

// LockRequest describes a byte-range lock operation.
type LockRequest struct {
	Kind   LockKind
	Owner  uint64
	Offset uint64
	Length uint64

	// Block requests a blocking lock; delegates that cannot block return
	// ErrBlocked instead
	Block bool
}

// DirentFunc is the delegate-driven iteration primitive for Readdir. It is
// invoked once per entry with the entry name and its continuation cookie,
// and returns false to stop the iteration early.
type DirentFunc func(name string, cookie uint64) bool

// ObjectOps is the capability set a delegate exposes per object handle.
//
// This is the seam between the cache layer and a storage back end: the cache
// wraps one ObjectOps per object, forwards operations to it, and caches the
// attribute snapshots it returns. Implementations must be safe for
// concurrent use; blocking in any method blocks only the calling goroutine.
//
// Reference counting: handles returned by Lookup, Create, Mkdir, Symlink and
// Mknode carry one reference owned by the caller. GetRef/PutRef adjust the
// count explicitly; a handle is destroyed by its back end when the count
// reaches zero.
type ObjectOps interface {
	// Type returns the immutable object type.
	Type() ObjectType

	// Getattrs fetches a fresh attribute snapshot from the back end.
	// The returned ACL reference (if any) is owned by the caller.
	Getattrs(ctx context.Context) (*Attributes, Status)

	// Setattrs applies the fields selected by attr.Mask.
	Setattrs(ctx context.Context, creds Credentials, attr *Attributes) Status

	// TestAccess evaluates the requested access mask against the given
	// credentials, using ACL evaluation when the object carries an ACL
	// and mode-bit evaluation otherwise. The allowed/denied breakdowns
	// are optional; pass nil when only the verdict matters.
	TestAccess(ctx context.Context, creds Credentials, mask AccessMask, allowed, denied *AccessMask) Status

	// Open, Reopen, Close and Status manage the descriptor state of a
	// regular file. Reopen atomically switches the open mode without an
	// intermediate close and is only called when the export advertises
	// CapReopenMethod.
	Open(ctx context.Context, flags OpenFlags) Status
	Reopen(ctx context.Context, flags OpenFlags) Status
	Close(ctx context.Context) Status
	OpenStatus(ctx context.Context) OpenFlags

	// Read and Write move data at an absolute offset. Write's stable
	// argument is in-out: it requests a stable write and reports whether
	// the back end honored it in-line.
	Read(ctx context.Context, offset uint64, buf []byte) (n int, eof bool, st Status)
	ReadPlus(ctx context.Context, offset uint64, buf []byte, info *IOInfo) (n int, eof bool, st Status)
	Write(ctx context.Context, offset uint64, data []byte, stable *bool) (n int, st Status)
	WritePlus(ctx context.Context, offset uint64, data []byte, stable *bool, info *IOInfo) (n int, st Status)

	// Commit flushes the given range to stable storage.
	Commit(ctx context.Context, offset, length uint64) Status

	// Namespace operations. All are relative to this handle, which must
	// be a directory except for Link's receiver (the file being linked).
	Lookup(ctx context.Context, name string) (ObjectOps, Status)
	Create(ctx context.Context, name string, attr *Attributes) (ObjectOps, Status)
	Mkdir(ctx context.Context, name string, attr *Attributes) (ObjectOps, Status)
	Symlink(ctx context.Context, name, target string, attr *Attributes) (ObjectOps, Status)
	Mknode(ctx context.Context, name string, t ObjectType, dev *DeviceSpec, attr *Attributes) (ObjectOps, Status)
	Link(ctx context.Context, destDir ObjectOps, name string) Status
	Unlink(ctx context.Context, name string) Status
	Rename(ctx context.Context, srcDir ObjectOps, oldName string, destDir ObjectOps, newName string) Status

	// Readlink returns the target of a symlink. refresh asks the back
	// end to bypass any content cache it keeps.
	Readlink(ctx context.Context, refresh bool) (string, Status)

	// Readdir iterates entries starting at the continuation cookie,
	// invoking cb per entry. Returns whether end-of-directory was
	// reached.
	Readdir(ctx context.Context, cookie uint64, cb DirentFunc) (eod bool, st Status)

	// LockOp performs a byte-range lock operation.
	LockOp(ctx context.Context, req LockRequest) Status

	// GetRef and PutRef adjust the handle reference count.
	GetRef()
	PutRef()
}

// Capability names an optional back-end feature the cache layer probes
// through Export.Supports before relying on it.
type Capability int

const (
	// CapSetTime: the back end can set timestamps (server- or
	// client-supplied). Without it, any time change is rejected.
	CapSetTime Capability = iota

	// CapReopenMethod: the back end can switch open modes atomically
	CapReopenMethod

	// CapLinkPermissionChecks: the back end performs its own permission
	// checking on link, so the cache layer skips its explicit check
	CapLinkPermissionChecks
)

// DynamicInfo is the statfs result: current capacity and usage.
type DynamicInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
}

// Export is the per-export capability surface a delegate provides alongside
// its object handles.
type Export interface {
	// Supports probes an optional feature.
	Supports(c Capability) bool

	// DynamicInfo returns current filesystem usage for the filesystem
	// containing obj.
	DynamicInfo(ctx context.Context, obj ObjectOps) (*DynamicInfo, Status)

	// LookupPath resolves an absolute path to a handle; used to obtain
	// export roots.
	LookupPath(ctx context.Context, path string) (ObjectOps, Status)
}
