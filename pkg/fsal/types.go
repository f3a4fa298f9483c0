// Package fsal defines the type vocabulary shared by the attribute cache
// layer and the storage delegates it wraps: object types, attribute
// snapshots, ACLs, credentials, access masks, status codes, and the delegate
// operation interface.
//
// This package deliberately has no third-party imports so that delegates and
// front ends can share it without pulling in each other's dependencies.
package fsal

import "time"

// ObjectType identifies the kind of filesystem object a handle refers to.
// The type of an object is fixed at creation and never changes.
type ObjectType int

const (
	// TypeNone is the zero value and never refers to a real object.
	TypeNone ObjectType = iota

	// TypeRegular is a regular file
	TypeRegular

	// TypeDirectory is a directory
	TypeDirectory

	// TypeSymlink is a symbolic link
	TypeSymlink

	// TypeSocket is a Unix domain socket
	TypeSocket

	// TypeFIFO is a named pipe
	TypeFIFO

	// TypeCharDevice is a character device node
	TypeCharDevice

	// TypeBlockDevice is a block device node
	TypeBlockDevice

	// TypeExtendedAttr is an extended attribute pseudo-object.
	// It exists only for back ends that expose xattrs as objects;
	// it is never creatable through this layer.
	TypeExtendedAttr
)

// String returns a short human-readable name for the object type.
func (t ObjectType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeSocket:
		return "socket"
	case TypeFIFO:
		return "fifo"
	case TypeCharDevice:
		return "chardev"
	case TypeBlockDevice:
		return "blockdev"
	case TypeExtendedAttr:
		return "xattr"
	default:
		return "unknown"
	}
}

// Creatable reports whether the type may be requested in a create operation.
func (t ObjectType) Creatable() bool {
	switch t {
	case TypeRegular, TypeDirectory, TypeSymlink,
		TypeSocket, TypeFIFO, TypeCharDevice, TypeBlockDevice:
		return true
	default:
		return false
	}
}

// AttrMask is a bitmask describing which fields of an attribute snapshot are
// populated (on results) or requested to change (on setattr).
type AttrMask uint32

const (
	// AttrMode covers the permission bits (including setuid/setgid/sticky)
	AttrMode AttrMask = 1 << iota

	// AttrOwner covers the owner uid
	AttrOwner

	// AttrGroup covers the group gid
	AttrGroup

	// AttrSize covers the file size (a setattr with AttrSize truncates)
	AttrSize

	// AttrAtime covers an explicit access time value
	AttrAtime

	// AttrMtime covers an explicit modification time value
	AttrMtime

	// AttrCtime covers the change time (results only; never settable)
	AttrCtime

	// AttrChange covers the change counter (results only)
	AttrChange

	// AttrACL covers the access control list
	AttrACL

	// AttrAtimeServer requests the server set atime to its current time
	AttrAtimeServer

	// AttrMtimeServer requests the server set mtime to its current time
	AttrMtimeServer

	// AttrCreation covers the creation time
	AttrCreation

	// AttrSpaceReserved requests space reservation (treated like a size
	// change for type and permission checking)
	AttrSpaceReserved
)

// Has reports whether all bits in want are set.
func (m AttrMask) Has(want AttrMask) bool {
	return m&want == want
}

// HasAny reports whether any bit in want is set.
func (m AttrMask) HasAny(want AttrMask) bool {
	return m&want != 0
}

// Mode bit constants, in the usual POSIX octal layout.
const (
	ModeSetuid uint32 = 0o4000
	ModeSetgid uint32 = 0o2000
	ModeSticky uint32 = 0o1000

	ModeUserExec  uint32 = 0o100
	ModeGroupExec uint32 = 0o010
	ModeOtherExec uint32 = 0o001

	// ModeAnyExec is set when any of the three execute bits is set
	ModeAnyExec uint32 = ModeUserExec | ModeGroupExec | ModeOtherExec
)

// DeviceSpec carries the device numbers for block and character nodes.
type DeviceSpec struct {
	Major uint32
	Minor uint32
}

// Attributes is a point-in-time snapshot of object metadata.
//
// Mask indicates which fields are populated (or, when passed to Setattrs,
// which fields are being changed). The change counter strictly increases on
// every successful mutation of the underlying object; callers that observe a
// delegate reporting no numeric change must bump it themselves to preserve
// monotonicity.
type Attributes struct {
	Mask AttrMask

	Type     ObjectType
	Mode     uint32
	Owner    uint32
	Group    uint32
	Size     uint64
	NumLinks uint32
	FileID   uint64
	RawDev   DeviceSpec

	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time
	Creation time.Time

	// Change is the monotonic per-object version counter
	Change uint64

	// ACL is a reference-counted access control list, or nil when the
	// object is governed by mode bits alone. Ownership of the reference
	// follows the snapshot: replacing a snapshot releases the old ACL.
	ACL *ACL
}

// Clone returns a copy of the attributes with an additional reference taken
// on the ACL (if any), so the copy can outlive the original snapshot.
func (a *Attributes) Clone() Attributes {
	out := *a
	if out.ACL != nil {
		out.ACL = out.ACL.Ref()
	}
	return out
}
