package fsal

import (
	"fmt"
	"sync/atomic"
)

// ACEType distinguishes allow entries from deny entries.
type ACEType int

const (
	// ACEAllow grants the permissions in the entry
	ACEAllow ACEType = iota

	// ACEDeny withholds the permissions in the entry
	ACEDeny
)

// ACEWho identifies the principal an entry applies to.
type ACEWho int

const (
	// WhoUser matches a specific uid
	WhoUser ACEWho = iota

	// WhoGroup matches a specific gid (primary or supplementary)
	WhoGroup

	// WhoOwner matches the object's current owner (owner@)
	WhoOwner

	// WhoOwnerGroup matches the object's current group (group@)
	WhoOwnerGroup

	// WhoEveryone matches every caller (everyone@)
	WhoEveryone
)

// ACE is one access control entry: a principal, a type, and a permission set.
type ACE struct {
	Type ACEType
	Who  ACEWho

	// ID is the uid (WhoUser) or gid (WhoGroup); ignored for the
	// special principals.
	ID uint32

	// Perms is the set of ACE permission bits this entry allows or denies
	Perms AccessMask
}

// ACL is an ordered, reference-counted list of access control entries.
//
// ACLs are shared between attribute snapshots; every snapshot holding one
// owns a reference, released when the snapshot is replaced or refreshed.
// Release of an already-released ACL is reported as an error rather than
// corrupting the count.
type ACL struct {
	ACEs []ACE

	refs atomic.Int32
}

// NewACL builds an ACL holding one reference owned by the caller.
func NewACL(aces []ACE) *ACL {
	a := &ACL{ACEs: aces}
	a.refs.Store(1)
	return a
}

// Ref takes an additional reference and returns the same ACL for chaining.
func (a *ACL) Ref() *ACL {
	if a == nil {
		return nil
	}
	a.refs.Add(1)
	return a
}

// Release drops one reference. Releasing a nil ACL is a no-op. Returns an
// error when the count was already zero, so callers can log the defect
// without crashing the operation.
func (a *ACL) Release() error {
	if a == nil {
		return nil
	}
	if n := a.refs.Add(-1); n < 0 {
		a.refs.Add(1)
		return fmt.Errorf("acl released more times than referenced")
	}
	return nil
}

// Refs returns the current reference count. Intended for tests and
// leak diagnostics.
func (a *ACL) Refs() int32 {
	if a == nil {
		return 0
	}
	return a.refs.Load()
}

// Evaluate walks the entries in order and decides whether creds hold every
// ACE permission bit in required, given the object's owner and group. The
// first entry mentioning a still-undecided bit decides it; bits never
// mentioned are denied.
//
// Returns the granted and denied subsets of required.
func (a *ACL) Evaluate(creds Credentials, owner, group uint32, required AccessMask) (allowed, denied AccessMask) {
	required = required.ACEBits()
	undecided := required

	for _, ace := range a.ACEs {
		if undecided == 0 {
			break
		}
		if !ace.matches(creds, owner, group) {
			continue
		}
		hit := ace.Perms & undecided
		if hit == 0 {
			continue
		}
		switch ace.Type {
		case ACEAllow:
			allowed |= hit
		case ACEDeny:
			denied |= hit
		}
		undecided &^= hit
	}

	// Unmentioned bits are implicitly denied
	denied |= undecided
	return allowed, denied
}

func (ace *ACE) matches(creds Credentials, owner, group uint32) bool {
	switch ace.Who {
	case WhoEveryone:
		return true
	case WhoOwner:
		return creds.UID == owner
	case WhoOwnerGroup:
		return creds.InGroup(group)
	case WhoUser:
		return creds.UID == ace.ID
	case WhoGroup:
		return creds.InGroup(ace.ID)
	default:
		return false
	}
}
