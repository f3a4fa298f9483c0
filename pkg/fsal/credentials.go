package fsal

// Credentials is the caller identity supplied by the request context for
// every operation. The cache layer never stores credentials; identity
// squashing (if any) happens before they reach this package.
type Credentials struct {
	// UID is the effective user id. Uid 0 bypasses permission checks.
	UID uint32

	// GID is the effective primary group id
	GID uint32

	// Groups lists supplementary group ids
	Groups []uint32
}

// Privileged reports whether the caller bypasses permission checking.
func (c Credentials) Privileged() bool {
	return c.UID == 0
}

// InGroup reports whether gid is the caller's primary group or one of its
// supplementary groups.
func (c Credentials) InGroup(gid uint32) bool {
	if c.GID == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}
