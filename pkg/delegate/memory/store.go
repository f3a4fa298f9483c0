// Package memory is the in-memory storage delegate: a complete filesystem
// tree held in process memory, suitable for tests, development, and
// ephemeral exports.
//
// The store is the authority for attributes; handles returned to the cache
// layer read and mutate store state under one store-wide lock. Every
// successful mutation advances the affected node's change counter.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// Options configures a store.
type Options struct {
	// RootMode is the permission bits of the root directory (default
	// 0755)
	RootMode uint32 `mapstructure:"root_mode"`

	// RootOwner and RootGroup own the root directory
	RootOwner uint32 `mapstructure:"root_owner"`
	RootGroup uint32 `mapstructure:"root_group"`

	// TotalBytes is the synthetic filesystem capacity reported by statfs
	// (default 1 GiB)
	TotalBytes uint64 `mapstructure:"total_bytes"`

	// TotalFiles is the synthetic inode capacity (default 1 << 20)
	TotalFiles uint64 `mapstructure:"total_files"`

	// DisableSetTime withholds the set-time capability so timestamp
	// changes are rejected upstream
	DisableSetTime bool `mapstructure:"disable_set_time"`

	// DisableReopen withholds the atomic reopen capability, forcing the
	// close-then-open downgrade path upstream
	DisableReopen bool `mapstructure:"disable_reopen"`

	// LinkChecks advertises that this delegate performs its own
	// permission checking on link
	LinkChecks bool `mapstructure:"link_checks"`
}

// Store is an in-memory filesystem tree.
type Store struct {
	mu     sync.RWMutex
	nodes  map[uint64]*node
	nextID uint64
	rootID uint64
	opts   Options

	usedBytes uint64
}

// node is one filesystem object. All fields are guarded by the store lock.
type node struct {
	id    uint64
	otype fsal.ObjectType

	mode  uint32
	owner uint32
	group uint32
	acl   *fsal.ACL

	atime    time.Time
	mtime    time.Time
	ctime    time.Time
	creation time.Time
	change   uint64

	nlinks uint32
	rawDev fsal.DeviceSpec

	// regular files
	data []byte
	open fsal.OpenFlags

	// symlinks
	target string

	// directories
	children map[string]uint64

	// byte-range locks currently held
	locks []lockRec

	// unlinked marks a node whose last name is gone; handles still
	// pointing at it observe stale
	unlinked bool
}

// lockRec is one byte-range lock held on a node.
type lockRec struct {
	owner  uint64
	kind   fsal.LockKind
	offset uint64
	length uint64
}

// New builds a store containing only a root directory.
func New(opts Options) *Store {
	if opts.RootMode == 0 {
		opts.RootMode = 0o755
	}
	if opts.TotalBytes == 0 {
		opts.TotalBytes = 1 << 30
	}
	if opts.TotalFiles == 0 {
		opts.TotalFiles = 1 << 20
	}

	s := &Store{
		nodes: make(map[uint64]*node),
		opts:  opts,
	}

	now := time.Now()
	root := &node{
		id:       s.allocID(),
		otype:    fsal.TypeDirectory,
		mode:     opts.RootMode,
		owner:    opts.RootOwner,
		group:    opts.RootGroup,
		atime:    now,
		mtime:    now,
		ctime:    now,
		creation: now,
		change:   1,
		nlinks:   2,
		children: make(map[string]uint64),
	}
	s.nodes[root.id] = root
	s.rootID = root.id
	return s
}

func (s *Store) allocID() uint64 {
	s.nextID++
	return s.nextID
}

// Root returns a handle on the root directory with one reference.
func (s *Store) Root() *Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newHandle(s.nodes[s.rootID])
}

// newNode allocates a node of the given type with attributes seeded from
// attr. Caller holds the store lock.
func (s *Store) newNode(otype fsal.ObjectType, attr *fsal.Attributes) *node {
	now := time.Now()
	n := &node{
		id:       s.allocID(),
		otype:    otype,
		mode:     0o644,
		atime:    now,
		mtime:    now,
		ctime:    now,
		creation: now,
		change:   1,
		nlinks:   1,
	}
	if otype == fsal.TypeDirectory {
		n.mode = 0o755
		n.nlinks = 2
		n.children = make(map[string]uint64)
	}

	if attr != nil {
		if attr.Mask.Has(fsal.AttrMode) {
			n.mode = attr.Mode
		}
		if attr.Mask.Has(fsal.AttrOwner) {
			n.owner = attr.Owner
		}
		if attr.Mask.Has(fsal.AttrGroup) {
			n.group = attr.Group
		}
		if attr.Mask.Has(fsal.AttrAtime) {
			n.atime = attr.Atime
		}
		if attr.Mask.Has(fsal.AttrMtime) {
			n.mtime = attr.Mtime
		}
		if attr.Mask.Has(fsal.AttrACL) && attr.ACL != nil {
			n.acl = attr.ACL.Ref()
		}
	}

	s.nodes[n.id] = n
	return n
}

// snapshot builds an attribute copy of the node. Caller holds the store
// lock. The ACL reference in the result is owned by the caller.
func (n *node) snapshot() *fsal.Attributes {
	a := &fsal.Attributes{
		Mask: fsal.AttrMode | fsal.AttrOwner | fsal.AttrGroup |
			fsal.AttrSize | fsal.AttrAtime | fsal.AttrMtime |
			fsal.AttrCtime | fsal.AttrChange | fsal.AttrCreation,
		Type:     n.otype,
		Mode:     n.mode,
		Owner:    n.owner,
		Group:    n.group,
		Size:     uint64(len(n.data)),
		NumLinks: n.nlinks,
		FileID:   n.id,
		RawDev:   n.rawDev,
		Atime:    n.atime,
		Mtime:    n.mtime,
		Ctime:    n.ctime,
		Creation: n.creation,
		Change:   n.change,
	}
	if n.acl != nil {
		a.ACL = n.acl.Ref()
		a.Mask |= fsal.AttrACL
	}
	return a
}

// touch marks a mutation: ctime and the change counter advance.
func (n *node) touch() {
	n.ctime = time.Now()
	n.change++
}

// sortedNames returns the directory's entry names in cookie order. Caller
// holds the store lock.
func (n *node) sortedNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
