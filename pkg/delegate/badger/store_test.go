package badger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestOpenCreatesRoot(t *testing.T) {
	s := openTestStore(t)
	root := s.Root()

	assert.Equal(t, fsal.TypeDirectory, root.Type())

	attrs, st := root.Getattrs(context.Background())
	require.False(t, st.IsError())
	assert.Equal(t, uint32(0o755), attrs.Mode)
	assert.Equal(t, rootID, attrs.FileID)
}

func TestCreateLookupUnlink(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	sub, st := root.Create(ctx, "file.txt", &fsal.Attributes{
		Mask: fsal.AttrMode | fsal.AttrOwner, Mode: 0o600, Owner: 1000,
	})
	require.False(t, st.IsError())
	f := sub.(*Handle)

	attrs, st := f.Getattrs(ctx)
	require.False(t, st.IsError())
	assert.Equal(t, uint32(0o600), attrs.Mode)
	assert.Equal(t, uint32(1000), attrs.Owner)

	got, st := root.Lookup(ctx, "file.txt")
	require.False(t, st.IsError())
	assert.Equal(t, f.id, got.(*Handle).id)

	_, st = root.Lookup(ctx, "missing")
	assert.True(t, st.Is(fsal.ErrNoEnt))

	require.False(t, root.Unlink(ctx, "file.txt").IsError())

	// The handle outlived the object
	_, st = f.Getattrs(ctx)
	assert.True(t, st.Is(fsal.ErrStale))
	_, st = root.Lookup(ctx, "file.txt")
	assert.True(t, st.Is(fsal.ErrNoEnt))
}

func TestContentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	sub, st := root.Create(ctx, "data", nil)
	require.False(t, st.IsError())
	f := sub.(*Handle)

	require.False(t, f.Open(ctx, fsal.OpenReadWrite).IsError())

	stable := true
	n, wst := f.Write(ctx, 0, []byte("hello badger"), &stable)
	require.False(t, wst.IsError())
	assert.Equal(t, 12, n)

	buf := make([]byte, 6)
	n, eof, rst := f.Read(ctx, 6, buf)
	require.False(t, rst.IsError())
	assert.Equal(t, 6, n)
	assert.True(t, eof)
	assert.Equal(t, "badger", string(buf))

	attrs, _ := f.Getattrs(ctx)
	assert.Equal(t, uint64(12), attrs.Size)

	require.False(t, f.Close(ctx).IsError())
	_, _, rst = f.Read(ctx, 0, buf)
	assert.True(t, rst.Is(fsal.ErrNotOpened))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Config{Dir: dir})
	require.NoError(t, err)

	root := s.Root()
	sub, st := root.Create(ctx, "keep", nil)
	require.False(t, st.IsError())
	f := sub.(*Handle)
	require.False(t, f.Open(ctx, fsal.OpenWrite).IsError())
	stable := false
	_, wst := f.Write(ctx, 0, []byte("persisted"), &stable)
	require.False(t, wst.IsError())
	keptID := f.id
	require.NoError(t, s.Close())

	s2, err := Open(ctx, Config{Dir: dir})
	require.NoError(t, err)
	defer func() { require.NoError(t, s2.Close()) }()

	got, st := s2.Root().Lookup(ctx, "keep")
	require.False(t, st.IsError())
	g := got.(*Handle)
	assert.Equal(t, keptID, g.id)

	// Restart closed every descriptor
	assert.Equal(t, fsal.OpenClosed, g.OpenStatus(ctx))

	require.False(t, g.Open(ctx, fsal.OpenRead).IsError())
	buf := make([]byte, 9)
	n, _, rst := g.Read(ctx, 0, buf)
	require.False(t, rst.IsError())
	assert.Equal(t, "persisted", string(buf[:n]))

	// Usage was rebuilt from the content blobs
	info, ist := NewExport(s2).DynamicInfo(ctx, g)
	require.False(t, ist.IsError())
	assert.Equal(t, info.TotalBytes-9, info.FreeBytes)

	// New ids never collide with persisted ones
	fresh, st := s2.Root().Create(ctx, "fresh", nil)
	require.False(t, st.IsError())
	assert.NotEqual(t, keptID, fresh.(*Handle).id)
}

func TestReaddirNameOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	for _, name := range []string{"zeta", "alpha", "mike"} {
		_, st := root.Create(ctx, name, nil)
		require.False(t, st.IsError())
	}

	var names []string
	var cookies []uint64
	eod, st := root.Readdir(ctx, 0, func(name string, cookie uint64) bool {
		names = append(names, name)
		cookies = append(cookies, cookie)
		return true
	})
	require.False(t, st.IsError())
	assert.True(t, eod)
	assert.Equal(t, []string{"alpha", "mike", "zeta"}, names)
	assert.Equal(t, []uint64{1, 2, 3}, cookies)

	names = nil
	eod, st = root.Readdir(ctx, 1, func(name string, cookie uint64) bool {
		names = append(names, name)
		return true
	})
	require.False(t, st.IsError())
	assert.True(t, eod)
	assert.Equal(t, []string{"mike", "zeta"}, names)
}

func TestUnlinkNonEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	sub, st := root.Mkdir(ctx, "sub", nil)
	require.False(t, st.IsError())
	d := sub.(*Handle)
	_, st = d.Create(ctx, "inner", nil)
	require.False(t, st.IsError())

	assert.True(t, root.Unlink(ctx, "sub").Is(fsal.ErrNotEmpty))

	require.False(t, d.Unlink(ctx, "inner").IsError())
	assert.False(t, root.Unlink(ctx, "sub").IsError())
}

func TestLinkCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	sub, st := root.Create(ctx, "orig", nil)
	require.False(t, st.IsError())
	f := sub.(*Handle)

	require.False(t, f.Link(ctx, root, "alias").IsError())

	attrs, _ := f.Getattrs(ctx)
	assert.Equal(t, uint32(2), attrs.NumLinks)

	// The node survives losing one of its two names
	require.False(t, root.Unlink(ctx, "orig").IsError())
	attrs, st = f.Getattrs(ctx)
	require.False(t, st.IsError())
	assert.Equal(t, uint32(1), attrs.NumLinks)
}

func TestRenameReplacesDestination(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	sub, st := root.Create(ctx, "src", nil)
	require.False(t, st.IsError())
	f := sub.(*Handle)

	vsub, st := root.Create(ctx, "dst", nil)
	require.False(t, st.IsError())
	victim := vsub.(*Handle)

	require.False(t, f.Rename(ctx, root, "src", root, "dst").IsError())

	_, st = root.Lookup(ctx, "src")
	assert.True(t, st.Is(fsal.ErrNoEnt))
	got, st := root.Lookup(ctx, "dst")
	require.False(t, st.IsError())
	assert.Equal(t, f.id, got.(*Handle).id)

	_, st = victim.Getattrs(ctx)
	assert.True(t, st.Is(fsal.ErrStale))
}

func TestSymlinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	sub, st := root.Symlink(ctx, "ln", "/target", nil)
	require.False(t, st.IsError())

	target, st := sub.(*Handle).Readlink(ctx, false)
	require.False(t, st.IsError())
	assert.Equal(t, "/target", target)
}

func TestPersistedACL(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	acl := fsal.NewACL([]fsal.ACE{
		{Type: fsal.ACEAllow, Who: fsal.WhoUser, ID: 200, Perms: fsal.PermReadData},
	})
	defer func() { _ = acl.Release() }()

	sub, st := root.Create(ctx, "shared", &fsal.Attributes{
		Mask:  fsal.AttrMode | fsal.AttrOwner | fsal.AttrACL,
		Mode:  0o600,
		Owner: 100,
		ACL:   acl,
	})
	require.False(t, st.IsError())
	f := sub.(*Handle)

	assert.False(t, f.TestAccess(ctx, fsal.Credentials{UID: 200},
		fsal.PermReadData, nil, nil).IsError())
	assert.True(t, f.TestAccess(ctx, fsal.Credentials{UID: 200},
		fsal.PermWriteData, nil, nil).Is(fsal.ErrAccess))
}

func TestWriteCapacityLimit(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Dir: t.TempDir(), TotalBytes: 8})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	sub, st := s.Root().Create(ctx, "small", nil)
	require.False(t, st.IsError())
	f := sub.(*Handle)
	require.False(t, f.Open(ctx, fsal.OpenWrite).IsError())

	stable := false
	_, wst := f.Write(ctx, 0, make([]byte, 8), &stable)
	require.False(t, wst.IsError())
	_, wst = f.Write(ctx, 8, []byte("x"), &stable)
	assert.True(t, wst.Is(fsal.ErrNoSpace))
}

func (s *Store) usage() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedBytes
}

func TestUsageTracksCommittedWritesOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	sub, st := root.Create(ctx, "contended", nil)
	require.False(t, st.IsError())
	f := sub.(*Handle)
	require.False(t, f.Open(ctx, fsal.OpenReadWrite).IsError())

	// Racing writers over the same range: some transactions commit, the
	// rest abort with a conflict and surface delay. The usage total must
	// reflect only what committed.
	const size = 64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stable := false
			for i := 0; i < 25; i++ {
				_, _ = f.Write(ctx, 0, make([]byte, size), &stable)
			}
		}()
	}
	wg.Wait()

	attrs, gst := f.Getattrs(ctx)
	require.False(t, gst.IsError())
	assert.Equal(t, uint64(size), attrs.Size)
	assert.Equal(t, uint64(size), s.usage())

	// Shrink and unlink settle the total back down
	require.False(t, f.Setattrs(ctx, fsal.Credentials{}, &fsal.Attributes{
		Mask: fsal.AttrSize, Size: 16,
	}).IsError())
	assert.Equal(t, uint64(16), s.usage())

	require.False(t, f.Close(ctx).IsError())
	require.False(t, root.Unlink(ctx, "contended").IsError())
	assert.Zero(t, s.usage())
}

func TestExportLookupPath(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := s.Root()

	sub, st := root.Mkdir(ctx, "a", nil)
	require.False(t, st.IsError())
	_, st = sub.(*Handle).Create(ctx, "f", nil)
	require.False(t, st.IsError())

	x := NewExport(s)

	h, lst := x.LookupPath(ctx, "/a/f")
	require.False(t, lst.IsError())
	assert.Equal(t, fsal.TypeRegular, h.Type())

	got, lst := x.LookupPath(ctx, "/")
	require.False(t, lst.IsError())
	assert.Equal(t, rootID, got.(*Handle).id)

	_, lst = x.LookupPath(ctx, "/a/missing")
	assert.True(t, lst.Is(fsal.ErrNoEnt))
}

func TestExportCapabilities(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{
		Dir:            t.TempDir(),
		DisableSetTime: true,
		LinkChecks:     true,
	})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	x := NewExport(s)
	assert.False(t, x.Supports(fsal.CapSetTime))
	assert.True(t, x.Supports(fsal.CapReopenMethod))
	assert.True(t, x.Supports(fsal.CapLinkPermissionChecks))
}
