package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

func TestCreateDispatchesByType(t *testing.T) {
	tests := []struct {
		name   string
		params CreateParams
	}{
		{"regular file", CreateParams{Name: "file", Type: fsal.TypeRegular}},
		{"directory", CreateParams{Name: "dir", Type: fsal.TypeDirectory}},
		{"symlink", CreateParams{Name: "link", Type: fsal.TypeSymlink, Target: "/elsewhere"}},
		{"character device", CreateParams{Name: "dev", Type: fsal.TypeCharDevice, Dev: &fsal.DeviceSpec{Major: 1, Minor: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDir()
			var created, target string
			var dev *fsal.DeviceSpec
			d.onCreate = func(name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
				created = name
				return newFakeFile(), fsal.OK()
			}
			d.onMkdir = func(name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
				created = name
				return newFakeDir(), fsal.OK()
			}
			d.onSymlink = func(name, tgt string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
				created, target = name, tgt
				l := newFakeFile()
				l.otype = fsal.TypeSymlink
				l.attrs.Type = fsal.TypeSymlink
				return l, fsal.OK()
			}
			d.onMknode = func(name string, ot fsal.ObjectType, ds *fsal.DeviceSpec, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
				created, dev = name, ds
				n := newFakeFile()
				n.otype = ot
				n.attrs.Type = ot
				return n, fsal.OK()
			}
			e := newTestEntry(t, d)
			op := testOp(fsal.Credentials{UID: 1000, GID: 1000}, nil)

			attr := fsal.Attributes{Mask: fsal.AttrMode, Mode: 0o644}
			child, st := e.Create(op, &tt.params, &attr)
			require.Equal(t, StatusSuccess, st)
			require.NotNil(t, child)
			defer child.Unref()

			assert.Equal(t, tt.params.Name, created)
			assert.Equal(t, tt.params.Type, child.Type())
			if tt.params.Type == fsal.TypeSymlink {
				assert.Equal(t, tt.params.Target, target)
			}
			if tt.params.Dev != nil {
				assert.Equal(t, tt.params.Dev, dev)
			}
		})
	}
}

func TestCreateSeedsOwnershipFromCredentials(t *testing.T) {
	d := newFakeDir()
	var seen fsal.Attributes
	d.onCreate = func(name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
		seen = *attr
		return newFakeFile(), fsal.OK()
	}
	e := newTestEntry(t, d)
	op := testOp(fsal.Credentials{UID: 1234, GID: 5678}, nil)

	attr := fsal.Attributes{Mask: fsal.AttrMode, Mode: 0o600}
	child, st := e.Create(op, &CreateParams{Name: "f", Type: fsal.TypeRegular}, &attr)
	require.Equal(t, StatusSuccess, st)
	child.Unref()

	assert.True(t, seen.Mask.Has(fsal.AttrOwner))
	assert.True(t, seen.Mask.Has(fsal.AttrGroup))
	assert.Equal(t, uint32(1234), seen.Owner)
	assert.Equal(t, uint32(5678), seen.Group)
}

func TestCreateKeepsExplicitOwnership(t *testing.T) {
	d := newFakeDir()
	var seen fsal.Attributes
	d.onCreate = func(name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
		seen = *attr
		return newFakeFile(), fsal.OK()
	}
	e := newTestEntry(t, d)
	op := testOp(fsal.Credentials{UID: 1234, GID: 5678}, nil)

	attr := fsal.Attributes{
		Mask:  fsal.AttrMode | fsal.AttrOwner | fsal.AttrGroup,
		Mode:  0o600,
		Owner: 42,
		Group: 43,
	}
	child, st := e.Create(op, &CreateParams{Name: "f", Type: fsal.TypeRegular}, &attr)
	require.Equal(t, StatusSuccess, st)
	child.Unref()

	assert.Equal(t, uint32(42), seen.Owner)
	assert.Equal(t, uint32(43), seen.Group)
}

func TestCreateArgumentChecks(t *testing.T) {
	op := testOp(fsal.Credentials{UID: 1000}, nil)
	attr := fsal.Attributes{}

	t.Run("inside non-directory", func(t *testing.T) {
		e := newTestEntry(t, newFakeFile())
		_, st := e.Create(op, &CreateParams{Name: "f", Type: fsal.TypeRegular}, &attr)
		assert.Equal(t, StatusNotDirectory, st)
	})

	t.Run("empty name", func(t *testing.T) {
		e := newTestEntry(t, newFakeDir())
		_, st := e.Create(op, &CreateParams{Name: "", Type: fsal.TypeRegular}, &attr)
		assert.Equal(t, StatusInvalidArgument, st)
	})

	t.Run("uncreatable type", func(t *testing.T) {
		e := newTestEntry(t, newFakeDir())
		_, st := e.Create(op, &CreateParams{Name: "f", Type: fsal.TypeNone}, &attr)
		assert.Equal(t, StatusBadType, st)
	})
}

func TestCreateCollision(t *testing.T) {
	t.Run("same type returns the existing object", func(t *testing.T) {
		existing := newFakeFile()
		d := newFakeDir()
		d.onCreate = func(name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
			return nil, fsal.Stat(fsal.ErrExist)
		}
		d.onLookup = func(name string) (fsal.ObjectOps, fsal.Status) {
			return existing, fsal.OK()
		}
		e := newTestEntry(t, d)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		attr := fsal.Attributes{}
		child, st := e.Create(op, &CreateParams{Name: "f", Type: fsal.TypeRegular}, &attr)
		assert.Equal(t, StatusExists, st)
		require.NotNil(t, child)
		assert.Equal(t, fsal.TypeRegular, child.Type())
		child.Unref()
	})

	t.Run("different type returns no entry", func(t *testing.T) {
		d := newFakeDir()
		d.onCreate = func(name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
			return nil, fsal.Stat(fsal.ErrExist)
		}
		d.onLookup = func(name string) (fsal.ObjectOps, fsal.Status) {
			return newFakeDir(), fsal.OK()
		}
		e := newTestEntry(t, d)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		attr := fsal.Attributes{}
		child, st := e.Create(op, &CreateParams{Name: "f", Type: fsal.TypeRegular}, &attr)
		assert.Equal(t, StatusExists, st)
		assert.Nil(t, child)
	})
}

func TestCreateVerify(t *testing.T) {
	const verfHi, verfLo = uint32(0x1a2b3c4d), uint32(0x5e6f7081)

	t.Run("matching verifier", func(t *testing.T) {
		f := newFakeFile()
		f.attrs.Atime = time.Unix(int64(verfHi), 0)
		f.attrs.Mtime = time.Unix(int64(verfLo), 0)
		f.attrs.Mask |= fsal.AttrAtime | fsal.AttrMtime
		e := newTestEntry(t, f)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		ok, st := e.CreateVerify(op, verfHi, verfLo)
		require.Equal(t, StatusSuccess, st)
		assert.True(t, ok)
	})

	t.Run("mismatched verifier", func(t *testing.T) {
		f := newFakeFile()
		f.attrs.Atime = time.Unix(int64(verfHi), 0)
		f.attrs.Mtime = time.Unix(int64(verfLo)+1, 0)
		f.attrs.Mask |= fsal.AttrAtime | fsal.AttrMtime
		e := newTestEntry(t, f)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		ok, st := e.CreateVerify(op, verfHi, verfLo)
		require.Equal(t, StatusSuccess, st)
		assert.False(t, ok)
	})

	t.Run("timestamps unavailable", func(t *testing.T) {
		e := newTestEntry(t, newFakeFile())
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		ok, st := e.CreateVerify(op, verfHi, verfLo)
		require.Equal(t, StatusSuccess, st)
		assert.False(t, ok)
	})
}
