package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

func TestOpenBudgetExhaustion(t *testing.T) {
	budget := NewOpenBudget(1)
	op := testOp(fsal.Credentials{UID: 1000}, budget)

	first := newTestEntry(t, newFakeFile())
	second := newTestEntry(t, newFakeFile())

	require.Equal(t, StatusSuccess, first.Open(op, fsal.OpenRead))
	assert.Equal(t, int64(1), budget.InUse())

	// The budget is spent; the second open is told to retry
	assert.Equal(t, StatusDelay, second.Open(op, fsal.OpenRead))

	require.Equal(t, StatusSuccess, first.Close(op))
	assert.Equal(t, int64(0), budget.InUse())

	assert.Equal(t, StatusSuccess, second.Open(op, fsal.OpenRead))
	assert.Equal(t, int64(1), budget.InUse())
}

func TestOpenNonRegular(t *testing.T) {
	e := newTestEntry(t, newFakeDir())
	op := testOp(fsal.Credentials{UID: 1000}, nil)
	assert.Equal(t, StatusBadType, e.Open(op, fsal.OpenRead))
}

func TestOpenStripsReclaimFlag(t *testing.T) {
	f := newFakeFile()
	var got fsal.OpenFlags
	f.onOpen = func(flags fsal.OpenFlags) fsal.Status {
		got = flags
		f.open = flags.Mode()
		return fsal.OK()
	}
	e := newTestEntry(t, f)
	op := testOp(fsal.Credentials{UID: 1000}, nil)

	require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenRead|fsal.OpenReclaim))
	assert.Zero(t, got&fsal.OpenReclaim)
}

func TestOpenDowngradePath(t *testing.T) {
	t.Run("with reopen capability", func(t *testing.T) {
		f := newFakeFile()
		e := newTestEntry(t, f)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenRead))
		require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenWrite))
		assert.Equal(t, 1, f.reopens)
		assert.Equal(t, 0, f.closes)
	})

	t.Run("without reopen capability", func(t *testing.T) {
		f := newFakeFile()
		e := newTestEntry(t, f)
		exp := NewExport(1, "/", &fakeExport{caps: map[fsal.Capability]bool{}}, ExportOptions{}, nil)
		op := &OpContext{Context: context.Background(), Creds: fsal.Credentials{UID: 1000}, Export: exp}

		require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenRead))
		require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenWrite))
		assert.Equal(t, 0, f.reopens)
		assert.Equal(t, 1, f.closes)
		assert.Equal(t, 2, f.opens)
	})

	t.Run("read-write descriptor serves both modes", func(t *testing.T) {
		f := newFakeFile()
		e := newTestEntry(t, f)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenReadWrite))
		require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenRead))
		assert.Equal(t, 1, f.opens)
		assert.Equal(t, 0, f.reopens)
	})
}

func TestCloseNotOpenSucceeds(t *testing.T) {
	e := newTestEntry(t, newFakeFile())
	op := testOp(fsal.Credentials{UID: 1000}, nil)
	assert.Equal(t, StatusSuccess, e.Close(op))
}

func TestReadWriteTemporaryOpen(t *testing.T) {
	f := newFakeFile()
	f.data = []byte("hello world")
	f.attrs.Size = uint64(len(f.data))
	e := newTestEntry(t, f)
	op := testOp(fsal.Credentials{UID: 1000}, nil)

	buf := make([]byte, 5)
	res, st := e.ReadWrite(op, &IORequest{Direction: IORead, Buffer: buf})
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, 5, res.BytesMoved)
	assert.Equal(t, "hello", string(buf))

	// The descriptor was opened just for this call and closed after
	assert.Equal(t, 1, f.opens)
	assert.Equal(t, 1, f.closes)
	assert.Equal(t, fsal.OpenClosed, f.open)
}

func TestReadWriteKeepsCallerOpen(t *testing.T) {
	f := newFakeFile()
	f.data = []byte("data")
	e := newTestEntry(t, f)
	op := testOp(fsal.Credentials{UID: 1000}, nil)

	require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenRead))
	_, st := e.ReadWrite(op, &IORequest{Direction: IORead, Buffer: make([]byte, 4)})
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, 0, f.closes)
	assert.NotEqual(t, fsal.OpenClosed, f.open)
}

func TestWriteCommitFallback(t *testing.T) {
	t.Run("delegate honors sync in-line", func(t *testing.T) {
		f := newFakeFile()
		f.honorSync = true
		e := newTestEntry(t, f)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		res, st := e.ReadWrite(op, &IORequest{Direction: IOWrite, Buffer: []byte("abc"), Sync: true})
		require.Equal(t, StatusSuccess, st)
		assert.True(t, res.Sync)
		assert.Equal(t, 0, f.commits)
	})

	t.Run("covering commit when sync not honored", func(t *testing.T) {
		f := newFakeFile()
		f.honorSync = false
		e := newTestEntry(t, f)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		res, st := e.ReadWrite(op, &IORequest{Direction: IOWrite, Buffer: []byte("abc"), Sync: true})
		require.Equal(t, StatusSuccess, st)
		assert.True(t, res.Sync)
		assert.Equal(t, 1, f.commits)
	})

	t.Run("export forces stable writes", func(t *testing.T) {
		f := newFakeFile()
		f.honorSync = false
		e := newTestEntry(t, f)
		exp := NewExport(1, "/", &fakeExport{}, ExportOptions{StableWrites: true}, nil)
		op := &OpContext{Context: context.Background(), Creds: fsal.Credentials{UID: 1000}, Export: exp}

		res, st := e.ReadWrite(op, &IORequest{Direction: IOWrite, Buffer: []byte("abc")})
		require.Equal(t, StatusSuccess, st)
		assert.True(t, res.Sync)
		assert.Equal(t, 1, f.commits)
	})
}

func TestReadWriteOnDirectory(t *testing.T) {
	e := newTestEntry(t, newFakeDir())
	op := testOp(fsal.Credentials{UID: 1000}, nil)

	_, st := e.ReadWrite(op, &IORequest{Direction: IORead, Buffer: make([]byte, 4)})
	assert.Equal(t, StatusIsDirectory, st)
}

func TestReadWriteStaleKillsEntry(t *testing.T) {
	f := newFakeFile()
	f.onRead = func(offset uint64, buf []byte) (int, bool, fsal.Status) {
		return 0, false, fsal.Stat(fsal.ErrStale)
	}
	e := newTestEntry(t, f)
	op := testOp(fsal.Credentials{UID: 1000}, nil)

	res, st := e.ReadWrite(op, &IORequest{Direction: IORead, Buffer: make([]byte, 4)})
	assert.Equal(t, StatusStale, st)
	assert.Zero(t, res.BytesMoved)
	assert.True(t, e.Killed())
	// Stale means the object is being discarded; no close attempt
	assert.Equal(t, 0, f.closes)
}

func TestReadWriteErrorClosesDescriptor(t *testing.T) {
	f := newFakeFile()
	f.onRead = func(offset uint64, buf []byte) (int, bool, fsal.Status) {
		return 0, false, fsal.Stat(fsal.ErrIO)
	}
	e := newTestEntry(t, f)
	op := testOp(fsal.Credentials{UID: 1000}, nil)

	res, st := e.ReadWrite(op, &IORequest{Direction: IORead, Buffer: make([]byte, 4)})
	assert.Equal(t, StatusIOError, st)
	assert.Zero(t, res.BytesMoved)
	assert.Equal(t, 1, f.closes)
}

func TestReadUpdatesCachedAtime(t *testing.T) {
	f := newFakeFile()
	f.data = []byte("x")
	e := newTestEntry(t, f)
	op := testOp(fsal.Credentials{UID: 1000}, nil)

	before := e.Attributes().Atime
	_, st := e.ReadWrite(op, &IORequest{Direction: IORead, Buffer: make([]byte, 1)})
	require.Equal(t, StatusSuccess, st)
	assert.True(t, e.Attributes().Atime.After(before))
}

func TestCommit(t *testing.T) {
	t.Run("range overflow rejected", func(t *testing.T) {
		e := newTestEntry(t, newFakeFile())
		op := testOp(fsal.Credentials{UID: 1000}, nil)
		assert.Equal(t, StatusInvalidArgument, e.Commit(op, ^uint64(0), 2))
	})

	t.Run("temporary open around commit", func(t *testing.T) {
		f := newFakeFile()
		e := newTestEntry(t, f)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		require.Equal(t, StatusSuccess, e.Commit(op, 0, 100))
		assert.Equal(t, 1, f.commits)
		assert.Equal(t, 1, f.opens)
		assert.Equal(t, 1, f.closes)
	})

	t.Run("already open stays open", func(t *testing.T) {
		f := newFakeFile()
		e := newTestEntry(t, f)
		op := testOp(fsal.Credentials{UID: 1000}, nil)

		require.Equal(t, StatusSuccess, e.Open(op, fsal.OpenWrite))
		require.Equal(t, StatusSuccess, e.Commit(op, 0, 100))
		assert.Equal(t, 0, f.closes)
	})
}

func TestStatfs(t *testing.T) {
	e := newTestEntry(t, newFakeFile())
	op := testOp(fsal.Credentials{UID: 1000}, nil)

	info, st := e.Statfs(op)
	require.Equal(t, StatusSuccess, st)
	assert.Equal(t, uint64(1<<30), info.TotalBytes)
}
