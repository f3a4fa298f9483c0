package cache

import (
	"context"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// fakeObject is a scripted delegate handle. Every operation has a sensible
// default backed by the struct fields; tests override individual behaviors
// through the hook functions to inject errors or observe calls.
type fakeObject struct {
	otype fsal.ObjectType
	attrs fsal.Attributes
	open  fsal.OpenFlags
	data  []byte

	// honorSync controls whether writes report in-line stability
	honorSync bool

	// call counters
	opens, closes, reopens, commits int

	// hooks
	onGetattrs func() (*fsal.Attributes, fsal.Status)
	onAccess   func(mask fsal.AccessMask) fsal.Status
	onOpen     func(flags fsal.OpenFlags) fsal.Status
	onClose    func() fsal.Status
	onRead     func(offset uint64, buf []byte) (int, bool, fsal.Status)
	onWrite    func(offset uint64, data []byte, stable *bool) (int, fsal.Status)
	onCommit   func(offset, length uint64) fsal.Status
	onLookup   func(name string) (fsal.ObjectOps, fsal.Status)
	onReaddir  func(cookie uint64, cb fsal.DirentFunc) (bool, fsal.Status)
	onSetattrs func(attr *fsal.Attributes) fsal.Status
	onCreate   func(name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status)
	onMkdir    func(name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status)
	onSymlink  func(name, target string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status)
	onMknode   func(name string, t fsal.ObjectType, dev *fsal.DeviceSpec, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status)
	onLink     func(destDir fsal.ObjectOps, name string) fsal.Status
	onUnlink   func(name string) fsal.Status
	onRename   func(srcDir fsal.ObjectOps, oldName string, destDir fsal.ObjectOps, newName string) fsal.Status
	onReadlink func() (string, fsal.Status)
}

func newFakeFile() *fakeObject {
	return &fakeObject{
		otype:     fsal.TypeRegular,
		honorSync: true,
		attrs: fsal.Attributes{
			Mask: fsal.AttrMode | fsal.AttrOwner | fsal.AttrGroup |
				fsal.AttrSize | fsal.AttrChange,
			Type:   fsal.TypeRegular,
			Mode:   0o644,
			Owner:  1000,
			Group:  1000,
			FileID: 42,
			Change: 1,
		},
	}
}

func newFakeDir() *fakeObject {
	f := newFakeFile()
	f.otype = fsal.TypeDirectory
	f.attrs.Type = fsal.TypeDirectory
	f.attrs.Mode = 0o755
	return f
}

func (f *fakeObject) Type() fsal.ObjectType { return f.otype }

func (f *fakeObject) Getattrs(ctx context.Context) (*fsal.Attributes, fsal.Status) {
	if f.onGetattrs != nil {
		return f.onGetattrs()
	}
	attrs := f.attrs.Clone()
	return &attrs, fsal.OK()
}

func (f *fakeObject) Setattrs(ctx context.Context, creds fsal.Credentials, attr *fsal.Attributes) fsal.Status {
	if f.onSetattrs != nil {
		return f.onSetattrs(attr)
	}
	if attr.Mask.Has(fsal.AttrMode) {
		f.attrs.Mode = attr.Mode
	}
	if attr.Mask.Has(fsal.AttrOwner) {
		f.attrs.Owner = attr.Owner
	}
	if attr.Mask.Has(fsal.AttrGroup) {
		f.attrs.Group = attr.Group
	}
	if attr.Mask.Has(fsal.AttrSize) {
		f.attrs.Size = attr.Size
	}
	if attr.Mask.Has(fsal.AttrAtime) {
		f.attrs.Atime = attr.Atime
		f.attrs.Mask |= fsal.AttrAtime
	}
	if attr.Mask.Has(fsal.AttrMtime) {
		f.attrs.Mtime = attr.Mtime
		f.attrs.Mask |= fsal.AttrMtime
	}
	f.attrs.Change++
	return fsal.OK()
}

func (f *fakeObject) TestAccess(ctx context.Context, creds fsal.Credentials, mask fsal.AccessMask, allowed, denied *fsal.AccessMask) fsal.Status {
	if f.onAccess != nil {
		return f.onAccess(mask)
	}
	if allowed != nil {
		*allowed = mask
	}
	if denied != nil {
		*denied = 0
	}
	return fsal.OK()
}

func (f *fakeObject) Open(ctx context.Context, flags fsal.OpenFlags) fsal.Status {
	f.opens++
	if f.onOpen != nil {
		return f.onOpen(flags)
	}
	f.open = flags.Mode()
	return fsal.OK()
}

func (f *fakeObject) Reopen(ctx context.Context, flags fsal.OpenFlags) fsal.Status {
	f.reopens++
	f.open = flags.Mode()
	return fsal.OK()
}

func (f *fakeObject) Close(ctx context.Context) fsal.Status {
	f.closes++
	if f.onClose != nil {
		return f.onClose()
	}
	if f.open == fsal.OpenClosed {
		return fsal.Stat(fsal.ErrNotOpened)
	}
	f.open = fsal.OpenClosed
	return fsal.OK()
}

func (f *fakeObject) OpenStatus(ctx context.Context) fsal.OpenFlags { return f.open }

func (f *fakeObject) Read(ctx context.Context, offset uint64, buf []byte) (int, bool, fsal.Status) {
	if f.onRead != nil {
		return f.onRead(offset, buf)
	}
	if offset >= uint64(len(f.data)) {
		return 0, true, fsal.OK()
	}
	n := copy(buf, f.data[offset:])
	return n, offset+uint64(n) >= uint64(len(f.data)), fsal.OK()
}

func (f *fakeObject) ReadPlus(ctx context.Context, offset uint64, buf []byte, info *fsal.IOInfo) (int, bool, fsal.Status) {
	return f.Read(ctx, offset, buf)
}

func (f *fakeObject) Write(ctx context.Context, offset uint64, data []byte, stable *bool) (int, fsal.Status) {
	if f.onWrite != nil {
		return f.onWrite(offset, data, stable)
	}
	end := offset + uint64(len(data))
	if end > uint64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:end], data)
	f.attrs.Size = uint64(len(f.data))
	f.attrs.Change++
	if stable != nil && *stable {
		*stable = f.honorSync
	}
	return len(data), fsal.OK()
}

func (f *fakeObject) WritePlus(ctx context.Context, offset uint64, data []byte, stable *bool, info *fsal.IOInfo) (int, fsal.Status) {
	return f.Write(ctx, offset, data, stable)
}

func (f *fakeObject) Commit(ctx context.Context, offset, length uint64) fsal.Status {
	f.commits++
	if f.onCommit != nil {
		return f.onCommit(offset, length)
	}
	return fsal.OK()
}

func (f *fakeObject) Lookup(ctx context.Context, name string) (fsal.ObjectOps, fsal.Status) {
	if f.onLookup != nil {
		return f.onLookup(name)
	}
	return nil, fsal.Stat(fsal.ErrNoEnt)
}

func (f *fakeObject) Create(ctx context.Context, name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
	if f.onCreate != nil {
		return f.onCreate(name, attr)
	}
	return nil, fsal.Stat(fsal.ErrNotSupp)
}

func (f *fakeObject) Mkdir(ctx context.Context, name string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
	if f.onMkdir != nil {
		return f.onMkdir(name, attr)
	}
	return nil, fsal.Stat(fsal.ErrNotSupp)
}

func (f *fakeObject) Symlink(ctx context.Context, name, target string, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
	if f.onSymlink != nil {
		return f.onSymlink(name, target, attr)
	}
	return nil, fsal.Stat(fsal.ErrNotSupp)
}

func (f *fakeObject) Mknode(ctx context.Context, name string, t fsal.ObjectType, dev *fsal.DeviceSpec, attr *fsal.Attributes) (fsal.ObjectOps, fsal.Status) {
	if f.onMknode != nil {
		return f.onMknode(name, t, dev, attr)
	}
	return nil, fsal.Stat(fsal.ErrNotSupp)
}

func (f *fakeObject) Link(ctx context.Context, destDir fsal.ObjectOps, name string) fsal.Status {
	if f.onLink != nil {
		return f.onLink(destDir, name)
	}
	return fsal.Stat(fsal.ErrNotSupp)
}

func (f *fakeObject) Unlink(ctx context.Context, name string) fsal.Status {
	if f.onUnlink != nil {
		return f.onUnlink(name)
	}
	return fsal.Stat(fsal.ErrNotSupp)
}

func (f *fakeObject) Rename(ctx context.Context, srcDir fsal.ObjectOps, oldName string, destDir fsal.ObjectOps, newName string) fsal.Status {
	if f.onRename != nil {
		return f.onRename(srcDir, oldName, destDir, newName)
	}
	return fsal.Stat(fsal.ErrNotSupp)
}

func (f *fakeObject) Readlink(ctx context.Context, refresh bool) (string, fsal.Status) {
	if f.onReadlink != nil {
		return f.onReadlink()
	}
	return "", fsal.Stat(fsal.ErrInval)
}

func (f *fakeObject) Readdir(ctx context.Context, cookie uint64, cb fsal.DirentFunc) (bool, fsal.Status) {
	if f.onReaddir != nil {
		return f.onReaddir(cookie, cb)
	}
	return true, fsal.OK()
}

func (f *fakeObject) LockOp(ctx context.Context, req fsal.LockRequest) fsal.Status {
	return fsal.Stat(fsal.ErrNotSupp)
}

func (f *fakeObject) GetRef() {}
func (f *fakeObject) PutRef() {}

// fakeExport is a scripted delegate export surface.
type fakeExport struct {
	caps map[fsal.Capability]bool
	root fsal.ObjectOps
}

func (x *fakeExport) Supports(c fsal.Capability) bool {
	if x.caps == nil {
		return true
	}
	return x.caps[c]
}

func (x *fakeExport) DynamicInfo(ctx context.Context, obj fsal.ObjectOps) (*fsal.DynamicInfo, fsal.Status) {
	return &fsal.DynamicInfo{TotalBytes: 1 << 30, FreeBytes: 1 << 29, AvailBytes: 1 << 29}, fsal.OK()
}

func (x *fakeExport) LookupPath(ctx context.Context, path string) (fsal.ObjectOps, fsal.Status) {
	if x.root == nil {
		return nil, fsal.Stat(fsal.ErrNoEnt)
	}
	return x.root, fsal.OK()
}

// testOp builds an operation context over a fake export with the given
// credentials and budget.
func testOp(creds fsal.Credentials, budget *OpenBudget) *OpContext {
	exp := NewExport(1, "/", &fakeExport{}, ExportOptions{}, budget)
	return &OpContext{Context: context.Background(), Creds: creds, Export: exp}
}
