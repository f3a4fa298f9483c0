package cache

import (
	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// CreateParams describes the object to create inside a directory.
type CreateParams struct {
	// Name is the entry name in the parent directory
	Name string

	// Type selects which creation primitive runs; must be a creatable
	// type
	Type fsal.ObjectType

	// Target is the link target for symlinks
	Target string

	// Dev carries the device numbers for block and character nodes
	Dev *fsal.DeviceSpec
}

// Create makes a new object in the directory, dispatching on the requested
// type. The attr set seeds the initial attributes; owner and group default
// to the caller's credentials when not supplied.
//
// When the name already exists, the existing object is looked up: a
// returned entry alongside StatusExists means the existing object has the
// requested type (callers implementing open-by-create can use it), while
// StatusExists with a nil entry means the name is taken by an object of a
// different type.
func (e *Entry) Create(op *OpContext, params *CreateParams, attr *fsal.Attributes) (*Entry, Status) {
	ctx := op.ctx()

	if e.otype != fsal.TypeDirectory {
		return nil, StatusNotDirectory
	}
	if params.Name == "" {
		return nil, StatusInvalidArgument
	}
	if !params.Type.Creatable() {
		logger.Warn("create of a %s object is not possible", params.Type)
		return nil, StatusBadType
	}

	if !attr.Mask.Has(fsal.AttrOwner) {
		attr.Owner = op.Creds.UID
		attr.Mask |= fsal.AttrOwner
	}
	if !attr.Mask.Has(fsal.AttrGroup) {
		attr.Group = op.Creds.GID
		attr.Mask |= fsal.AttrGroup
	}

	logger.Debug("creating %s %q (mode=%o owner=%d group=%d)",
		params.Type, params.Name, attr.Mode, attr.Owner, attr.Group)

	var (
		sub fsal.ObjectOps
		st  fsal.Status
	)
	switch params.Type {
	case fsal.TypeRegular:
		sub, st = e.sub.Create(ctx, params.Name, attr)
	case fsal.TypeDirectory:
		sub, st = e.sub.Mkdir(ctx, params.Name, attr)
	case fsal.TypeSymlink:
		sub, st = e.sub.Symlink(ctx, params.Name, params.Target, attr)
	default:
		sub, st = e.sub.Mknode(ctx, params.Name, params.Type, params.Dev, attr)
	}

	// The directory's mtime and change counter moved (or the failed
	// attempt still tells us our snapshot may be behind)
	if rst := e.RefreshAttrs(ctx); rst.IsError() {
		logger.Warn("failed to refresh parent attributes after create: %s", rst)
	}

	if st.IsError() {
		e.killOnStale(st)
		if !st.Is(fsal.ErrExist) {
			return nil, Convert(st.Err)
		}
		return e.createExisting(op, params)
	}

	child, nst := NewEntry(ctx, sub)
	if nst.IsError() {
		sub.PutRef()
		return nil, Convert(nst.Err)
	}
	return child, StatusSuccess
}

// createExisting resolves the object occupying the name after a create
// collision, distinguishing a same-type collision (entry returned) from a
// foreign-type one (nil entry).
func (e *Entry) createExisting(op *OpContext, params *CreateParams) (*Entry, Status) {
	existing, lst := e.lookup(op, params.Name)
	if lst.IsError() {
		logger.Info("lookup of colliding name %q failed: %s", params.Name, lst)
		return nil, StatusExists
	}

	if existing.Type() != params.Type {
		logger.Debug("name %q exists with type %s, wanted %s",
			params.Name, existing.Type(), params.Type)
		existing.Unref()
		return nil, StatusExists
	}
	return existing, StatusExists
}

// CreateVerify checks an exclusive-create verifier against the file's
// timestamps: a previous exclusive create stored the verifier halves in the
// atime and mtime seconds, so a match means this file was created by the
// retransmitted request being verified.
func (e *Entry) CreateVerify(op *OpContext, verfHi, verfLo uint32) (bool, Status) {
	if st := e.RefreshAttrs(op.ctx()); st.IsError() {
		return false, Convert(st.Err)
	}

	attrs := e.Attributes()
	defer func() {
		if err := attrs.ACL.Release(); err != nil {
			logger.Error("releasing attribute copy acl: %v", err)
		}
	}()

	if !attrs.Mask.Has(fsal.AttrAtime) || !attrs.Mask.Has(fsal.AttrMtime) {
		return false, StatusSuccess
	}
	verified := uint32(attrs.Atime.Unix()) == verfHi &&
		uint32(attrs.Mtime.Unix()) == verfLo
	return verified, StatusSuccess
}
