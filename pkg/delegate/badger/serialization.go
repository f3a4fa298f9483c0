package badger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// nodeRecord is the persisted form of one filesystem object. JSON keeps the
// records debuggable with standard tools; metadata records are small enough
// that the encoding overhead does not matter.
type nodeRecord struct {
	ID    uint64          `json:"id"`
	Type  fsal.ObjectType `json:"type"`
	Mode  uint32          `json:"mode"`
	Owner uint32          `json:"owner"`
	Group uint32          `json:"group"`

	Size   uint64 `json:"size"`
	NLinks uint32 `json:"nlinks"`

	Atime    time.Time `json:"atime"`
	Mtime    time.Time `json:"mtime"`
	Ctime    time.Time `json:"ctime"`
	Creation time.Time `json:"creation"`
	Change   uint64    `json:"change"`

	DevMajor uint32 `json:"dev_major,omitempty"`
	DevMinor uint32 `json:"dev_minor,omitempty"`

	Target string `json:"target,omitempty"`

	ACEs []aceRecord `json:"aces,omitempty"`
}

// aceRecord is the persisted form of one access control entry.
type aceRecord struct {
	Type  fsal.ACEType    `json:"type"`
	Who   fsal.ACEWho     `json:"who"`
	ID    uint32          `json:"id,omitempty"`
	Perms fsal.AccessMask `json:"perms"`
}

func encodeNode(rec *nodeRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node %d: %w", rec.ID, err)
	}
	return data, nil
}

func decodeNode(data []byte) (*nodeRecord, error) {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode node record: %w", err)
	}
	return &rec, nil
}

// snapshot converts the record into an attribute snapshot. The ACL (if any)
// is freshly built with one reference owned by the caller.
func (rec *nodeRecord) snapshot() *fsal.Attributes {
	a := &fsal.Attributes{
		Mask: fsal.AttrMode | fsal.AttrOwner | fsal.AttrGroup |
			fsal.AttrSize | fsal.AttrAtime | fsal.AttrMtime |
			fsal.AttrCtime | fsal.AttrChange | fsal.AttrCreation,
		Type:     rec.Type,
		Mode:     rec.Mode,
		Owner:    rec.Owner,
		Group:    rec.Group,
		Size:     rec.Size,
		NumLinks: rec.NLinks,
		FileID:   rec.ID,
		RawDev:   fsal.DeviceSpec{Major: rec.DevMajor, Minor: rec.DevMinor},
		Atime:    rec.Atime,
		Mtime:    rec.Mtime,
		Ctime:    rec.Ctime,
		Creation: rec.Creation,
		Change:   rec.Change,
	}
	if len(rec.ACEs) > 0 {
		aces := make([]fsal.ACE, len(rec.ACEs))
		for i, e := range rec.ACEs {
			aces[i] = fsal.ACE{Type: e.Type, Who: e.Who, ID: e.ID, Perms: e.Perms}
		}
		a.ACL = fsal.NewACL(aces)
		a.Mask |= fsal.AttrACL
	}
	return a
}

// setACL replaces the record's persisted ACL from an in-memory one.
func (rec *nodeRecord) setACL(acl *fsal.ACL) {
	if acl == nil {
		rec.ACEs = nil
		return
	}
	rec.ACEs = make([]aceRecord, len(acl.ACEs))
	for i, e := range acl.ACEs {
		rec.ACEs[i] = aceRecord{Type: e.Type, Who: e.Who, ID: e.ID, Perms: e.Perms}
	}
}

// touch marks a mutation: ctime and the change counter advance.
func (rec *nodeRecord) touch() {
	rec.Ctime = time.Now()
	rec.Change++
}
