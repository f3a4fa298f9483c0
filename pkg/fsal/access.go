package fsal

// AccessMask describes the rights an operation requires. The low 32 bits hold
// NFSv4 ACE permission bits; the high bits hold plain POSIX mode probes used
// when an object has no ACL. A single mask can carry both, and TestAccess
// implementations pick the relevant half depending on whether an ACL is
// present.
type AccessMask uint64

// NFSv4 ACE permission bits (RFC 7530 §6.2.1.3.1). File and directory
// variants that share a wire bit share a constant value here too.
const (
	PermReadData   AccessMask = 0x00000001
	PermListDir    AccessMask = 0x00000001
	PermWriteData  AccessMask = 0x00000002
	PermAddFile    AccessMask = 0x00000002
	PermAppendData AccessMask = 0x00000004
	PermAddSubdir  AccessMask = 0x00000004
	PermExecute    AccessMask = 0x00000020
	PermDeleteChild AccessMask = 0x00000040
	PermReadAttr   AccessMask = 0x00000080
	PermWriteAttr  AccessMask = 0x00000100
	PermDelete     AccessMask = 0x00010000
	PermReadACL    AccessMask = 0x00020000
	PermWriteACL   AccessMask = 0x00040000
	PermWriteOwner AccessMask = 0x00080000
	PermSynchronize AccessMask = 0x00100000
)

// PermACEMask selects the ACE half of an access mask.
const PermACEMask AccessMask = 0xFFFFFFFF

// POSIX mode probes, used for evaluation against mode bits when the object
// carries no ACL.
const (
	ModeExecOK  AccessMask = 1 << 32
	ModeWriteOK AccessMask = 1 << 33
	ModeReadOK  AccessMask = 1 << 34

	// ModeProbeMask selects the mode-probe half of an access mask
	ModeProbeMask AccessMask = ModeExecOK | ModeWriteOK | ModeReadOK
)

// ACEBits returns the ACE permission half of the mask.
func (m AccessMask) ACEBits() AccessMask {
	return m & PermACEMask
}

// ModeBits returns the POSIX probe half of the mask.
func (m AccessMask) ModeBits() AccessMask {
	return m & ModeProbeMask
}

// Has reports whether all bits in want are set.
func (m AccessMask) Has(want AccessMask) bool {
	return m&want == want
}
