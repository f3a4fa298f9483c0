package fsal

import "fmt"

// Errno is the fine-grained error domain reported by delegates.
//
// The cache layer maps these to its coarser Status domain (see pkg/cache);
// protocol front ends are expected to consume the coarse domain only.
type Errno int

const (
	ErrNone Errno = iota
	ErrNoEnt
	ErrExist
	ErrAccess
	ErrPerm
	ErrNoSpace
	ErrNotEmpty
	ErrReadOnly
	ErrNotDir
	ErrIsDir
	ErrIO
	ErrNxIO
	ErrStale
	ErrFHExpired
	ErrInval
	ErrOverflow
	ErrDQuot
	ErrNoQuota
	ErrNoData
	ErrSec
	ErrNotSupp
	ErrAttrNotSupp
	ErrDelay
	ErrNameTooLong
	ErrNoMem
	ErrBadCookie
	ErrFileOpen
	ErrNotOpened
	ErrSymlink
	ErrBadType
	ErrFBig
	ErrXDev
	ErrMLink
	ErrFault
	ErrServerFault
	ErrDeadlock
	ErrTooSmall
	ErrShareDenied
	ErrLocked
	ErrInGrace
	ErrCrossJunction
	ErrBadHandle
	ErrBadRange
	ErrBlocked
	ErrInterrupt
	ErrNotInit
	ErrAlreadyInit
	ErrBadInit
	ErrTimeout
	ErrNoACE
)

var errnoNames = map[Errno]string{
	ErrNone:          "OK",
	ErrNoEnt:         "NOENT",
	ErrExist:         "EXIST",
	ErrAccess:        "ACCESS",
	ErrPerm:          "PERM",
	ErrNoSpace:       "NOSPC",
	ErrNotEmpty:      "NOTEMPTY",
	ErrReadOnly:      "ROFS",
	ErrNotDir:        "NOTDIR",
	ErrIsDir:         "ISDIR",
	ErrIO:            "IO",
	ErrNxIO:          "NXIO",
	ErrStale:         "STALE",
	ErrFHExpired:     "FHEXPIRED",
	ErrInval:         "INVAL",
	ErrOverflow:      "OVERFLOW",
	ErrDQuot:         "DQUOT",
	ErrNoQuota:       "NO_QUOTA",
	ErrNoData:        "NO_DATA",
	ErrSec:           "SEC",
	ErrNotSupp:       "NOTSUPP",
	ErrAttrNotSupp:   "ATTRNOTSUPP",
	ErrDelay:         "DELAY",
	ErrNameTooLong:   "NAMETOOLONG",
	ErrNoMem:         "NOMEM",
	ErrBadCookie:     "BADCOOKIE",
	ErrFileOpen:      "FILE_OPEN",
	ErrNotOpened:     "NOT_OPENED",
	ErrSymlink:       "SYMLINK",
	ErrBadType:       "BADTYPE",
	ErrFBig:          "FBIG",
	ErrXDev:          "XDEV",
	ErrMLink:         "MLINK",
	ErrFault:         "FAULT",
	ErrServerFault:   "SERVERFAULT",
	ErrDeadlock:      "DEADLOCK",
	ErrTooSmall:      "TOOSMALL",
	ErrShareDenied:   "SHARE_DENIED",
	ErrLocked:        "LOCKED",
	ErrInGrace:       "IN_GRACE",
	ErrCrossJunction: "CROSS_JUNCTION",
	ErrBadHandle:     "BADHANDLE",
	ErrBadRange:      "BAD_RANGE",
	ErrBlocked:       "BLOCKED",
	ErrInterrupt:     "INTERRUPT",
	ErrNotInit:       "NOT_INIT",
	ErrAlreadyInit:   "ALREADY_INIT",
	ErrBadInit:       "BAD_INIT",
	ErrTimeout:       "TIMEOUT",
	ErrNoACE:         "NO_ACE",
}

// String returns the symbolic name of the errno.
func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ERRNO(%d)", int(e))
}

// Status is a delegate operation result: a major errno plus an optional
// back-end specific minor code kept for logging.
type Status struct {
	Err   Errno
	Minor int
}

// OK returns a success status.
func OK() Status {
	return Status{}
}

// Stat wraps an errno in a status.
func Stat(e Errno) Status {
	return Status{Err: e}
}

// IsError reports whether the status carries an error.
func (s Status) IsError() bool {
	return s.Err != ErrNone
}

// Is reports whether the status carries the given errno.
func (s Status) Is(e Errno) bool {
	return s.Err == e
}

// String formats the status for logging.
func (s Status) String() string {
	if s.Minor != 0 {
		return fmt.Sprintf("%s(minor=%d)", s.Err, s.Minor)
	}
	return s.Err.String()
}
