package cache

import (
	"fmt"

	"github.com/cairnfs/cairnfs/internal/logger"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// Status is the coarse error domain the cache layer reports to its callers.
// Protocol front ends translate these to wire status codes; they never see
// the delegates' fine-grained fsal.Errno values directly.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotFound
	StatusExists
	StatusAccessDenied
	StatusPermDenied
	StatusNoSpace
	StatusDirNotEmpty
	StatusReadOnly
	StatusNotDirectory
	StatusIsDirectory
	StatusIOError
	StatusStale
	StatusInvalidArgument
	StatusQuotaExceeded
	StatusNoData
	StatusSecurity
	StatusNotSupported
	StatusDelay
	StatusNameTooLong
	StatusNoMemory
	StatusBadCookie
	StatusFileOpen
	StatusBadType
	StatusFileTooBig
	StatusCrossDevice
	StatusTooManyLinks
	StatusServerFault
	StatusTooSmall
	StatusShareDenied
	StatusLocked
	StatusInGrace
	StatusCrossJunction
	StatusBadHandle
	StatusBadRange

	// StatusFault is the catch-all for delegate codes that should never
	// surface at this layer; every occurrence is logged as a defect.
	StatusFault
)

var statusNames = map[Status]string{
	StatusSuccess:         "SUCCESS",
	StatusNotFound:        "NOT_FOUND",
	StatusExists:          "EXISTS",
	StatusAccessDenied:    "ACCESS_DENIED",
	StatusPermDenied:      "PERM_DENIED",
	StatusNoSpace:         "NO_SPACE",
	StatusDirNotEmpty:     "DIR_NOT_EMPTY",
	StatusReadOnly:        "READ_ONLY",
	StatusNotDirectory:    "NOT_DIRECTORY",
	StatusIsDirectory:     "IS_DIRECTORY",
	StatusIOError:         "IO_ERROR",
	StatusStale:           "STALE",
	StatusInvalidArgument: "INVALID_ARGUMENT",
	StatusQuotaExceeded:   "QUOTA_EXCEEDED",
	StatusNoData:          "NO_DATA",
	StatusSecurity:        "SECURITY",
	StatusNotSupported:    "NOT_SUPPORTED",
	StatusDelay:           "DELAY",
	StatusNameTooLong:     "NAME_TOO_LONG",
	StatusNoMemory:        "NO_MEMORY",
	StatusBadCookie:       "BAD_COOKIE",
	StatusFileOpen:        "FILE_OPEN",
	StatusBadType:         "BAD_TYPE",
	StatusFileTooBig:      "FILE_TOO_BIG",
	StatusCrossDevice:     "CROSS_DEVICE",
	StatusTooManyLinks:    "TOO_MANY_LINKS",
	StatusServerFault:     "SERVER_FAULT",
	StatusTooSmall:        "TOO_SMALL",
	StatusShareDenied:     "SHARE_DENIED",
	StatusLocked:          "LOCKED",
	StatusInGrace:         "IN_GRACE",
	StatusCrossJunction:   "CROSS_JUNCTION",
	StatusBadHandle:       "BAD_HANDLE",
	StatusBadRange:        "BAD_RANGE",
	StatusFault:           "FAULT",
}

// String returns the symbolic name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// IsError reports whether the status is anything but success.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// Convert maps a fine-grained delegate errno to the coarse cache-layer
// status domain. The mapping is total: codes that should never reach this
// layer collapse to StatusFault and are logged as defects.
func Convert(e fsal.Errno) Status {
	switch e {
	case fsal.ErrNone:
		return StatusSuccess
	case fsal.ErrNoEnt:
		return StatusNotFound
	case fsal.ErrExist:
		return StatusExists
	case fsal.ErrAccess:
		return StatusAccessDenied
	case fsal.ErrPerm:
		return StatusPermDenied
	case fsal.ErrNoSpace:
		return StatusNoSpace
	case fsal.ErrNotEmpty:
		return StatusDirNotEmpty
	case fsal.ErrReadOnly:
		return StatusReadOnly
	case fsal.ErrNotDir:
		return StatusNotDirectory
	case fsal.ErrIsDir:
		return StatusIsDirectory
	case fsal.ErrIO, fsal.ErrNxIO:
		return StatusIOError
	case fsal.ErrStale, fsal.ErrFHExpired:
		return StatusStale
	case fsal.ErrInval, fsal.ErrOverflow:
		return StatusInvalidArgument
	case fsal.ErrDQuot, fsal.ErrNoQuota:
		return StatusQuotaExceeded
	case fsal.ErrNoData:
		return StatusNoData
	case fsal.ErrSec:
		return StatusSecurity
	case fsal.ErrNotSupp, fsal.ErrAttrNotSupp:
		return StatusNotSupported
	case fsal.ErrDelay:
		return StatusDelay
	case fsal.ErrNameTooLong:
		return StatusNameTooLong
	case fsal.ErrNoMem:
		return StatusNoMemory
	case fsal.ErrBadCookie:
		return StatusBadCookie
	case fsal.ErrFileOpen:
		return StatusFileOpen
	case fsal.ErrNotOpened:
		logger.Debug("converting NOT_OPENED to FAULT")
		return StatusFault
	case fsal.ErrSymlink, fsal.ErrBadType:
		return StatusBadType
	case fsal.ErrFBig:
		return StatusFileTooBig
	case fsal.ErrXDev:
		return StatusCrossDevice
	case fsal.ErrMLink:
		return StatusTooManyLinks
	case fsal.ErrFault, fsal.ErrServerFault, fsal.ErrDeadlock:
		return StatusServerFault
	case fsal.ErrTooSmall:
		return StatusTooSmall
	case fsal.ErrShareDenied:
		return StatusShareDenied
	case fsal.ErrLocked:
		return StatusLocked
	case fsal.ErrInGrace:
		return StatusInGrace
	case fsal.ErrCrossJunction:
		return StatusCrossJunction
	case fsal.ErrBadHandle:
		return StatusBadHandle
	case fsal.ErrBadRange:
		return StatusBadRange
	case fsal.ErrBlocked, fsal.ErrInterrupt, fsal.ErrNotInit,
		fsal.ErrAlreadyInit, fsal.ErrBadInit, fsal.ErrTimeout,
		fsal.ErrNoACE:
		// These should have been handled below this layer
		logger.Debug("converting delegate error %s to FAULT", e)
		return StatusFault
	}

	logger.Error("no conversion for delegate error %d, defaulting to FAULT", int(e))
	return StatusFault
}
