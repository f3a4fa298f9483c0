package badger

import (
	"encoding/binary"
	"fmt"
)

// Key namespace
// =============
//
// The store keeps three kinds of records, separated by key prefix:
//
// Data Type          Prefix  Key Format            Value
// ------------------------------------------------------------------
// Node record        "n:"    n:<id>                nodeRecord (JSON)
// Child mapping      "c:"    c:<parentID>:<name>   child id (8 bytes)
// File content       "b:"    b:<id>                raw bytes
//
// Node ids are 64-bit counters rendered as fixed-width hex so keys sort
// numerically. Child keys sort by name within one parent, which makes a
// prefix scan produce the directory listing in cookie order.

const (
	prefixNode    = "n:"
	prefixChild   = "c:"
	prefixContent = "b:"

	// rootID is the node id of the root directory, created at open
	rootID uint64 = 1
)

func keyNode(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixNode, id))
}

func keyChild(parentID uint64, name string) []byte {
	return []byte(fmt.Sprintf("%s%016x:%s", prefixChild, parentID, name))
}

func keyChildPrefix(parentID uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x:", prefixChild, parentID))
}

func keyContent(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixContent, id))
}

func encodeID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func decodeID(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("invalid id encoding: %d bytes", len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}
