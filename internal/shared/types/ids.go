package types

import (
	"bytes"
	"strconv"
)

// ClientID identifies a trace client. Zero is never issued.
type ClientID uint8

// InvalidClientID is the zero ClientID.
const InvalidClientID ClientID = 0

// ShmObjectHandle identifies a registered shared-memory object.
type ShmObjectHandle int32

// InvalidShmObjectHandle marks an unassigned handle.
const InvalidShmObjectHandle ShmObjectHandle = -1

// ContextID is an opaque caller value returned to the trace done callback.
type ContextID uint32

// AppIDLength is the fixed width of an AppID.
const AppIDLength = 8

// AppID is an application identifier truncated or zero padded to AppIDLength.
type AppID [AppIDLength]byte

// NewAppID copies at most AppIDLength bytes of s and zero pads the rest.
func NewAppID(s string) AppID {
	var id AppID
	copy(id[:], s)
	return id
}

// String returns the identifier without trailing padding.
func (a AppID) String() string {
	return string(bytes.TrimRight(a[:], "\x00"))
}

// IsZero reports whether no byte was set.
func (a AppID) IsZero() bool {
	return a == AppID{}
}

func (c ClientID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

func (h ShmObjectHandle) String() string {
	return strconv.FormatInt(int64(h), 10)
}

// Valid reports whether h can address a registered object.
func (h ShmObjectHandle) Valid() bool {
	return h >= 0
}
