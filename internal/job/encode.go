package job

import (
	"encoding/binary"
	"time"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
)

// Record layout in the trace metadata region, little endian:
//
//	timestamp chunk  [0:8]   unix nanoseconds
//	meta chunk       [0]     format (1 = AraCom)
//	                 [1]     trace point type
//	                 [2:4]   service id
//	                 [4:6]   instance id
//	                 [6:8]   element id
//	                 [8]     major version
//	                 [9]     binding
//	                 [10]    client id
//	                 [11]    reserved
//	                 [12:16] minor version
//	                 [16:20] trace point data id
//	                 [20:24] context id
//	                 [24:32] app id
const (
	TimestampSize = 8
	MetaSize      = 32
	headerSize    = TimestampSize + MetaSize

	formatAraCom = 1
)

// Meta is the decoded meta info chunk.
type Meta struct {
	Info      types.AraComMetaInfo
	Binding   types.BindingType
	ClientID  types.ClientID
	ContextID types.ContextID
	AppID     types.AppID
}

func putTimestamp(b []byte, t time.Time) {
	binary.LittleEndian.PutUint64(b[:TimestampSize], uint64(t.UnixNano()))
}

// DecodeTimestamp reads a timestamp chunk.
func DecodeTimestamp(b []byte) (time.Time, error) {
	if len(b) < TimestampSize {
		return time.Time{}, errcode.InvalidArgument
	}
	return time.Unix(0, int64(binary.LittleEndian.Uint64(b))), nil
}

func putMeta(b []byte, m Meta) {
	le := binary.LittleEndian
	p := m.Info.Properties

	b[0] = formatAraCom
	b[1] = byte(p.TracePointType)
	le.PutUint16(b[2:4], p.Element.ServiceID)
	le.PutUint16(b[4:6], p.Element.InstanceID)
	le.PutUint16(b[6:8], p.Element.ElementID)
	b[8] = p.Element.MajorVersion
	b[9] = byte(m.Binding)
	b[10] = byte(m.ClientID)
	b[11] = 0
	le.PutUint32(b[12:16], p.Element.MinorVersion)
	le.PutUint32(b[16:20], p.TracePointDataID)
	le.PutUint32(b[20:24], uint32(m.ContextID))
	copy(b[24:32], m.AppID[:])
}

// DecodeMeta reads a meta info chunk.
func DecodeMeta(b []byte) (Meta, error) {
	if len(b) < MetaSize || b[0] != formatAraCom {
		return Meta{}, errcode.NoMetaInfoProvided
	}
	le := binary.LittleEndian

	var m Meta
	m.Info.Properties = types.AraComProperties{
		TracePointType: types.TracePointType(b[1]),
		Element: types.ServiceInstanceElement{
			ServiceID:    le.Uint16(b[2:4]),
			InstanceID:   le.Uint16(b[4:6]),
			ElementID:    le.Uint16(b[6:8]),
			MajorVersion: b[8],
			MinorVersion: le.Uint32(b[12:16]),
		},
		TracePointDataID: le.Uint32(b[16:20]),
	}
	m.Binding = types.BindingType(b[9])
	m.ClientID = types.ClientID(b[10])
	m.ContextID = types.ContextID(le.Uint32(b[20:24]))
	copy(m.AppID[:], b[24:32])
	return m, nil
}

func araComInfo(meta types.MetaInfo) (types.AraComMetaInfo, bool) {
	switch m := meta.(type) {
	case types.AraComMetaInfo:
		return m, true
	case *types.AraComMetaInfo:
		if m != nil {
			return *m, true
		}
	}
	return types.AraComMetaInfo{}, false
}
