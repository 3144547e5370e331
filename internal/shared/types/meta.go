package types

// MetaInfo describes the origin of a trace. Only AraComMetaInfo is accepted
// by the job allocator.
type MetaInfo interface {
	metaInfo()
}

// TracePointType classifies the middleware operation being traced.
type TracePointType uint8

const (
	TracePointSkelEventSnd TracePointType = iota
	TracePointSkelEventSndA
	TracePointSkelEventSubState
	TracePointSkelFieldUpdate
	TracePointSkelFieldSetCall
	TracePointSkelFieldGetCall
	TracePointSkelMethodCall
	TracePointProxyEventRecv
	TracePointProxyFieldUpdate
	TracePointProxyMethodCall
)

// ServiceInstanceElement names one element of a service instance.
type ServiceInstanceElement struct {
	ServiceID    uint16
	MajorVersion uint8
	MinorVersion uint32
	InstanceID   uint16
	ElementID    uint16
}

// AraComProperties carries the middleware properties of a trace point.
type AraComProperties struct {
	TracePointType   TracePointType
	Element          ServiceInstanceElement
	TracePointDataID uint32
}

// AraComMetaInfo is the meta info of middleware trace points.
type AraComMetaInfo struct {
	Properties AraComProperties
}

// DltMetaInfo is the meta info of log-and-trace points.
type DltMetaInfo struct {
	ContextName string
}

func (AraComMetaInfo) metaInfo() {}
func (DltMetaInfo) metaInfo()    {}
