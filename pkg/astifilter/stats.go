package astifilter

const (
	DeltaStatNameHostUsage         = "astifilter.host.usage"
	DeltaStatNameIncomingRate      = "astifilter.incoming.rate"
	DeltaStatNameInvocationRate    = "astifilter.invocation.rate"
	DeltaStatNameOutgoingRate      = "astifilter.outgoing.rate"
	DeltaStatNameProcessedByteRate = "astifilter.processed.byte_rate"
	DeltaStatNameProcessedRate     = "astifilter.processed.rate"
	DeltaStatNameRenegotiations    = "astifilter.renegotiations"
)

type DeltaStatHostUsageValue struct {
	CPU        DeltaStatHostCPUUsageValue    `json:"cpu"`
	Goroutines int                           `json:"goroutines"`
	Load       *DeltaStatHostLoadValue       `json:"load,omitempty"`
	Memory     DeltaStatHostMemoryUsageValue `json:"memory"`
}

type DeltaStatHostLoadValue struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

type DeltaStatHostCPUUsageValue struct {
	Individual []float64 `json:"individual"`
	Process    *float64  `json:"process,omitempty"`
	Total      float64   `json:"total"`
}

type DeltaStatHostMemoryUsageValue struct {
	Resident uint64 `json:"resident"`
	Total    uint64 `json:"total"`
	Used     uint64 `json:"used"`
	Virtual  uint64 `json:"virtual"`
}
