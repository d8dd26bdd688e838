package filters

const (
	DeltaStatNameDecodedRate     = "filters.decoded.rate"
	DeltaStatNameDroppedRate     = "filters.dropped.rate"
	DeltaStatNameNotReadyRate    = "filters.not_ready.rate"
	DeltaStatNameReadByteRate    = "filters.read.byte_rate"
	DeltaStatNameReadRate        = "filters.read.rate"
	DeltaStatNameWrittenByteRate = "filters.written.byte_rate"
	DeltaStatNameWrittenRate     = "filters.written.rate"
)
