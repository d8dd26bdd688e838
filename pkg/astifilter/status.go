package astifilter

// Status is the lifecycle status of a pipeline or of a chain loop
type Status uint32

// Must be in order of execution
const (
	StatusCreated Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusStarting:
		return "starting"
	case StatusStopping:
		return "stopping"
	default:
		return "done"
	}
}

// ChainState is the state of the graph owned by a chain, independently of whether its loop is running
type ChainState uint32

const (
	ChainStateEmpty ChainState = iota
	ChainStateBuilding
	ChainStateActive
	ChainStateRenegotiating
	ChainStateDraining
	ChainStateError
)

func (s ChainState) String() string {
	switch s {
	case ChainStateEmpty:
		return "empty"
	case ChainStateBuilding:
		return "building"
	case ChainStateActive:
		return "active"
	case ChainStateRenegotiating:
		return "renegotiating"
	case ChainStateDraining:
		return "draining"
	default:
		return "error"
	}
}

// Nodes are only processed in those states
func (s ChainState) schedulable() bool {
	return s == ChainStateActive || s == ChainStateRenegotiating || s == ChainStateDraining
}

type ProcessStatus uint32

const (
	// Some frames were consumed or produced, the node can be called again
	ProcessStatusProgress ProcessStatus = iota
	// The node is waiting for more input
	ProcessStatusNeedInput
	// The node's output is full or its device is not ready
	ProcessStatusNeedOutput
	// The node won't produce anything anymore until it is reset
	ProcessStatusEOF
	ProcessStatusError
)

func (s ProcessStatus) String() string {
	switch s {
	case ProcessStatusProgress:
		return "progress"
	case ProcessStatusNeedInput:
		return "need_input"
	case ProcessStatusNeedOutput:
		return "need_output"
	case ProcessStatusEOF:
		return "eof"
	default:
		return "error"
	}
}

type ResetMode uint32

const (
	// Clears buffered state but keeps configuration and negotiated formats
	ResetModeSoft ResetMode = iota
	// Also invalidates negotiated formats which forces a renegotiation
	ResetModeHard
)

func (m ResetMode) String() string {
	if m == ResetModeHard {
		return "hard"
	}
	return "soft"
}

type NodeRole uint32

const (
	NodeRoleSource NodeRole = iota
	NodeRoleTransform
	NodeRoleConverter
	NodeRoleSink
)

func (r NodeRole) String() string {
	switch r {
	case NodeRoleSource:
		return "source"
	case NodeRoleTransform:
		return "transform"
	case NodeRoleConverter:
		return "converter"
	default:
		return "sink"
	}
}
