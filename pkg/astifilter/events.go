package astifilter

import "github.com/asticode/go-astikit"

const (
	eventNameTaskClosed   astikit.EventName = "astifilter.task.closed"
	eventNameTaskDone     astikit.EventName = "astifilter.task.done"
	eventNameTaskRunning  astikit.EventName = "astifilter.task.running"
	eventNameTaskStarting astikit.EventName = "astifilter.task.starting"
	eventNameTaskStopping astikit.EventName = "astifilter.task.stopping"
)

const (
	// Payload is nil
	EventNamePipelineClosed   astikit.EventName = "astifilter.pipeline.closed"
	EventNamePipelineDone     astikit.EventName = "astifilter.pipeline.done"
	EventNamePipelineRunning  astikit.EventName = "astifilter.pipeline.running"
	EventNamePipelineStarting astikit.EventName = "astifilter.pipeline.starting"
	EventNamePipelineStopping astikit.EventName = "astifilter.pipeline.stopping"
)

// Active, drained, error, renegotiated, state changed, node eof and node stalled events are
// emitted once the chain has left its dispatch context: their handlers may call Build, Close or
// Run on the chain.
const (
	// Payload is *Chain
	EventNameChainCreated astikit.EventName = "astifilter.chain.created"
	// Payload is nil
	EventNameChainActive   astikit.EventName = "astifilter.chain.active"
	EventNameChainClosed   astikit.EventName = "astifilter.chain.closed"
	EventNameChainDone     astikit.EventName = "astifilter.chain.done"
	EventNameChainDrained  astikit.EventName = "astifilter.chain.drained"
	EventNameChainRunning  astikit.EventName = "astifilter.chain.running"
	EventNameChainStarting astikit.EventName = "astifilter.chain.starting"
	EventNameChainStopping astikit.EventName = "astifilter.chain.stopping"
	// Payload is *ChainError
	EventNameChainError astikit.EventName = "astifilter.chain.error"
	// Payload is EventChainRenegotiated
	EventNameChainRenegotiated astikit.EventName = "astifilter.chain.renegotiated"
	// Payload is EventChainStateChanged
	EventNameChainStateChanged astikit.EventName = "astifilter.chain.state.changed"
)

const (
	// Payload is *Edge
	EventNameEdgeAdded   astikit.EventName = "astifilter.edge.added"
	EventNameEdgeRemoved astikit.EventName = "astifilter.edge.removed"
)

const (
	// Payload is *Node
	EventNameNodeCreated   astikit.EventName = "astifilter.node.created"
	EventNameNodeDestroyed astikit.EventName = "astifilter.node.destroyed"
	EventNameNodeEOF       astikit.EventName = "astifilter.node.eof"
	EventNameNodeStalled   astikit.EventName = "astifilter.node.stalled"
)

type EventChainStateChanged struct {
	From ChainState
	To   ChainState
}

type EventChainRenegotiated struct {
	// Nil when the link is direct
	Converter *Node
	From      *Node
	In        Format
	Out       Format
	To        *Node
}
