package astifilter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
)

type NodeID uint64

// Node is purposefuly not an interface: it is the chain's handle on a filter.
// Nodes never reference each other, edges are owned by the chain.
type Node struct {
	auto       bool
	c          *Chain
	ctx        context.Context
	cs         *nodeCumulativeStats
	e          *astikit.EventManager
	eof        bool
	f          Filter
	id         NodeID
	in         EdgeID
	lastFormat Format
	lastHasPTS bool
	lastPTS    time.Duration
	md         Metadata
	out        EdgeID
	parked     bool
	role       NodeRole
	spec       *FilterSpec
	stalls     int
}

type nodeCumulativeStats struct {
	invocations uint64
	processed   uint64
}

type NodeCumulativeStats struct {
	Invocations uint64
	Processed   uint64
}

type nodeOptions struct {
	auto            bool
	defaultMetadata Metadata
	filter          Filter
	metadata        Metadata
	role            NodeRole
}

func (c *Chain) newNode(o nodeOptions) *Node {
	// Create node
	n := &Node{
		auto: o.auto,
		c:    c,
		ctx:  context.Background(),
		cs:   &nodeCumulativeStats{},
		e:    astikit.NewEventManager(),
		f:    o.filter,
		id:   NodeID(atomic.AddUint64(&c.p.nodeCount, 1)),
		md:   filterMetadata(o.filter, o.defaultMetadata, o.metadata),
		role: o.role,
	}

	// Adapt context
	if c.p.o.ContextAdapters.Node != nil {
		n.ctx = c.p.o.ContextAdapters.Node(n.ctx, c.p, c, n)
	}
	return n
}

func (n *Node) ID() NodeID {
	return n.id
}

func (n *Node) String() string {
	if n.md.Name != "" {
		return fmt.Sprintf("%s (node_%d)", n.md.Name, n.id)
	}
	return fmt.Sprintf("node_%d", n.id)
}

func (n *Node) Metadata() Metadata {
	return n.md
}

func (n *Node) Filter() Filter {
	return n.f
}

// Auto returns true for converters inserted by the chain
func (n *Node) Auto() bool {
	return n.auto
}

func (n *Node) Role() NodeRole {
	return n.role
}

// Spec is nil for nodes that are not user filters
func (n *Node) Spec() *FilterSpec {
	return n.spec
}

func (n *Node) Chain() *Chain {
	return n.c
}

func (n *Node) Context() context.Context {
	return n.ctx
}

func (n *Node) Logger() astikit.CompleteLogger {
	return n.c.p.l
}

func (n *Node) Emit(nm astikit.EventName, payload interface{}) {
	n.e.Emit(nm, payload)
}

func (n *Node) On(nm astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return n.e.On(nm, h)
}

// Wakeup can be called from any goroutine
func (n *Node) Wakeup() {
	n.c.Wakeup(n.id)
}

func (n *Node) CumulativeStats() NodeCumulativeStats {
	return NodeCumulativeStats{
		Invocations: atomic.LoadUint64(&n.cs.invocations),
		Processed:   atomic.LoadUint64(&n.cs.processed),
	}
}

func (n *Node) DeltaStats() []astikit.DeltaStat {
	ss := []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of times the node has been processed per second",
				Label:       "Invocation rate",
				Name:        DeltaStatNameInvocationRate,
				Unit:        "Hz",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&n.cs.invocations),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames read or written per second",
				Label:       "Processed rate",
				Name:        DeltaStatNameProcessedRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&n.cs.processed),
		},
	}
	if ds, ok := n.f.(DeltaStater); ok {
		ss = append(ss, ds.DeltaStats()...)
	}
	return ss
}

func (n *Node) observe(f *Frame) {
	atomic.AddUint64(&n.cs.processed, 1)
	n.lastFormat = f.Format
	if f.HasPTS {
		n.lastHasPTS = true
		n.lastPTS = f.PTS
	}
}

type EdgeID uint64

// Edge links two nodes through a queue. Its ends never change: when the chain is rewired, the
// queue is moved to a new edge.
type Edge struct {
	f          Format
	from       NodeID
	id         EdgeID
	m          sync.Mutex // Locks f and negotiated
	negotiated bool
	q          *Queue
	to         NodeID
}

func (e *Edge) ID() EdgeID {
	return e.id
}

func (e *Edge) From() NodeID {
	return e.from
}

func (e *Edge) To() NodeID {
	return e.to
}

func (e *Edge) Queue() *Queue {
	return e.q
}

// Format returns false until the edge has been negotiated
func (e *Edge) Format() (Format, bool) {
	e.m.Lock()
	defer e.m.Unlock()
	return e.f, e.negotiated
}

func (e *Edge) String() string {
	return fmt.Sprintf("edge_%d (node_%d --> node_%d)", e.id, e.from, e.to)
}

func (e *Edge) setFormat(f Format) {
	e.m.Lock()
	defer e.m.Unlock()
	e.f = f
	e.negotiated = true
}

func (e *Edge) invalidate() {
	e.m.Lock()
	defer e.m.Unlock()
	e.f = Format{}
	e.negotiated = false
}
