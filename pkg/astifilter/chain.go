package astifilter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

// Chain owns the graph of nodes going from a source to a sink. Its graph is only ever
// mutated from its dispatch context, which is entered by Run (or by its loop once started).
type Chain struct {
	cmds      []chainCommand
	ctx       context.Context
	cs        *chainCumulativeStats
	e         *astikit.EventManager
	edgeCount uint64
	edges     map[EdgeID]*Edge
	err       *ChainError
	fc        chainFormatChange
	id        uint64
	links     map[NodeID]*chainLink // Indexed by producer id
	mc        sync.Mutex            // Locks cmds
	mg        sync.Mutex            // Locks edges, nodes and order
	mr        sync.Mutex            // Dispatch context
	ms        sync.Mutex            // Locks s
	neg       *Negotiator
	nodes     map[NodeID]*Node
	notifs    []func() // Owner notifications emitted once the dispatch context is left
	o         ChainOptions
	order     []NodeID // User level nodes only
	p         *Pipeline
	retries   []NodeID
	s         ChainState
	speed     float64
	t         *task
	wake      chan struct{}
	ws        *workSet
}

type chainCumulativeStats struct {
	renegotiations uint64
	runs           uint64
}

type ChainCumulativeStats struct {
	Renegotiations uint64
	Runs           uint64
}

type ChainOptions struct {
	// Default is SelectFirstAcceptable
	ConverterSelector ConverterSelector
	// Tried in order
	Converters []ConverterFactory
	// Needed as soon as user filters are provided
	Filters  FilterCreator
	Metadata Metadata
	// When set, frames stop flowing to the sink when their format changes until
	// ContinueFormatChange is called. It's called once the dispatch context has been left.
	OnFormatChange func(fc FormatChange)
	// Default is 4
	QueueCapacity int
	// Number of consecutive Progress statuses without queue activity after which a node is
	// parked. Default is 100.
	StallThreshold int
}

type ChainBuildOptions struct {
	// Optional
	Decoder     Filter
	Sink        Filter
	Source      Filter
	UserFilters []FilterSpec
}

type FormatChange struct {
	After  Format
	Before Format
	// Node the frames are flowing to
	Node *Node
}

type chainFormatChange struct {
	blocked   bool
	continued bool
	node      NodeID
}

// A link is the connection between two user level nodes. It either is a single edge or goes
// through an auto inserted converter.
type chainLink struct {
	converter NodeID
	entry     EdgeID
	exit      EdgeID
	factory   ConverterFactory
	force     bool
	from      NodeID
	plan      NegotiationPlan
	to        NodeID
}

type userFilter struct {
	f    Filter
	spec FilterSpec
}

func (p *Pipeline) NewChain(o ChainOptions) (c *Chain, err error) {
	// Invalid pipeline status
	if p.Status() > StatusRunning {
		err = fmt.Errorf("astifilter: invalid pipeline status %s", p.Status())
		return
	}

	// Default options
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 4
	}
	if o.StallThreshold <= 0 {
		o.StallThreshold = 100
	}

	// Create chain
	c = &Chain{
		ctx:   context.Background(),
		cs:    &chainCumulativeStats{},
		e:     astikit.NewEventManager(),
		edges: make(map[EdgeID]*Edge),
		id:    atomic.AddUint64(&p.chainCount, 1),
		links: make(map[NodeID]*chainLink),
		neg:   NewNegotiator(o.Converters, o.ConverterSelector),
		nodes: make(map[NodeID]*Node),
		o:     o,
		p:     p,
		s:     ChainStateEmpty,
		speed: 1,
		wake:  make(chan struct{}, 1),
		ws:    newWorkSet(),
	}

	// Adapt context
	if p.o.ContextAdapters.Chain != nil {
		c.ctx = p.o.ContextAdapters.Chain(c.ctx, p, c)
	}

	// Create task
	c.t = newTask(p.t.c.NewChild(), c.onTaskStart, nil)

	// Make sure nodes are destroyed
	c.t.c.Add(func() { c.Close() })

	// Listen to task events
	c.t.e.On(eventNameTaskClosed, func(payload interface{}) (delete bool) {
		// Log
		p.l.InfoC(c.ctx, "astifilter: chain is closed")

		// Emit
		c.Emit(EventNameChainClosed, nil)
		return true
	})
	c.t.e.On(eventNameTaskDone, func(payload interface{}) (delete bool) {
		// Log
		p.l.InfoC(c.ctx, "astifilter: chain is done")

		// Emit
		c.Emit(EventNameChainDone, nil)
		return
	})
	c.t.e.On(eventNameTaskRunning, func(payload interface{}) (delete bool) {
		// Log
		p.l.InfoC(c.ctx, "astifilter: chain is running")

		// Emit
		c.Emit(EventNameChainRunning, nil)
		return
	})
	c.t.e.On(eventNameTaskStarting, func(payload interface{}) (delete bool) {
		// Log
		p.l.InfoC(c.ctx, "astifilter: chain is starting")

		// Emit
		c.Emit(EventNameChainStarting, nil)
		return
	})
	c.t.e.On(eventNameTaskStopping, func(payload interface{}) (delete bool) {
		// Log
		p.l.InfoC(c.ctx, "astifilter: chain is stopping")

		// Emit
		c.Emit(EventNameChainStopping, nil)
		return
	})

	// Emit created chain
	p.Emit(EventNameChainCreated, c)
	return
}

func (c *Chain) ID() uint64 {
	return c.id
}

func (c *Chain) String() string {
	if c.Metadata().Name != "" {
		return fmt.Sprintf("%s (chain_%d)", c.Metadata().Name, c.id)
	}
	return fmt.Sprintf("chain_%d", c.id)
}

func (c *Chain) Metadata() Metadata {
	return c.o.Metadata
}

func (c *Chain) Pipeline() *Pipeline {
	return c.p
}

func (c *Chain) Logger() astikit.CompleteLogger {
	return c.p.l
}

func (c *Chain) Context() context.Context {
	return c.ctx
}

// Status is the status of the chain's loop
func (c *Chain) Status() Status {
	return c.t.status()
}

func (c *Chain) Emit(nm astikit.EventName, payload interface{}) {
	c.e.Emit(nm, payload)
}

func (c *Chain) On(nm astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return c.e.On(nm, h)
}

func (c *Chain) State() ChainState {
	c.ms.Lock()
	defer c.ms.Unlock()
	return c.s
}

func (c *Chain) setState(s ChainState) {
	// Lock
	c.ms.Lock()

	// Nothing to do
	from := c.s
	if from == s {
		c.ms.Unlock()
		return
	}

	// Update
	c.s = s

	// Unlock
	c.ms.Unlock()

	//!\\ Mutex should be unlocked at this point

	// Log
	c.p.l.DebugC(c.ctx, fmt.Sprintf("astifilter: chain state changed: %s --> %s", from, s))

	// Emit
	c.notify(func() { c.Emit(EventNameChainStateChanged, EventChainStateChanged{From: from, To: s}) })
	if s == ChainStateActive && from != ChainStateRenegotiating {
		c.p.l.InfoC(c.ctx, "astifilter: chain is active")
		c.notify(func() { c.Emit(EventNameChainActive, nil) })
	}
}

// notify must be called in the dispatch context. Notifications are emitted in order once the
// dispatch context is left so that handlers can call Build, Close or Run on the chain.
func (c *Chain) notify(fn func()) {
	c.notifs = append(c.notifs, fn)
}

// leave leaves the dispatch context and emits pending notifications
func (c *Chain) leave() {
	fns := c.notifs
	c.notifs = nil
	c.mr.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Err returns the error that moved the chain to the error state
func (c *Chain) Err() *ChainError {
	c.ms.Lock()
	defer c.ms.Unlock()
	return c.err
}

func (c *Chain) CumulativeStats() ChainCumulativeStats {
	return ChainCumulativeStats{
		Renegotiations: atomic.LoadUint64(&c.cs.renegotiations),
		Runs:           atomic.LoadUint64(&c.cs.runs),
	}
}

func (c *Chain) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of renegotiations",
				Label:       "Renegotiations",
				Name:        DeltaStatNameRenegotiations,
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&c.cs.renegotiations),
		},
	}
}

// Nodes returns the nodes in the order frames flow through them, converters included
func (c *Chain) Nodes() (ns []*Node) {
	c.mg.Lock()
	defer c.mg.Unlock()
	for _, id := range c.order {
		ns = append(ns, c.nodes[id])
		if l, ok := c.links[id]; ok && l.converter != 0 {
			ns = append(ns, c.nodes[l.converter])
		}
	}
	return
}

// Edges are returned in the order frames flow through them
func (c *Chain) Edges() (es []*Edge) {
	c.mg.Lock()
	defer c.mg.Unlock()
	for _, id := range c.order {
		l, ok := c.links[id]
		if !ok {
			continue
		}
		es = append(es, c.edges[l.entry])
		if l.exit != l.entry {
			es = append(es, c.edges[l.exit])
		}
	}
	return
}

// Converters returns the nodes inserted by the chain
func (c *Chain) Converters() (ns []*Node) {
	for _, n := range c.Nodes() {
		if n.auto {
			ns = append(ns, n)
		}
	}
	return
}

func (c *Chain) Node(id NodeID) (*Node, bool) {
	c.mg.Lock()
	defer c.mg.Unlock()
	n, ok := c.nodes[id]
	return n, ok
}

// Build creates nodes in order source, decoder, user filters, sink, wires them and negotiates
// formats once. The chain must be empty.
func (c *Chain) Build(o ChainBuildOptions) error {
	// Enter dispatch context
	if !c.mr.TryLock() {
		return ErrChainBusy
	}
	defer c.leave()

	// Invalid state
	if s := c.State(); s != ChainStateEmpty {
		return fmt.Errorf("astifilter: invalid chain state %s", s)
	}

	// Invalid options
	if o.Source == nil {
		return errors.New("astifilter: source is mandatory")
	} else if o.Sink == nil {
		return errors.New("astifilter: sink is mandatory")
	}

	// Create user filters
	ufs, err := c.newUserFilters(o.UserFilters)
	if err != nil {
		return fmt.Errorf("astifilter: creating user filters failed: %w", err)
	}

	// Update state
	c.setState(ChainStateBuilding)

	// Create nodes
	ns := []*Node{c.newNode(nodeOptions{
		defaultMetadata: Metadata{Name: "source"},
		filter:          o.Source,
		role:            NodeRoleSource,
	})}
	if o.Decoder != nil {
		ns = append(ns, c.newNode(nodeOptions{
			defaultMetadata: Metadata{Name: "decoder"},
			filter:          o.Decoder,
			role:            NodeRoleTransform,
		}))
	}
	for _, uf := range ufs {
		ns = append(ns, c.newUserNode(uf))
	}
	ns = append(ns, c.newNode(nodeOptions{
		defaultMetadata: Metadata{Name: "sink"},
		filter:          o.Sink,
		role:            NodeRoleSink,
	}))

	// Add nodes
	for _, n := range ns {
		c.addNode(n)
	}

	// Add links
	for idx := 0; idx < len(ns)-1; idx++ {
		c.addLink(ns[idx], ns[idx+1], nil)
	}

	// Negotiate
	if err := c.negotiateAll(); err != nil {
		return c.fail(err)
	}

	// Update state
	c.setState(ChainStateActive)

	// Signal
	c.signal()
	return nil
}

func (c *Chain) newUserFilters(specs []FilterSpec) (ufs []userFilter, err error) {
	// Nothing to do
	if len(specs) == 0 {
		return
	}

	// No creator
	if c.o.Filters == nil {
		err = errors.New("astifilter: no filter creator")
		return
	}

	// Loop through specs
	for _, s := range specs {
		// Create filter
		var f Filter
		if f, err = c.o.Filters.NewFilter(s); err != nil {
			err = fmt.Errorf("astifilter: creating filter %s failed: %w", s, err)
			break
		}
		ufs = append(ufs, userFilter{f: f, spec: s})
	}

	// Make sure to destroy filters on error
	if err != nil {
		for _, uf := range ufs {
			if derr := uf.f.Destroy(); derr != nil {
				c.p.l.WarnC(c.ctx, fmt.Errorf("astifilter: destroying filter %s failed: %w", uf.spec, derr))
			}
		}
		ufs = nil
	}
	return
}

func (c *Chain) newUserNode(uf userFilter) *Node {
	n := c.newNode(nodeOptions{
		defaultMetadata: Metadata{Name: uf.spec.Name},
		filter:          uf.f,
		metadata:        Metadata{Name: uf.spec.Label},
		role:            NodeRoleTransform,
	})
	s := uf.spec
	n.spec = &s
	return n
}

func (c *Chain) addNode(n *Node) {
	// Add
	c.mg.Lock()
	c.nodes[n.id] = n
	if !n.auto {
		c.order = append(c.order, n.id)
	}
	c.mg.Unlock()

	// Log
	c.p.l.DebugC(n.ctx, "astifilter: node created")

	// Emit
	c.Emit(EventNameNodeCreated, n)
}

func (c *Chain) destroyNode(n *Node) {
	// Remove
	c.mg.Lock()
	delete(c.nodes, n.id)
	for idx := 0; idx < len(c.order); idx++ {
		if c.order[idx] == n.id {
			c.order = append(c.order[:idx], c.order[idx+1:]...)
			idx--
		}
	}
	c.mg.Unlock()
	c.ws.remove(n.id)

	// Destroy
	if err := n.f.Destroy(); err != nil {
		c.p.l.WarnC(n.ctx, fmt.Errorf("astifilter: destroying node failed: %w", err))
	}

	// Log
	c.p.l.DebugC(n.ctx, "astifilter: node destroyed")

	// Emit
	n.Emit(EventNameNodeDestroyed, n)
	c.Emit(EventNameNodeDestroyed, n)
}

func (c *Chain) connect(from, to *Node, q *Queue) *Edge {
	// Create queue
	if q == nil {
		// Capacity has been validated already
		q, _ = NewQueue(c.o.QueueCapacity)
	}

	// Create edge
	e := &Edge{
		from: from.id,
		id:   EdgeID(atomic.AddUint64(&c.edgeCount, 1)),
		q:    q,
		to:   to.id,
	}

	// Add
	c.mg.Lock()
	c.edges[e.id] = e
	c.mg.Unlock()
	from.out = e.id
	to.in = e.id

	// Emit
	c.Emit(EventNameEdgeAdded, e)
	return e
}

func (c *Chain) disconnect(e *Edge) {
	// Remove
	c.mg.Lock()
	delete(c.edges, e.id)
	c.mg.Unlock()
	if n, ok := c.nodes[e.from]; ok && n.out == e.id {
		n.out = 0
	}
	if n, ok := c.nodes[e.to]; ok && n.in == e.id {
		n.in = 0
	}

	// Emit
	c.Emit(EventNameEdgeRemoved, e)
}

func (c *Chain) addLink(from, to *Node, q *Queue) *chainLink {
	e := c.connect(from, to, q)
	l := &chainLink{
		entry: e.id,
		exit:  e.id,
		from:  from.id,
		to:    to.id,
	}
	c.mg.Lock()
	c.links[from.id] = l
	c.mg.Unlock()
	return l
}

// Flushes the link's queues and removes its edges and converter
func (c *Chain) removeLink(l *chainLink) {
	// Remove edges
	for _, id := range []EdgeID{l.entry, l.exit} {
		if e, ok := c.edges[id]; ok {
			e.q.Flush()
			c.disconnect(e)
		}
	}

	// Destroy converter
	if l.converter != 0 {
		if n, ok := c.nodes[l.converter]; ok {
			c.destroyNode(n)
		}
	}

	// Remove link
	c.mg.Lock()
	delete(c.links, l.from)
	c.mg.Unlock()
}

// Removes the converter and links the producer directly to the consumer. The entry queue is
// kept, the exit queue is flushed.
func (c *Chain) removeConverter(l *chainLink) {
	// No converter
	if l.converter == 0 {
		return
	}

	// Get edges
	entry, exit := c.edges[l.entry], c.edges[l.exit]

	// Remove edges
	c.disconnect(entry)
	exit.q.Flush()
	c.disconnect(exit)

	// Destroy converter
	if n, ok := c.nodes[l.converter]; ok {
		c.destroyNode(n)
	}

	// Link directly
	e := c.connect(c.nodes[l.from], c.nodes[l.to], entry.q)
	c.mg.Lock()
	l.converter = 0
	l.entry = e.id
	l.exit = e.id
	l.factory = nil
	c.mg.Unlock()
}

// Applies the plan without waiting for anything to drain. Frames waiting in the entry queue
// are kept.
func (c *Chain) applyPlan(l *chainLink, p NegotiationPlan) (structural bool, err error) {
	// Same converter can be kept
	if l.converter != 0 && !p.Direct() && l.factory == p.Factory && l.plan.In.Equal(p.In) && l.plan.Out.Equal(p.Out) {
		c.edges[l.entry].setFormat(p.In)
		return
	}

	// Remove previous converter
	structural = l.converter != 0 || !p.Direct()
	c.removeConverter(l)

	// Direct
	entry := c.edges[l.entry]
	if p.Direct() {
		entry.setFormat(p.In)
		l.plan = p
		return
	}

	// Create converter
	f, err := p.Factory.NewConverter(p.In, p.Out)
	if err != nil {
		err = fmt.Errorf("%w: creating %s converter failed: %w", ErrFormatNegotiation, p.Factory.Name(), err)
		return
	}
	n := c.newNode(nodeOptions{
		auto:            true,
		defaultMetadata: Metadata{Name: p.Factory.Name(), Tags: []string{"auto"}},
		filter:          f,
		role:            NodeRoleConverter,
	})
	c.addNode(n)

	// Rewire
	c.disconnect(entry)
	e1 := c.connect(c.nodes[l.from], n, entry.q)
	e1.setFormat(p.In)
	e2 := c.connect(n, c.nodes[l.to], nil)
	e2.setFormat(p.Out)

	// Update link
	c.mg.Lock()
	l.converter = n.id
	l.entry = e1.id
	l.exit = e2.id
	l.factory = p.Factory
	l.plan = p
	c.mg.Unlock()

	// Converter needs to be processed
	c.ws.push(n.id)
	return
}

func (c *Chain) negotiateLink(l *chainLink, in Format) (p NegotiationPlan, structural bool, err error) {
	// Negotiate
	if p, err = c.neg.Negotiate(in, c.nodes[l.to].f, l.force); err != nil {
		err = newChainError(ErrFormatNegotiation, c.nodes[l.to], err)
		return
	}

	// Apply
	if structural, err = c.applyPlan(l, p); err != nil {
		err = newChainError(ErrFormatNegotiation, c.nodes[l.to], err)
		return
	}

	// Update stats
	atomic.AddUint64(&c.cs.renegotiations, 1)
	return
}

// Walks links from the source as far as output formats are known in advance. Remaining links
// are negotiated when their first frame shows up.
func (c *Chain) negotiateAll() error {
	// No nodes
	if len(c.order) == 0 {
		return nil
	}

	// Get source format
	in, known := c.nodes[c.order[0]].f.OutputFormat(Format{})

	// Loop through links
	for idx := 0; idx < len(c.order)-1 && known; idx++ {
		// Get link
		l, ok := c.links[c.order[idx]]
		if !ok {
			break
		}

		// Negotiate
		p, _, err := c.negotiateLink(l, in)
		if err != nil {
			return err
		}

		// Log
		c.logPlan(l, p)

		// Emit
		c.emitRenegotiated(l)

		// Get next format
		in, known = c.nodes[l.to].f.OutputFormat(p.Out)
	}
	return nil
}

func (c *Chain) logPlan(l *chainLink, p NegotiationPlan) {
	from, to := c.nodes[l.from], c.nodes[l.to]
	if p.Direct() {
		c.p.l.DebugC(c.ctx, fmt.Sprintf("astifilter: %s linked directly to %s with format %s", from, to, p.In))
	} else {
		c.p.l.DebugC(c.ctx, fmt.Sprintf("astifilter: %s linked to %s through %s converting %s to %s", from, to, p.Factory.Name(), p.In, p.Out))
	}
}

// Checks the head of the node's input queue and renegotiates the link when the format changes.
// It returns true when the node must not be processed for now.
func (c *Chain) checkInput(n *Node) (bool, error) {
	// No input
	e, ok := c.edges[n.in]
	if !ok {
		return false, nil
	}

	// Only entry edges are checked
	l, ok := c.links[e.from]
	if !ok || l.entry != e.id {
		return false, nil
	}

	for {
		// Get incoming format
		var in Format
		fc, explicit := e.q.HeadFormatChange()
		if explicit {
			in = fc
		} else if f, ok := e.q.Peek(); ok {
			in = f.Format
		} else {
			return false, nil
		}

		// Format didn't change
		if current, ok := e.Format(); ok && current.Equal(in) {
			if explicit {
				e.q.popFormatChange()
				continue
			}
			return false, nil
		}

		// Renegotiate
		return c.renegotiate(n, l, in, explicit)
	}
}

func (c *Chain) renegotiate(n *Node, l *chainLink, in Format, explicit bool) (bool, error) {
	// Get previous format
	before, wasNegotiated := c.edges[l.entry].Format()

	// Converter must be drained first
	if l.converter != 0 {
		if drained, err := c.drainConverter(l); err != nil {
			return true, err
		} else if !drained {
			c.ws.push(l.to)
			return true, nil
		}
	}

	// Frames reaching the sink must wait for the owner's approval
	if to := c.nodes[l.to]; wasNegotiated && to.role == NodeRoleSink && c.o.OnFormatChange != nil {
		if !c.fc.continued {
			if !c.fc.blocked {
				// Log
				c.p.l.InfoC(c.ctx, fmt.Sprintf("astifilter: waiting for format change approval: %s", FormatDelta{After: in, Before: before}))

				// Block
				c.fc = chainFormatChange{blocked: true, node: n.id}

				// Callback
				fc := FormatChange{After: in, Before: before, Node: to}
				c.notify(func() { c.o.OnFormatChange(fc) })
			}
			return true, nil
		}
		c.fc = chainFormatChange{}
	}

	// Update state
	prev := c.State()
	if prev == ChainStateActive {
		c.setState(ChainStateRenegotiating)
	}

	// Negotiate
	p, structural, err := c.negotiateLink(l, in)
	if err != nil {
		return true, err
	}

	// Remove format change
	if explicit {
		c.edges[l.entry].q.popFormatChange()
	}

	// Log
	if wasNegotiated {
		c.p.l.InfoC(c.ctx, fmt.Sprintf("astifilter: format changed between %s and %s: %s", c.nodes[l.from], c.nodes[l.to], FormatDelta{After: in, Before: before}))
	}
	c.logPlan(l, p)

	// Restore state
	if prev == ChainStateActive {
		c.setState(ChainStateActive)
	}

	// Emit
	if explicit || structural || !wasNegotiated {
		c.emitRenegotiated(l)
	}

	// Node has changed
	if _, ok := c.nodes[n.id]; !ok || c.edges[l.entry].to != n.id {
		c.ws.push(c.edges[l.entry].to)
		return true, nil
	}
	return false, nil
}

func (c *Chain) emitRenegotiated(l *chainLink) {
	e := EventChainRenegotiated{
		From: c.nodes[l.from],
		In:   l.plan.In,
		Out:  l.plan.Out,
		To:   c.nodes[l.to],
	}
	if l.converter != 0 {
		e.Converter = c.nodes[l.converter]
	}
	c.notify(func() { c.Emit(EventNameChainRenegotiated, e) })
}

// Returns true once the converter holds nothing anymore
func (c *Chain) drainConverter(l *chainLink) (bool, error) {
	// Frames are still waiting
	exit := c.edges[l.exit]
	if !exit.q.Empty() {
		return false, nil
	}

	// Converter has no internal state
	n := c.nodes[l.converter]
	d, ok := n.f.(Drainer)
	if !ok {
		return true, nil
	}

	// Drain
	done, err := d.Drain(&Pins{n: n, out: &OutputPin{e: exit, n: n}})
	if err != nil {
		return false, newChainError(ErrNodeProcessing, n, fmt.Errorf("astifilter: draining failed: %w", err))
	}
	return done && exit.q.Empty(), nil
}

func (c *Chain) fail(err error) error {
	// Get chain error
	var ce *ChainError
	if !errors.As(err, &ce) {
		ce = newChainError(ErrNodeProcessing, nil, err)
	}

	// Error has already been surfaced
	if c.State() == ChainStateError {
		return ce
	}

	// Store error
	c.ms.Lock()
	c.err = ce
	c.ms.Unlock()

	// Log
	c.p.l.ErrorC(c.ctx, ce)

	// Update state
	c.setState(ChainStateError)

	// Clear work
	c.ws.clear()

	// Emit
	c.notify(func() { c.Emit(EventNameChainError, ce) })
	return ce
}

// Flushes queues, destroys nodes and removes edges
func (c *Chain) teardown() {
	// Remove links
	for _, id := range append([]NodeID{}, c.order...) {
		if l, ok := c.links[id]; ok {
			c.removeLink(l)
		}
	}

	// Destroy nodes
	for _, id := range append([]NodeID{}, c.order...) {
		if n, ok := c.nodes[id]; ok {
			c.destroyNode(n)
		}
	}

	// Reset
	c.mg.Lock()
	c.edges = make(map[EdgeID]*Edge)
	c.links = make(map[NodeID]*chainLink)
	c.nodes = make(map[NodeID]*Node)
	c.order = nil
	c.mg.Unlock()
	c.fc = chainFormatChange{}
	c.retries = nil
	c.ws.clear()
}

// Close flushes everything, destroys nodes and moves the chain back to the empty state. It
// waits for the current run to finish.
func (c *Chain) Close() {
	// Enter dispatch context
	c.mr.Lock()
	defer c.leave()

	// Nothing to do
	if c.State() == ChainStateEmpty && len(c.nodes) == 0 {
		return
	}

	// Teardown
	c.teardown()

	// Reset error
	c.ms.Lock()
	c.err = nil
	c.ms.Unlock()

	// Update state
	c.setState(ChainStateEmpty)
}

// Flush drops every buffered frame and resets nodes, synchronously. It waits for the current
// run to finish.
func (c *Chain) Flush() error {
	c.mr.Lock()
	defer c.leave()
	return c.reset(ResetModeSoft)
}

func (c *Chain) reset(m ResetMode) error {
	// Invalid state
	if s := c.State(); !s.schedulable() {
		c.p.l.DebugC(c.ctx, fmt.Sprintf("astifilter: ignoring %s reset in state %s", m, s))
		return nil
	}

	// Log
	c.p.l.DebugC(c.ctx, fmt.Sprintf("astifilter: resetting chain (%s)", m))

	// Flush queues
	for _, e := range c.edges {
		e.q.Flush()
	}

	// Reset nodes
	for _, n := range c.nodes {
		n.f.Reset(m)
		n.eof = false
		n.parked = false
		n.stalls = 0
	}

	// Reset format change
	c.fc = chainFormatChange{}

	// Data will flow again
	if c.State() == ChainStateDraining {
		c.setState(ChainStateActive)
	}

	// Renegotiate
	if m == ResetModeHard {
		// Invalidate links
		for _, l := range c.links {
			c.removeConverter(l)
			c.edges[l.entry].invalidate()
		}

		// Negotiate
		c.setState(ChainStateRenegotiating)
		if err := c.negotiateAll(); err != nil {
			return c.fail(err)
		}
		c.setState(ChainStateActive)
	}

	// Sink is pulling
	c.ws.clear()
	c.pushSink()
	return nil
}

// Returns the output format the node is known to produce
func (c *Chain) outputFormat(n *Node, prev map[NodeID]Format) (Format, bool) {
	// Source
	if n.role == NodeRoleSource {
		if f, ok := n.f.OutputFormat(Format{}); ok {
			return f, true
		}
	} else if e, ok := c.edges[n.in]; ok {
		// Input is known
		if in, ok := e.Format(); ok {
			if f, ok := n.f.OutputFormat(in); ok {
				return f, true
			}
		}
	}

	// Fallback to what the node produced previously
	f, ok := prev[n.id]
	return f, ok
}

// Keeps nodes whose spec is unchanged, removes and inserts the others, and renegotiates only the
// links that changed
func (c *Chain) splice(ufs []userFilter) error {
	// Invalid state
	if s := c.State(); !s.schedulable() {
		c.p.l.WarnC(c.ctx, fmt.Errorf("astifilter: ignoring user filters in state %s", s))
		for _, uf := range ufs {
			if err := uf.f.Destroy(); err != nil {
				c.p.l.WarnC(c.ctx, fmt.Errorf("astifilter: destroying filter %s failed: %w", uf.spec, err))
			}
		}
		return nil
	}

	// Update state
	prev := c.State()
	c.setState(ChainStateRenegotiating)

	// Split order
	var head, users []*Node
	var sink *Node
	for _, id := range c.order {
		n := c.nodes[id]
		switch {
		case n.spec != nil:
			users = append(users, n)
		case n.role == NodeRoleSink:
			sink = n
		default:
			head = append(head, n)
		}
	}

	// Match unchanged filters
	oldKeys := make([]string, len(users))
	for idx, n := range users {
		oldKeys[idx] = n.spec.key()
	}
	newKeys := make([]string, len(ufs))
	for idx, uf := range ufs {
		newKeys[idx] = uf.spec.key()
	}
	matches := longestCommonSubsequence(oldKeys, newKeys)

	// Build new order
	var next []*Node
	next = append(next, head...)
	kept := make(map[NodeID]bool)
	var added []*Node
	for idx, uf := range ufs {
		if oldIdx, ok := matches[idx]; ok {
			// Keep node
			next = append(next, users[oldIdx])
			kept[users[oldIdx].id] = true

			// Filter is not needed
			if err := uf.f.Destroy(); err != nil {
				c.p.l.WarnC(c.ctx, fmt.Errorf("astifilter: destroying filter %s failed: %w", uf.spec, err))
			}
			continue
		}
		n := c.newUserNode(uf)
		next = append(next, n)
		added = append(added, n)
	}
	next = append(next, sink)

	// Index new pairs
	pairs := make(map[NodeID]NodeID)
	for idx := 0; idx < len(next)-1; idx++ {
		pairs[next[idx].id] = next[idx+1].id
	}

	// Remove links that don't exist anymore
	formats := make(map[NodeID]Format)
	for _, id := range append([]NodeID{}, c.order...) {
		l, ok := c.links[id]
		if !ok {
			continue
		}
		if to, ok := pairs[l.from]; ok && to == l.to {
			continue
		}
		if f, ok := c.edges[l.entry].Format(); ok {
			formats[l.from] = f
		}
		c.removeLink(l)
	}

	// Destroy removed nodes
	for _, n := range users {
		if !kept[n.id] {
			c.destroyNode(n)
		}
	}

	// Add new nodes
	for _, n := range added {
		c.addNode(n)
	}

	// Update order
	ids := make([]NodeID, 0, len(next))
	for _, n := range next {
		ids = append(ids, n.id)
	}
	c.mg.Lock()
	c.order = ids
	c.mg.Unlock()

	// Add missing links in order so that formats propagate
	for idx := 0; idx < len(next)-1; idx++ {
		// Link exists
		from, to := next[idx], next[idx+1]
		if _, ok := c.links[from.id]; ok {
			continue
		}

		// Add link
		l := c.addLink(from, to, nil)

		// Negotiate when producer's format is known
		in, ok := c.outputFormat(from, formats)
		if !ok {
			continue
		}
		p, _, err := c.negotiateLink(l, in)
		if err != nil {
			return c.fail(err)
		}
		c.logPlan(l, p)
		c.emitRenegotiated(l)
	}

	// Log
	c.p.l.InfoC(c.ctx, fmt.Sprintf("astifilter: user filters updated: %s", FilterSpecs(c.userSpecs())))

	// Restore state
	c.setState(prev)

	// Process new nodes
	for _, n := range added {
		c.ws.push(n.id)
	}
	c.pushSink()
	return nil
}

func (c *Chain) userSpecs() (ss []FilterSpec) {
	for _, id := range c.order {
		if n := c.nodes[id]; n.spec != nil {
			ss = append(ss, *n.spec)
		}
	}
	return
}

// UserFilters returns the specs of the user filters currently in the chain
func (c *Chain) UserFilters() []FilterSpec {
	c.mg.Lock()
	defer c.mg.Unlock()
	return c.userSpecs()
}

// Returns, for each index of b, the index of a it is matched with
func longestCommonSubsequence(a, b []string) map[int]int {
	// Compute lengths
	ls := make([][]int, len(a)+1)
	for i := range ls {
		ls[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				ls[i][j] = ls[i+1][j+1] + 1
			} else {
				ls[i][j] = max(ls[i+1][j], ls[i][j+1])
			}
		}
	}

	// Walk
	m := make(map[int]int)
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] == b[j]:
			m[j] = i
			i++
			j++
		case ls[i+1][j] >= ls[i][j+1]:
			i++
		default:
			j++
		}
	}
	return m
}

func (c *Chain) sink() (*Node, bool) {
	if len(c.order) == 0 {
		return nil, false
	}
	n, ok := c.nodes[c.order[len(c.order)-1]]
	return n, ok && n.role == NodeRoleSink
}

func (c *Chain) pushSink() {
	if n, ok := c.sink(); ok {
		c.ws.push(n.id)
	}
}

// Command is broadcast to every node, it waits for the current run to finish. It returns true
// if at least one node has handled it.
func (c *Chain) Command(cmd *Command) bool {
	// Enter dispatch context
	c.mr.Lock()
	defer c.leave()

	// Resampling is needed in front of the sink
	if cmd.Type == CommandTypeSetSpeedResample {
		c.forceResampling(cmd.Speed)
	}

	// Loop through nodes
	var handled bool
	for _, n := range c.physicalNodes() {
		if cmdr, ok := n.f.(Commander); ok && cmdr.Command(cmd) {
			handled = true
		}
	}

	// Nodes may have something to do
	c.signal()
	return handled
}

func (c *Chain) forceResampling(speed float64) {
	// Update speed
	c.speed = speed
	if speed == 1 {
		return
	}

	// Get link in front of the sink
	s, ok := c.sink()
	if !ok {
		return
	}
	var l *chainLink
	for _, v := range c.links {
		if v.to == s.id {
			l = v
		}
	}

	// Nothing to do
	if l == nil || l.force {
		return
	}

	// Only audio is resampled
	l.force = true
	in, ok := c.edges[l.entry].Format()
	if !ok || in.Kind != MediaKindAudio || l.converter != 0 {
		return
	}

	// Insert converter
	p, _, err := c.negotiateLink(l, in)
	if err != nil {
		// Forcing is best effort
		c.p.l.WarnC(c.ctx, fmt.Errorf("astifilter: forcing resampling failed: %w", err))
		l.force = false
		return
	}
	c.logPlan(l, p)
	c.emitRenegotiated(l)
}

// Nodes in flow order, dispatch context only
func (c *Chain) physicalNodes() (ns []*Node) {
	for _, id := range c.order {
		ns = append(ns, c.nodes[id])
		if l, ok := c.links[id]; ok && l.converter != 0 {
			ns = append(ns, c.nodes[l.converter])
		}
	}
	return
}

// Speed returns the last speed requested through CommandTypeSetSpeedResample
func (c *Chain) Speed() float64 {
	c.mr.Lock()
	defer c.leave()
	return c.speed
}

func (c *Chain) Start() error {
	// Chains can only be started if pipeline is either starting or running
	if s := c.p.Status(); s != StatusStarting && s != StatusRunning {
		return fmt.Errorf("astifilter: invalid pipeline status %s", s)
	}

	// Start task
	// We don't use pipeline context here since we want to stop chains using their .Stop() method
	if err := c.t.start(context.Background(), c.p.t.t.NewSubTask); err != nil {
		return fmt.Errorf("astifilter: starting task failed: %w", err)
	}
	return nil
}

func (c *Chain) onTaskStart(ctx context.Context, cancel context.CancelFunc, tc astikit.TaskCreator) {
	tc().Do(func() { c.loop(ctx) })
}

func (c *Chain) Stop() error {
	// Stop task
	if err := c.t.stop(); err != nil {
		return fmt.Errorf("astifilter: stopping task failed: %w", err)
	}
	return nil
}
