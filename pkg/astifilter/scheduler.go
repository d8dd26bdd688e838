package astifilter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
)

type chainCommandType uint32

const (
	chainCommandTypeReset chainCommandType = iota
	chainCommandTypeContinueFormatChange
	chainCommandTypeDrain
	chainCommandTypeError
	chainCommandTypeUserFilters
	chainCommandTypeWakeup
)

type chainCommand struct {
	err  error
	mode ResetMode
	node NodeID
	t    chainCommandType
	ufs  []userFilter
}

type workSet struct {
	ids []NodeID
	m   map[NodeID]bool
}

func newWorkSet() *workSet {
	return &workSet{m: make(map[NodeID]bool)}
}

func (s *workSet) push(id NodeID) {
	if s.m[id] {
		return
	}
	s.m[id] = true
	s.ids = append(s.ids, id)
}

func (s *workSet) pop() (NodeID, bool) {
	if len(s.ids) == 0 {
		return 0, false
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	delete(s.m, id)
	return id, true
}

func (s *workSet) remove(id NodeID) {
	if !s.m[id] {
		return
	}
	delete(s.m, id)
	s.ids = slices.DeleteFunc(s.ids, func(v NodeID) bool { return v == id })
}

func (s *workSet) clear() {
	s.ids = nil
	s.m = make(map[NodeID]bool)
}

func (c *Chain) post(cmd chainCommand) {
	c.mc.Lock()
	c.cmds = append(c.cmds, cmd)
	c.mc.Unlock()
	c.signal()
}

func (c *Chain) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Wakeup marks a node as runnable. It can be called from any goroutine.
func (c *Chain) Wakeup(id NodeID) {
	c.post(chainCommand{node: id, t: chainCommandTypeWakeup})
}

// Reset is a discontinuity signal. It is handled before any pending node work, a node being
// processed finishes first.
func (c *Chain) Reset(m ResetMode) {
	c.post(chainCommand{mode: m, t: chainCommandTypeReset})
}

// Drain stops the source and lets buffered frames flow to the sink, after which nodes are
// destroyed and the chain is empty
func (c *Chain) Drain() {
	c.post(chainCommand{t: chainCommandTypeDrain})
}

// ContinueFormatChange lets frames flow to the sink again after OnFormatChange was called
func (c *Chain) ContinueFormatChange() {
	c.post(chainCommand{t: chainCommandTypeContinueFormatChange})
}

// ReportError moves the chain to the error state from any goroutine
func (c *Chain) ReportError(id NodeID, err error) {
	c.post(chainCommand{err: err, node: id, t: chainCommandTypeError})
}

// SetUserFilters replaces the user filters. Filters whose spec is unchanged keep their node
// and their buffered frames. Filters are created right away, the splice happens in the
// dispatch context.
func (c *Chain) SetUserFilters(specs []FilterSpec) error {
	// Create user filters
	ufs, err := c.newUserFilters(specs)
	if err != nil {
		return fmt.Errorf("astifilter: creating user filters failed: %w", err)
	}

	// Post
	c.post(chainCommand{t: chainCommandTypeUserFilters, ufs: ufs})
	return nil
}

// Run processes nodes until none of them can make progress. Two runs never overlap.
func (c *Chain) Run() error {
	// Enter dispatch context
	if !c.mr.TryLock() {
		return ErrChainBusy
	}
	defer c.leave()
	return c.run()
}

func (c *Chain) run() error {
	// Update stats
	atomic.AddUint64(&c.cs.runs, 1)

	// Parked nodes are given another chance
	for _, n := range c.nodes {
		n.parked = false
		n.stalls = 0
	}

	// Sink is pulling
	c.pushSink()

	// Exhausted nodes are retried
	for _, id := range c.retries {
		c.ws.push(id)
	}
	c.retries = nil

	for {
		// Handle commands
		if err := c.handleCommands(); err != nil {
			return err
		}

		// Nothing can be processed
		if !c.State().schedulable() {
			c.ws.clear()
			return nil
		}

		// Get next node
		id, ok := c.ws.pop()
		if !ok {
			return nil
		}

		// Process
		if err := c.process(id); err != nil {
			return err
		}
	}
}

func (c *Chain) handleCommands() error {
	// Get commands
	c.mc.Lock()
	cmds := c.cmds
	c.cmds = nil
	c.mc.Unlock()

	// Resets have priority
	slices.SortStableFunc(cmds, func(a, b chainCommand) int {
		if a.t == chainCommandTypeReset && b.t != chainCommandTypeReset {
			return -1
		} else if a.t != chainCommandTypeReset && b.t == chainCommandTypeReset {
			return 1
		}
		return 0
	})

	// Loop through commands
	for idx, cmd := range cmds {
		if err := c.handleCommand(cmd); err != nil {
			// Filters won't be used
			for _, cmd := range cmds[idx+1:] {
				c.destroyUserFilters(cmd.ufs)
			}
			return err
		}
	}
	return nil
}

func (c *Chain) destroyUserFilters(ufs []userFilter) {
	for _, uf := range ufs {
		if err := uf.f.Destroy(); err != nil {
			c.p.l.WarnC(c.ctx, fmt.Errorf("astifilter: destroying filter %s failed: %w", uf.spec, err))
		}
	}
}

func (c *Chain) handleCommand(cmd chainCommand) error {
	switch cmd.t {
	case chainCommandTypeContinueFormatChange:
		if !c.fc.blocked {
			return nil
		}
		c.fc.blocked = false
		c.fc.continued = true
		c.ws.push(c.fc.node)
		c.pushSink()
	case chainCommandTypeDrain:
		c.drain()
	case chainCommandTypeError:
		n := c.nodes[cmd.node]
		if !c.State().schedulable() {
			c.p.l.DebugC(c.ctx, fmt.Sprintf("astifilter: ignoring error in state %s: %s", c.State(), cmd.err))
			return nil
		}
		return c.fail(newChainError(ErrNodeProcessing, n, cmd.err))
	case chainCommandTypeReset:
		return c.reset(cmd.mode)
	case chainCommandTypeUserFilters:
		return c.splice(cmd.ufs)
	case chainCommandTypeWakeup:
		n, ok := c.nodes[cmd.node]
		if !ok {
			return nil
		}
		n.parked = false
		n.stalls = 0
		c.ws.push(n.id)
	}
	return nil
}

func (c *Chain) drain() {
	// Invalid state
	if s := c.State(); s != ChainStateActive && s != ChainStateRenegotiating {
		c.p.l.DebugC(c.ctx, fmt.Sprintf("astifilter: ignoring drain in state %s", s))
		return
	}

	// Log
	c.p.l.InfoC(c.ctx, "astifilter: chain is draining")

	// Update state
	c.setState(ChainStateDraining)

	// Stop source
	if len(c.order) == 0 {
		return
	}
	src := c.nodes[c.order[0]]
	src.eof = true
	if e, ok := c.edges[src.out]; ok {
		e.q.EnqueueEOF()
		c.ws.push(e.to)
	}
	c.pushSink()
}

func (c *Chain) finishDrain() {
	// Teardown
	c.teardown()

	// Log
	c.p.l.InfoC(c.ctx, "astifilter: chain is drained")

	// Update state
	c.setState(ChainStateEmpty)

	// Emit
	c.notify(func() { c.Emit(EventNameChainDrained, nil) })
}

type queueActivity struct {
	controls uint64
	dequeued uint64
	enqueued uint64
}

func (c *Chain) activity(n *Node) (a queueActivity) {
	if e, ok := c.edges[n.in]; ok {
		a.dequeued = atomic.LoadUint64(&e.q.cs.dequeued)
	}
	if e, ok := c.edges[n.out]; ok {
		a.controls = atomic.LoadUint64(&e.q.cs.controls)
		a.enqueued = atomic.LoadUint64(&e.q.cs.enqueued)
	}
	return
}

func (c *Chain) pins(n *Node) *Pins {
	p := &Pins{n: n}
	if e, ok := c.edges[n.in]; ok {
		p.in = &InputPin{e: e, n: n}
	}
	if e, ok := c.edges[n.out]; ok {
		p.out = &OutputPin{e: e, n: n}
	}
	return p
}

func (c *Chain) process(id NodeID) error {
	// Node can't be processed
	n, ok := c.nodes[id]
	if !ok || n.eof || n.parked {
		return nil
	}

	// Check input format
	if skip, err := c.checkInput(n); err != nil {
		return c.fail(err)
	} else if skip {
		return nil
	}

	// Get edges
	in, hasIn := c.edges[n.in]
	out, hasOut := c.edges[n.out]

	// Process
	before := c.activity(n)
	atomic.AddUint64(&n.cs.invocations, 1)
	s, err := n.f.Process(c.pins(n))
	after := c.activity(n)

	// Handle error
	if err != nil || s == ProcessStatusError {
		// Resource exhaustion is transient
		if errors.Is(err, ErrResourceExhausted) {
			c.p.l.DebugC(n.ctx, fmt.Sprintf("astifilter: node will be retried: %s", err))
			c.retries = append(c.retries, n.id)
			c.signal()
			return nil
		}

		// Default error
		if err == nil {
			err = errors.New("astifilter: filter reported an error")
		}
		return c.fail(newChainError(ErrNodeProcessing, n, err))
	}

	// Wake neighbours whose queue changed
	active := before != after
	if hasIn && after.dequeued > before.dequeued {
		c.ws.push(in.from)
	}
	if hasOut && (after.enqueued > before.enqueued || after.controls > before.controls) {
		c.ws.push(out.to)
	}

	switch s {
	case ProcessStatusProgress:
		// Node made progress
		if active {
			n.stalls = 0
			c.ws.push(n.id)
			return nil
		}

		// Node is stalling
		n.stalls++
		if n.stalls < c.o.StallThreshold {
			c.ws.push(n.id)
			return nil
		}

		// Park node
		n.parked = true
		c.p.l.WarnC(n.ctx, fmt.Errorf("astifilter: node made no progress after %d invocations, parking it", n.stalls))
		c.notify(func() {
			n.Emit(EventNameNodeStalled, n)
			c.Emit(EventNameNodeStalled, n)
		})
	case ProcessStatusNeedInput:
		n.stalls = 0
		if hasIn {
			in.q.Request()
			c.ws.push(in.from)
		}
	case ProcessStatusNeedOutput:
		n.stalls = 0
		if hasOut {
			c.ws.push(out.to)
		}
	case ProcessStatusEOF:
		// Update node
		n.eof = true
		n.stalls = 0

		// Log
		c.p.l.DebugC(n.ctx, "astifilter: node reached eof")

		// Emit
		c.notify(func() {
			n.Emit(EventNameNodeEOF, n)
			c.Emit(EventNameNodeEOF, n)
		})

		// Propagate
		if hasOut {
			out.q.EnqueueEOF()
			c.ws.push(out.to)
		}

		// Stream has ended
		if n.role == NodeRoleSource && c.State() == ChainStateActive {
			c.p.l.InfoC(c.ctx, "astifilter: chain is draining")
			c.setState(ChainStateDraining)
		}

		// Everything has reached the sink
		if !hasOut && n.role == NodeRoleSink {
			c.finishDrain()
		}
	}
	return nil
}

// Run the chain each time it is signaled until the context is done
func (c *Chain) loop(ctx context.Context) {
	// Make sure previous signals are processed
	c.signal()

	for {
		// Wait for signal
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		// Run
		if err := c.Run(); err != nil {
			if errors.Is(err, ErrChainBusy) {
				c.p.l.DebugC(c.ctx, "astifilter: chain is already running")
			}
		}
	}
}
