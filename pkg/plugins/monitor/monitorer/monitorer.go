package monitorer

import (
	"context"
	"sync"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

type Delta struct {
	At                astikit.Timestamp      `json:"at"`
	ChainStates       []DeltaChainState      `json:"chain_states,omitempty"`
	ConnectedNodes    []DeltaConnection      `json:"connected_nodes,omitempty"`
	DisconnectedNodes []DeltaConnection      `json:"disconnected_nodes,omitempty"`
	DoneChains        []uint64               `json:"done_chains,omitempty"`
	DoneNodes         []uint64               `json:"done_nodes,omitempty"`
	Errors            []DeltaError           `json:"errors,omitempty"`
	NewStats          []DeltaStat            `json:"new_stats,omitempty"`
	Renegotiations    []DeltaRenegotiation   `json:"renegotiations,omitempty"`
	StartedChains     []DeltaChain           `json:"started_chains,omitempty"`
	StartedNodes      []DeltaNode            `json:"started_nodes,omitempty"`
	StatValues        map[uint64]interface{} `json:"stat_values,omitempty"`
}

func newDelta() *Delta {
	return &Delta{StatValues: make(map[uint64]interface{})}
}

func (d Delta) empty() bool {
	return len(d.ChainStates) == 0 && len(d.ConnectedNodes) == 0 &&
		len(d.DisconnectedNodes) == 0 && len(d.DoneChains) == 0 &&
		len(d.DoneNodes) == 0 && len(d.Errors) == 0 &&
		len(d.NewStats) == 0 && len(d.Renegotiations) == 0 &&
		len(d.StartedChains) == 0 && len(d.StartedNodes) == 0 &&
		len(d.StatValues) == 0
}

func (d Delta) copy() *Delta {
	dst := newDelta()
	dst.At = d.At
	dst.ChainStates = append(dst.ChainStates, d.ChainStates...)
	dst.ConnectedNodes = append(dst.ConnectedNodes, d.ConnectedNodes...)
	dst.DisconnectedNodes = append(dst.DisconnectedNodes, d.DisconnectedNodes...)
	dst.DoneChains = append(dst.DoneChains, d.DoneChains...)
	dst.DoneNodes = append(dst.DoneNodes, d.DoneNodes...)
	dst.Errors = append(dst.Errors, d.Errors...)
	dst.NewStats = append(dst.NewStats, d.NewStats...)
	dst.Renegotiations = append(dst.Renegotiations, d.Renegotiations...)
	dst.StartedChains = append(dst.StartedChains, d.StartedChains...)
	dst.StartedNodes = append(dst.StartedNodes, d.StartedNodes...)
	for k, v := range d.StatValues {
		dst.StatValues[k] = v
	}
	return dst
}

type DeltaChain struct {
	ID       uint64              `json:"id"`
	Metadata astifilter.Metadata `json:"metadata"`
}

type DeltaChainState struct {
	ChainID uint64 `json:"chain_id"`
	State   string `json:"state"`
}

type DeltaConnection struct {
	ChainID uint64 `json:"chain_id"`
	EdgeID  uint64 `json:"edge_id"`
	From    uint64 `json:"from"`
	To      uint64 `json:"to"`
}

type DeltaError struct {
	ChainID uint64  `json:"chain_id"`
	Message string  `json:"message"`
	NodeID  *uint64 `json:"node_id,omitempty"`
}

type DeltaNode struct {
	Auto     bool                `json:"auto,omitempty"`
	ChainID  uint64              `json:"chain_id"`
	ID       uint64              `json:"id"`
	Metadata astifilter.Metadata `json:"metadata"`
	Role     string              `json:"role"`
}

type DeltaRenegotiation struct {
	ChainID     uint64  `json:"chain_id"`
	ConverterID *uint64 `json:"converter_id,omitempty"`
	From        uint64  `json:"from"`
	In          string  `json:"in"`
	Out         string  `json:"out"`
	To          uint64  `json:"to"`
}

type DeltaStat struct {
	ChainID  *uint64           `json:"chain_id,omitempty"`
	EdgeID   *uint64           `json:"edge_id,omitempty"`
	ID       uint64            `json:"id"`
	Metadata DeltaStatMetadata `json:"metadata"`
	NodeID   *uint64           `json:"node_id,omitempty"`
}

type DeltaStatMetadata struct {
	Description string `json:"description,omitempty"`
	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

func newDeltaStatMetadata(i astikit.DeltaStatMetadata) DeltaStatMetadata {
	return DeltaStatMetadata{
		Description: i.Description,
		Label:       i.Label,
		Name:        i.Name,
		Unit:        i.Unit,
	}
}

// Stats are removed along with what they've been added for
type statOwner struct {
	chainID uint64
	edgeID  uint64
	nodeID  uint64
}

type Monitorer struct {
	cd   *Delta // Catchup Delta
	d    *Delta
	ds   *astikit.DeltaStater
	mc   *sync.Mutex // Locks cd and sids
	md   *sync.Mutex // Locks d
	o    MonitorerOptions
	sids map[statOwner][]uint64
}

type OnDelta func(d Delta)

type MonitorerOptions struct {
	OnDelta  OnDelta
	Period   time.Duration
	Pipeline *astifilter.Pipeline
}

func New(o MonitorerOptions) *Monitorer {
	// Create monitorer
	m := &Monitorer{
		cd:   newDelta(),
		d:    newDelta(),
		mc:   &sync.Mutex{},
		md:   &sync.Mutex{},
		o:    o,
		sids: make(map[statOwner][]uint64),
	}

	// Create Delta stater
	m.ds = astikit.NewDeltaStater(astikit.DeltaStaterOptions{
		OnStats: m.onStats,
		Period:  o.Period,
	})

	// Monitor pipeline
	m.monitorPipeline()
	return m
}

func (m *Monitorer) monitorPipeline() {
	// Add stats
	m.addStats(statOwner{}, m.o.Pipeline.DeltaStats())

	// Listen to pipeline
	m.o.Pipeline.On(astifilter.EventNameChainCreated, func(payload interface{}) (delete bool) {
		// Assert payload
		c, ok := payload.(*astifilter.Chain)
		if !ok {
			return
		}

		// Monitor chain
		m.monitorChain(c)
		return
	})
}

func (m *Monitorer) addStats(o statOwner, dss []astikit.DeltaStat) {
	for _, ds := range dss {
		// Add to stater
		id := m.ds.Add(ds.Valuer)

		// Create Delta stat
		s := DeltaStat{
			ID:       id,
			Metadata: newDeltaStatMetadata(ds.Metadata),
		}
		if o.chainID > 0 {
			s.ChainID = astikit.UInt64Ptr(o.chainID)
		}
		if o.edgeID > 0 {
			s.EdgeID = astikit.UInt64Ptr(o.edgeID)
		}
		if o.nodeID > 0 {
			s.NodeID = astikit.UInt64Ptr(o.nodeID)
		}

		// Store stat
		m.mc.Lock()
		m.cd.NewStats = append(m.cd.NewStats, s)
		m.sids[o] = append(m.sids[o], id)
		m.mc.Unlock()
		m.md.Lock()
		m.d.NewStats = append(m.d.NewStats, s)
		m.md.Unlock()
	}
}

func (m *Monitorer) removeStats(o statOwner) {
	// Remove from catch up
	m.mc.Lock()
	ids := m.sids[o]
	delete(m.sids, o)
	for _, id := range ids {
		for idx := 0; idx < len(m.cd.NewStats); idx++ {
			if m.cd.NewStats[idx].ID == id {
				m.cd.NewStats = append(m.cd.NewStats[:idx], m.cd.NewStats[idx+1:]...)
				idx--
			}
		}
	}
	m.mc.Unlock()

	// Remove from stater
	m.ds.Remove(ids...)
}

func (m *Monitorer) monitorChain(c *astifilter.Chain) {
	// Add stats
	m.addStats(statOwner{chainID: c.ID()}, c.DeltaStats())

	// Listen to chain
	c.On(astifilter.EventNameChainRunning, func(payload interface{}) (delete bool) {
		// Create Delta chain
		dc := DeltaChain{
			ID:       c.ID(),
			Metadata: c.Metadata(),
		}

		// Store chain
		m.mc.Lock()
		m.cd.StartedChains = append(m.cd.StartedChains, dc)
		m.mc.Unlock()
		m.md.Lock()
		m.d.StartedChains = append(m.d.StartedChains, dc)
		m.md.Unlock()
		return
	})
	c.On(astifilter.EventNameChainDone, func(payload interface{}) (delete bool) {
		// Remove stats
		m.removeStats(statOwner{chainID: c.ID()})

		// Store chain
		m.mc.Lock()
		for idx := 0; idx < len(m.cd.StartedChains); idx++ {
			if m.cd.StartedChains[idx].ID == c.ID() {
				m.cd.StartedChains = append(m.cd.StartedChains[:idx], m.cd.StartedChains[idx+1:]...)
				idx--
			}
		}
		for idx := 0; idx < len(m.cd.ChainStates); idx++ {
			if m.cd.ChainStates[idx].ChainID == c.ID() {
				m.cd.ChainStates = append(m.cd.ChainStates[:idx], m.cd.ChainStates[idx+1:]...)
				idx--
			}
		}
		m.mc.Unlock()
		m.md.Lock()
		m.d.DoneChains = append(m.d.DoneChains, c.ID())
		m.md.Unlock()
		return
	})
	c.On(astifilter.EventNameChainStateChanged, func(payload interface{}) (delete bool) {
		// Assert payload
		e, ok := payload.(astifilter.EventChainStateChanged)
		if !ok {
			return
		}

		// Create Delta chain state
		dcs := DeltaChainState{
			ChainID: c.ID(),
			State:   e.To.String(),
		}

		// Catch up only needs the last state
		m.mc.Lock()
		var found bool
		for idx := range m.cd.ChainStates {
			if m.cd.ChainStates[idx].ChainID == c.ID() {
				m.cd.ChainStates[idx] = dcs
				found = true
			}
		}
		if !found {
			m.cd.ChainStates = append(m.cd.ChainStates, dcs)
		}
		m.mc.Unlock()
		m.md.Lock()
		m.d.ChainStates = append(m.d.ChainStates, dcs)
		m.md.Unlock()
		return
	})
	c.On(astifilter.EventNameChainError, func(payload interface{}) (delete bool) {
		// Assert payload
		e, ok := payload.(*astifilter.ChainError)
		if !ok {
			return
		}

		// Create Delta error
		de := DeltaError{
			ChainID: c.ID(),
			Message: e.Error(),
		}
		if e.NodeID > 0 {
			de.NodeID = astikit.UInt64Ptr(uint64(e.NodeID))
		}

		// Store error
		m.md.Lock()
		m.d.Errors = append(m.d.Errors, de)
		m.md.Unlock()
		return
	})
	c.On(astifilter.EventNameChainRenegotiated, func(payload interface{}) (delete bool) {
		// Assert payload
		e, ok := payload.(astifilter.EventChainRenegotiated)
		if !ok {
			return
		}

		// Create Delta renegotiation
		dr := DeltaRenegotiation{
			ChainID: c.ID(),
			From:    uint64(e.From.ID()),
			In:      e.In.String(),
			Out:     e.Out.String(),
			To:      uint64(e.To.ID()),
		}
		if e.Converter != nil {
			dr.ConverterID = astikit.UInt64Ptr(uint64(e.Converter.ID()))
		}

		// Store renegotiation
		m.md.Lock()
		m.d.Renegotiations = append(m.d.Renegotiations, dr)
		m.md.Unlock()
		return
	})
	c.On(astifilter.EventNameNodeCreated, func(payload interface{}) (delete bool) {
		// Assert payload
		n, ok := payload.(*astifilter.Node)
		if !ok {
			return
		}

		// Monitor node
		m.monitorNode(c, n)
		return
	})
	c.On(astifilter.EventNameEdgeAdded, func(payload interface{}) (delete bool) {
		// Assert payload
		e, ok := payload.(*astifilter.Edge)
		if !ok {
			return
		}

		// Monitor edge
		m.monitorEdge(c, e)
		return
	})
	c.On(astifilter.EventNameEdgeRemoved, func(payload interface{}) (delete bool) {
		// Assert payload
		e, ok := payload.(*astifilter.Edge)
		if !ok {
			return
		}

		// Remove stats
		m.removeStats(statOwner{chainID: c.ID(), edgeID: uint64(e.ID())})

		// Create Delta connection
		dc := newDeltaConnection(c, e)

		// Store disconnection
		m.mc.Lock()
		for idx := 0; idx < len(m.cd.ConnectedNodes); idx++ {
			if m.cd.ConnectedNodes[idx] == dc {
				m.cd.ConnectedNodes = append(m.cd.ConnectedNodes[:idx], m.cd.ConnectedNodes[idx+1:]...)
				idx--
			}
		}
		m.mc.Unlock()
		m.md.Lock()
		m.d.DisconnectedNodes = append(m.d.DisconnectedNodes, dc)
		m.md.Unlock()
		return
	})
}

func (m *Monitorer) monitorNode(c *astifilter.Chain, n *astifilter.Node) {
	// Add stats
	m.addStats(statOwner{nodeID: uint64(n.ID())}, n.DeltaStats())

	// Create Delta node
	dn := DeltaNode{
		Auto:     n.Auto(),
		ChainID:  c.ID(),
		ID:       uint64(n.ID()),
		Metadata: n.Metadata(),
		Role:     n.Role().String(),
	}

	// Store node
	m.mc.Lock()
	m.cd.StartedNodes = append(m.cd.StartedNodes, dn)
	m.mc.Unlock()
	m.md.Lock()
	m.d.StartedNodes = append(m.d.StartedNodes, dn)
	m.md.Unlock()

	// Listen to node
	n.On(astifilter.EventNameNodeDestroyed, func(payload interface{}) (delete bool) {
		// Remove stats
		m.removeStats(statOwner{nodeID: uint64(n.ID())})

		// Store node
		m.mc.Lock()
		for idx := 0; idx < len(m.cd.StartedNodes); idx++ {
			if m.cd.StartedNodes[idx].ID == uint64(n.ID()) {
				m.cd.StartedNodes = append(m.cd.StartedNodes[:idx], m.cd.StartedNodes[idx+1:]...)
				idx--
			}
		}
		m.mc.Unlock()
		m.md.Lock()
		m.d.DoneNodes = append(m.d.DoneNodes, uint64(n.ID()))
		m.md.Unlock()
		return true
	})
}

func newDeltaConnection(c *astifilter.Chain, e *astifilter.Edge) DeltaConnection {
	return DeltaConnection{
		ChainID: c.ID(),
		EdgeID:  uint64(e.ID()),
		From:    uint64(e.From()),
		To:      uint64(e.To()),
	}
}

func (m *Monitorer) monitorEdge(c *astifilter.Chain, e *astifilter.Edge) {
	// Add stats
	m.addStats(statOwner{chainID: c.ID(), edgeID: uint64(e.ID())}, e.Queue().DeltaStats())

	// Create Delta connection
	dc := newDeltaConnection(c, e)

	// Store connection
	m.mc.Lock()
	m.cd.ConnectedNodes = append(m.cd.ConnectedNodes, dc)
	m.mc.Unlock()
	m.md.Lock()
	m.d.ConnectedNodes = append(m.d.ConnectedNodes, dc)
	m.md.Unlock()
}

func (m *Monitorer) Start(ctx context.Context) {
	// Start stater
	m.ds.Start(ctx)
}

func (m *Monitorer) Close() {
	// Stop stater
	m.ds.Stop()
}

func (m *Monitorer) onStats(stats []astikit.DeltaStatValue) {
	// Swap Delta
	m.md.Lock()
	d := *m.d
	m.d = newDelta()
	m.md.Unlock()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())

	// Loop through stats
	m.mc.Lock()
	m.cd.StatValues = map[uint64]interface{}{}
	for _, s := range stats {
		// Add
		d.StatValues[s.ID] = s.Value
		m.cd.StatValues[s.ID] = s.Value
	}
	m.mc.Unlock()

	// Callback
	if !d.empty() {
		m.o.OnDelta(d)
	}
}

func (m *Monitorer) CatchUp() Delta {
	// Lock
	m.mc.Lock()
	defer m.mc.Unlock()

	// Copy Delta
	d := m.cd.copy()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())
	return *d
}
