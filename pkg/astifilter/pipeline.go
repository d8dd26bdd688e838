package astifilter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

var pipelineCount uint64

// Pipeline owns chains, the dispatcher their devices share and plugins
type Pipeline struct {
	chainCount uint64
	cs         []*Chain
	ctx        context.Context
	d          *Dispatcher
	dss        []astikit.DeltaStat
	e          *astikit.EventManager
	id         uint64
	l          astikit.CompleteLogger
	mc         sync.Mutex // Locks cs
	nodeCount  uint64
	o          PipelineOptions
	ps         []Plugin
	t          *task
}

type PipelineOptions struct {
	ContextAdapters PipelineContextAdaptersOptions
	DeltaStats      []astikit.DeltaStat
	Dispatcher      DispatcherOptions
	Logger          astikit.StdLogger
	Metadata        Metadata
	Plugins         []Plugin
	Stop            *PipelineStopOptions
	Worker          *astikit.Worker
}

type PipelineContextAdaptersOptions struct {
	Chain    func(context.Context, *Pipeline, *Chain) context.Context
	Node     func(context.Context, *Pipeline, *Chain, *Node) context.Context
	Pipeline func(context.Context, *Pipeline) context.Context
	Plugin   func(context.Context, *Pipeline, Plugin) context.Context
}

type PipelineStopOptions struct {
	WhenAllChainsAreDone bool // Default is false
}

func NewPipeline(o PipelineOptions) (p *Pipeline, err error) {
	// Create pipeline
	p = &Pipeline{
		ctx: context.Background(),
		d:   NewDispatcher(o.Dispatcher),
		dss: append([]astikit.DeltaStat{}, o.DeltaStats...),
		e:   astikit.NewEventManager(),
		id:  atomic.AddUint64(&pipelineCount, 1),
		l:   astikit.AdaptStdLogger(o.Logger),
		o:   o,
		ps:  append([]Plugin{}, o.Plugins...),
	}

	// Adapt context
	if p.o.ContextAdapters.Pipeline != nil {
		p.ctx = p.o.ContextAdapters.Pipeline(p.ctx, p)
	}

	// Create task
	p.t = newTask(astikit.NewCloser(), p.onTaskStart, p.onTaskStop)

	// Listen to chain events
	p.On(EventNameChainCreated, func(payload interface{}) bool {
		// Assert payload
		c, ok := payload.(*Chain)
		if !ok {
			return false
		}

		// Store chain
		p.mc.Lock()
		p.cs = append(p.cs, c)
		p.mc.Unlock()

		// Listen to chain events
		c.On(EventNameChainDone, func(payload interface{}) bool {
			// Remove chain
			p.mc.Lock()
			for idx := 0; idx < len(p.cs); idx++ {
				if c.id == p.cs[idx].id {
					p.cs = append(p.cs[:idx], p.cs[idx+1:]...)
					idx--
				}
			}
			allChainsAreDone := len(p.cs) == 0
			p.mc.Unlock()

			// All chains are done
			if allChainsAreDone && p.o.Stop != nil && p.o.Stop.WhenAllChainsAreDone {
				p.Stop() //nolint: errcheck
			}
			return false
		})
		return false
	})

	// Listen to task events
	p.t.e.On(eventNameTaskClosed, func(payload interface{}) (delete bool) {
		p.l.InfoC(p.ctx, "astifilter: pipeline is closed")
		p.Emit(EventNamePipelineClosed, nil)
		return true
	})
	p.t.e.On(eventNameTaskDone, func(payload interface{}) (delete bool) {
		p.l.InfoC(p.ctx, "astifilter: pipeline is done")
		p.Emit(EventNamePipelineDone, nil)
		return
	})
	p.t.e.On(eventNameTaskRunning, func(payload interface{}) (delete bool) {
		p.l.InfoC(p.ctx, "astifilter: pipeline is running")
		p.Emit(EventNamePipelineRunning, nil)
		return
	})
	p.t.e.On(eventNameTaskStarting, func(payload interface{}) (delete bool) {
		p.l.InfoC(p.ctx, "astifilter: pipeline is starting")
		p.Emit(EventNamePipelineStarting, nil)
		return
	})
	p.t.e.On(eventNameTaskStopping, func(payload interface{}) (delete bool) {
		p.l.InfoC(p.ctx, "astifilter: pipeline is stopping")
		p.Emit(EventNamePipelineStopping, nil)
		return
	})

	// Loop through plugins
	for idx, pl := range p.ps {
		// Create context
		ctx := context.Background()
		if p.o.ContextAdapters.Plugin != nil {
			ctx = p.o.ContextAdapters.Plugin(ctx, p, pl)
		}

		// Initialize plugin
		if err = pl.Init(ctx, p.t.c.NewChild(), p); err != nil {
			err = fmt.Errorf("astifilter: initializing plugin #%d failed: %w", idx, err)
			return
		}
	}
	return
}

func (p *Pipeline) ID() uint64 {
	return p.id
}

func (p *Pipeline) String() string {
	if p.Metadata().Name != "" {
		return fmt.Sprintf("%s (pipeline_%d)", p.Metadata().Name, p.id)
	}
	return fmt.Sprintf("pipeline_%d", p.id)
}

func (p *Pipeline) DeltaStats() []astikit.DeltaStat {
	return append(append([]astikit.DeltaStat{}, p.dss...), p.d.DeltaStats()...)
}

func (p *Pipeline) Metadata() Metadata {
	return p.o.Metadata
}

func (p *Pipeline) Logger() astikit.CompleteLogger {
	return p.l
}

func (p *Pipeline) Context() context.Context {
	return p.ctx
}

// Dispatcher is shared by every chain of the pipeline
func (p *Pipeline) Dispatcher() *Dispatcher {
	return p.d
}

func (p *Pipeline) Close() error {
	return p.t.c.Close()
}

func (p *Pipeline) Status() Status {
	return p.t.status()
}

func (p *Pipeline) Emit(n astikit.EventName, payload interface{}) {
	p.e.Emit(n, payload)
}

func (p *Pipeline) On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return p.e.On(n, h)
}

func (p *Pipeline) Chains() []*Chain {
	p.mc.Lock()
	defer p.mc.Unlock()
	return append([]*Chain{}, p.cs...)
}

func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.t.start(ctx, p.o.Worker.NewTask); err != nil {
		return fmt.Errorf("astifilter: starting task failed: %w", err)
	}
	return nil
}

func (p *Pipeline) onTaskStart(ctx context.Context, cancel context.CancelFunc, tc astikit.TaskCreator) {
	// Start plugins
	for _, pl := range p.ps {
		pl.Start(ctx, tc)
	}

	// Start dispatcher
	tc().Do(func() { p.d.Start(ctx) })

	// Start chains
	for _, c := range p.Chains() {
		if err := c.Start(); err != nil {
			p.l.WarnC(c.ctx, fmt.Errorf("astifilter: starting chain failed: %w", err))
		}
	}
}

func (p *Pipeline) onTaskStop() {
	for _, c := range p.Chains() {
		if err := c.Stop(); err != nil {
			p.l.WarnC(c.ctx, fmt.Errorf("astifilter: stopping chain failed: %w", err))
		}
	}
}

func (p *Pipeline) Stop() error {
	if err := p.t.stop(); err != nil {
		return fmt.Errorf("astifilter: stopping task failed: %w", err)
	}
	return nil
}
