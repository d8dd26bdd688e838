package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/monitorer"
	"github.com/asticode/go-astikit"
)

var _ astifilter.Plugin = (*Plugin)(nil)

// Plugin records monitor deltas in a file, one JSON object per line. The first line describes the
// pipeline.
type Plugin struct {
	ctx context.Context
	e   *json.Encoder
	m   *monitorer.Monitorer
	me  sync.Mutex // Locks e
	o   PluginOptions
	p   *astifilter.Pipeline
}

type PluginOptions struct {
	DeltaPeriod time.Duration
	Path        string
}

func New(o PluginOptions) *Plugin {
	return &Plugin{o: o}
}

type header struct {
	Pipeline Pipeline `json:"pipeline"`
}

type Pipeline struct {
	Description string `json:"description,omitempty"`
	ID          uint64 `json:"id"`
	Name        string `json:"name,omitempty"`
}

func (p *Plugin) Metadata() astifilter.Metadata {
	return astifilter.Metadata{Name: "monitor.replay"}
}

func (p *Plugin) Init(ctx context.Context, c *astikit.Closer, pp *astifilter.Pipeline) error {
	// Create file
	f, err := os.Create(p.o.Path)
	if err != nil {
		return fmt.Errorf("replay: creating %s failed: %w", p.o.Path, err)
	}
	c.AddWithError(f.Close)

	// Update plugin
	p.ctx = ctx
	p.e = json.NewEncoder(f)
	p.p = pp

	// Create monitorer
	p.m = monitorer.New(monitorer.MonitorerOptions{
		OnDelta:  p.onDelta,
		Period:   p.o.DeltaPeriod,
		Pipeline: pp,
	})
	c.Add(p.m.Close)

	// Write header
	p.write(header{Pipeline: Pipeline{
		Description: pp.Metadata().Description,
		ID:          pp.ID(),
		Name:        pp.Metadata().Name,
	}})
	return nil
}

func (p *Plugin) Start(ctx context.Context, tc astikit.TaskCreator) {
	tc().Do(func() { p.m.Start(ctx) })
}

func (p *Plugin) onDelta(d monitorer.Delta) {
	p.write(d)
}

func (p *Plugin) write(i interface{}) {
	p.me.Lock()
	defer p.me.Unlock()
	if err := p.e.Encode(i); err != nil {
		p.p.Logger().WarnC(p.ctx, fmt.Errorf("replay: writing failed: %w", err))
	}
}
