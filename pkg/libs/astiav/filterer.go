package astiavfilter

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

var countFilterer uint64

var (
	_ astifilter.Commander         = (*Filterer)(nil)
	_ astifilter.DeltaStater       = (*Filterer)(nil)
	_ astifilter.Filter            = (*Filterer)(nil)
	_ astifilter.MetadataDescriber = (*Filterer)(nil)
)

// Filterer runs frames through a libav filter graph. The graph is created for the format of
// incoming frames and created again when it changes.
type Filterer struct {
	c        *astikit.Closer
	content  string
	flushing bool
	fp       *framePool
	g        *graph
	graphs   uint64
	in       *astifilter.Format
	md       astifilter.Metadata
	n        *astifilter.Node
	o        FiltererOptions
	outs     map[astifilter.Format]astifilter.Format
	pending  *astifilter.Frame
}

type FiltererOptions struct {
	// libav filter graph description, "volume=2,atempo=1.5" for instance
	Content string
	// When set, only this format is accepted
	Input    *astifilter.Format
	Metadata astifilter.Metadata
	// When set, frames are converted to this format at the end of the graph
	Output      *astifilter.Format
	ThreadCount int
}

func NewFilterer(o FiltererOptions) (*Filterer, error) {
	// Invalid options
	if o.Content == "" && o.Output == nil {
		return nil, errors.New("astiavfilter: either content or output is needed")
	} else if o.Input != nil && !supported(*o.Input) {
		return nil, fmt.Errorf("astiavfilter: input format %s is not handled", *o.Input)
	} else if o.Output != nil && !supported(*o.Output) {
		return nil, fmt.Errorf("astiavfilter: output format %s is not handled", *o.Output)
	}

	// Create filterer
	f := &Filterer{
		c:       astikit.NewCloser(),
		content: o.Content,
		in:      o.Input,
		md: (&astifilter.Metadata{
			Name: fmt.Sprintf("lavfi_%d", atomic.AddUint64(&countFilterer, uint64(1))),
			Tags: []string{"lavfi"},
		}).Merge(o.Metadata),
		o:    o,
		outs: make(map[astifilter.Format]astifilter.Format),
	}
	f.fp = newFramePool(f.c)
	return f, nil
}

func (f *Filterer) Metadata() astifilter.Metadata {
	return f.md
}

func (f *Filterer) Accepts(i astifilter.Format) bool {
	_, ok := f.OutputFormat(i)
	return ok
}

func (f *Filterer) PreferredFormats() []astifilter.Format {
	if f.in != nil {
		return []astifilter.Format{*f.in}
	}
	return nil
}

// The output format is known by configuring a graph for the input format
func (f *Filterer) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	// Invalid format
	if !supported(in) || (f.in != nil && !in.Equal(*f.in)) {
		return astifilter.Format{}, false
	}

	// Current graph
	if f.g != nil && f.g.in.Equal(in) {
		return f.g.out, true
	}

	// Cache
	if out, ok := f.outs[in]; ok {
		return out, true
	}

	// Create graph
	g, err := f.newGraph(in)
	if err != nil {
		if f.n != nil {
			warn(f.n, "astiavfilter: %s can't handle %s: %s", f.md.Name, in, err)
		}
		return astifilter.Format{}, false
	}

	// Store or close graph
	f.outs[in] = g.out
	if f.g == nil {
		f.g = g
	} else {
		g.close()
	}
	return g.out, true
}

func (f *Filterer) newGraph(in astifilter.Format) (*graph, error) {
	// Create graph
	g, err := newGraph(f.content, in, f.o.Output, f.o.ThreadCount)
	if err != nil {
		return nil, err
	}

	// Update stats
	atomic.AddUint64(&f.graphs, 1)

	// Attach to node
	if f.n != nil {
		g.attach(f.n)
	}
	return g, nil
}

func (f *Filterer) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	// Attach logs to the node
	if f.n == nil {
		f.n = p.Node()
		if f.g != nil {
			f.g.attach(f.n)
		}
	}

	for {
		// Output is full
		if !p.Output().CanWrite() {
			return astifilter.ProcessStatusNeedOutput, nil
		}

		// Pull
		if f.g != nil {
			written, done, err := f.pull(p)
			if err != nil {
				return astifilter.ProcessStatusError, err
			}
			if written {
				return astifilter.ProcessStatusProgress, nil
			}
			if done {
				// Graph has been flushed because the format has changed
				if f.pending != nil {
					fm := f.pending
					f.pending = nil
					f.closeGraph()
					if err = f.push(fm); err != nil {
						return astifilter.ProcessStatusError, err
					}
					continue
				}
				return astifilter.ProcessStatusEOF, nil
			}
		}

		// End of stream
		if p.Input().EOF() {
			if f.g == nil {
				return astifilter.ProcessStatusEOF, nil
			}
			if err := f.flush(); err != nil {
				return astifilter.ProcessStatusError, err
			}
			continue
		}

		// Read
		fm, ok := p.Input().Read()
		if !ok {
			return astifilter.ProcessStatusNeedInput, nil
		}

		// Format has changed, frames buffered in the graph are pulled first
		if f.g != nil && !f.g.in.Equal(fm.Format) {
			f.pending = fm
			if err := f.flush(); err != nil {
				return astifilter.ProcessStatusError, err
			}
			continue
		}

		// Push
		if err := f.push(fm); err != nil {
			return astifilter.ProcessStatusError, err
		}
	}
}

func (f *Filterer) push(fm *astifilter.Frame) (err error) {
	// Make sure frame is released
	defer fm.Release()

	// Invalid format
	if !supported(fm.Format) || (f.in != nil && !fm.Format.Equal(*f.in)) {
		return fmt.Errorf("astiavfilter: format %s is not handled", fm.Format)
	}

	// Create graph
	if f.g == nil {
		if f.g, err = f.newGraph(fm.Format); err != nil {
			return fmt.Errorf("astiavfilter: creating graph failed: %w", err)
		}
	}

	// Get frame
	af := f.fp.get()
	defer f.fp.put(af)

	// Convert
	if err = toAVFrame(fm, af); err != nil {
		return fmt.Errorf("astiavfilter: converting frame failed: %w", err)
	}

	// Add frame
	if err = f.g.src.AddFrame(af, astiav.NewBuffersrcFlags(astiav.BuffersrcFlagKeepRef)); err != nil {
		return fmt.Errorf("astiavfilter: adding frame to buffersrc failed: %w", err)
	}
	return nil
}

func (f *Filterer) flush() error {
	if f.flushing {
		return nil
	}
	if err := f.g.src.AddFrame(nil, astiav.NewBuffersrcFlags()); err != nil {
		return fmt.Errorf("astiavfilter: flushing buffersrc failed: %w", err)
	}
	f.flushing = true
	return nil
}

func (f *Filterer) pull(p *astifilter.Pins) (written, done bool, err error) {
	// Get frame
	af := f.fp.get()
	defer f.fp.put(af)

	// Pull filtered frame from graph
	if err = f.g.sink.GetFrame(af, astiav.NewBuffersinkFlags()); err != nil {
		if errors.Is(err, astiav.ErrEof) || (errors.Is(err, astiav.ErrEagain) && f.flushing) {
			return false, true, nil
		} else if errors.Is(err, astiav.ErrEagain) {
			return false, false, nil
		}
		err = fmt.Errorf("astiavfilter: getting frame from buffersink failed: %w", err)
		return
	}

	// Convert
	var fm *astifilter.Frame
	if fm, err = fromAVFrame(af, f.g.out, f.g.sink.TimeBase()); err != nil {
		err = fmt.Errorf("astiavfilter: converting frame failed: %w", err)
		return
	}

	// Write
	if err = p.Output().Write(fm); err != nil {
		fm.Release()
		return
	}
	written = true
	return
}

func (f *Filterer) closeGraph() {
	if f.g != nil {
		f.g.close()
		f.g = nil
	}
	f.flushing = false
}

func (f *Filterer) Command(c *astifilter.Command) bool {
	if c.Type == astifilter.CommandTypeIsActive {
		c.IsActive = c.IsActive || f.content != ""
		return true
	}
	return false
}

// Graphs hold frames, they can't be reused after a reset
func (f *Filterer) Reset(m astifilter.ResetMode) {
	if f.pending != nil {
		f.pending.Release()
		f.pending = nil
	}
	f.closeGraph()
	if m == astifilter.ResetModeHard {
		f.outs = make(map[astifilter.Format]astifilter.Format)
	}
}

func (f *Filterer) Destroy() error {
	f.Reset(astifilter.ResetModeHard)
	return f.c.Close()
}

func (f *Filterer) DeltaStats() []astikit.DeltaStat {
	return append(f.fp.deltaStats(), astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{
			Description: "Number of libav graphs created",
			Label:       "Graphs",
			Name:        DeltaStatNameGraphs,
			Unit:        "g",
		},
		Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&f.graphs),
	})
}

type graph struct {
	c    *astikit.Closer
	g    *astiav.FilterGraph
	in   astifilter.Format
	out  astifilter.Format
	sink *astiav.BuffersinkFilterContext
	src  *astiav.BuffersrcFilterContext
}

func newGraph(content string, in astifilter.Format, out *astifilter.Format, threadCount int) (g *graph, err error) {
	// Create graph
	g = &graph{
		c:  astikit.NewCloser(),
		in: in,
	}

	// Make sure to close graph in case of error
	defer func() {
		if err != nil {
			g.close()
		}
	}()

	// Allocate graph
	if g.g = astiav.AllocFilterGraph(); g.g == nil {
		err = errors.New("astiavfilter: allocating graph failed")
		return
	}
	g.c.Add(g.g.Free)

	// Set thread parameters
	if threadCount > 0 {
		g.g.SetThreadCount(threadCount)
	}

	// Get buffer filters
	buffersrcName, buffersinkName := "abuffer", "abuffersink"
	if in.Kind == astifilter.MediaKindVideo {
		buffersrcName, buffersinkName = "buffer", "buffersink"
	}
	buffersrc := astiav.FindFilterByName(buffersrcName)
	buffersink := astiav.FindFilterByName(buffersinkName)
	if buffersrc == nil || buffersink == nil {
		err = errors.New("astiavfilter: buffer filters not found")
		return
	}

	// Create buffersrc context
	var args astiav.FilterArgs
	if args, err = buffersrcArgs(in); err != nil {
		return
	}
	if g.src, err = g.g.NewBuffersrcFilterContext(buffersrc, "in", args); err != nil {
		err = fmt.Errorf("astiavfilter: creating buffersrc context failed: %w", err)
		return
	}

	// Create buffersink context
	//!\\ Contexts are freed with the graph
	if g.sink, err = g.g.NewBuffersinkFilterContext(buffersink, "out", nil); err != nil {
		err = fmt.Errorf("astiavfilter: creating buffersink context failed: %w", err)
		return
	}

	// Create outputs
	outputs := astiav.AllocFilterInOut()
	defer outputs.Free()
	outputs.SetName("in")
	outputs.SetFilterContext(g.src.FilterContext())
	outputs.SetPadIdx(0)
	outputs.SetNext(nil)

	// Create inputs
	inputs := astiav.AllocFilterInOut()
	defer inputs.Free()
	inputs.SetName("out")
	inputs.SetFilterContext(g.sink.FilterContext())
	inputs.SetPadIdx(0)
	inputs.SetNext(nil)

	// Parse content
	c := outputConstraint(in.Kind, out)
	if content != "" {
		c = content + "," + c
	}
	if err = g.g.Parse(c, inputs, outputs); err != nil {
		err = fmt.Errorf("astiavfilter: parsing %q failed: %w", c, err)
		return
	}

	// Configure graph
	if err = g.g.Configure(); err != nil {
		err = fmt.Errorf("astiavfilter: configuring graph failed: %w", err)
		return
	}

	// Get output format
	if g.out, err = formatFromBuffersink(g.sink); err != nil {
		err = fmt.Errorf("astiavfilter: getting output format failed: %w", err)
		return
	}
	return
}

func (g *graph) attach(n *astifilter.Node) {
	for _, c := range []astiav.Classer{g.g, g.src.FilterContext(), g.sink.FilterContext()} {
		c := c
		classers.set(c, n)
		g.c.Add(func() { classers.del(c) })
	}
}

func (g *graph) close() {
	g.c.Close()
}
