package astifilter_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestPipelineLifecycle(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	events := astikit.NewEventInterceptor()
	l := astikit.NewMockedLogger()

	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{
		Logger:   l,
		Metadata: astifilter.Metadata{Name: "pn"},
		Worker:   w,
	})
	require.NoError(t, err)
	defer p.Close()
	events.Intercept(
		p,
		astifilter.EventNameChainCreated,
		astifilter.EventNamePipelineClosed,
		astifilter.EventNamePipelineDone,
		astifilter.EventNamePipelineRunning,
		astifilter.EventNamePipelineStarting,
		astifilter.EventNamePipelineStopping,
	)
	require.Contains(t, p.String(), "pn (pipeline_")

	c, err := p.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)
	require.Equal(t, map[astikit.EventProcesser][]astikit.Event{p: {{
		EventName: astifilter.EventNameChainCreated,
		Payload:   c,
	}}}, events.Pool())
	events.Reset()
	require.Equal(t, []*astifilter.Chain{c}, p.Chains())
	require.Same(t, p, c.Pipeline())
	require.Error(t, c.Start())

	require.NoError(t, p.Start(w.Context()))
	require.Equal(t, astifilter.StatusRunning, p.Status())
	require.Equal(t, astifilter.StatusRunning, c.Status())
	require.Equal(t, map[astikit.EventProcesser][]astikit.Event{p: {
		{EventName: astifilter.EventNamePipelineStarting},
		{EventName: astifilter.EventNamePipelineRunning},
	}}, events.Pool())
	events.Reset()
	require.Error(t, p.Start(context.Background()))

	require.NoError(t, p.Stop())
	require.True(t, p.Status() >= astifilter.StatusStopping)
	require.NoError(t, p.Stop())

	w.Stop()

	require.Eventually(t, func() bool { return len(events.Pool()[p]) == 3 }, time.Second, 10*time.Millisecond)
	require.Equal(t, astifilter.StatusDone, p.Status())
	require.Equal(t, astifilter.StatusDone, c.Status())
	require.Equal(t, map[astikit.EventProcesser][]astikit.Event{p: {
		{EventName: astifilter.EventNamePipelineStopping},
		{EventName: astifilter.EventNamePipelineClosed},
		{EventName: astifilter.EventNamePipelineDone},
	}}, events.Pool())

	var ms []string
	for _, i := range l.Items {
		if i.LoggerLevel == astikit.LoggerLevelInfo {
			ms = append(ms, i.Message)
		}
	}
	require.Equal(t, []string{
		"astifilter: pipeline is starting",
		"astifilter: chain is starting",
		"astifilter: chain is running",
		"astifilter: pipeline is running",
		"astifilter: pipeline is stopping",
		"astifilter: chain is stopping",
		"astifilter: chain is closed",
		"astifilter: chain is done",
		"astifilter: pipeline is closed",
		"astifilter: pipeline is done",
	}, ms)

	_, err = p.NewChain(astifilter.ChainOptions{})
	require.Error(t, err)
}

func TestPipelineRunsChainsInTheBackground(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{Worker: w})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)
	src := mocks.NewMockedSource(10, formatA)
	snk := mocks.NewMockedSink(formatA)
	var ready atomic.Bool
	snk.Ready = ready.Load
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: snk, Source: src}))
	sink := c.Nodes()[1]

	require.NoError(t, p.Start(w.Context()))
	require.Eventually(t, func() bool { return c.CumulativeStats().Runs > 0 }, time.Second, 10*time.Millisecond)
	require.Equal(t, astifilter.ChainStateActive, c.State())

	ready.Store(true)
	sink.Wakeup()
	require.Eventually(t, func() bool { return c.State() == astifilter.ChainStateEmpty }, time.Second, 10*time.Millisecond)
	require.Len(t, snk.Frames, 10)

	require.NoError(t, p.Stop())
	require.Eventually(t, func() bool { return p.Status() == astifilter.StatusDone }, time.Second, 10*time.Millisecond)
}

func TestPipelineRetriesExhaustedNodes(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{Worker: w})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)
	d := mocks.NewMockedTransform("decoder")
	var exhausted atomic.Bool
	d.OnProcess = func(ps *astifilter.Pins) (astifilter.ProcessStatus, error) {
		if !exhausted.Load() {
			exhausted.Store(true)
			return astifilter.ProcessStatusProgress, astifilter.ErrResourceExhausted
		}
		return mocks.Forward(ps, nil)
	}
	snk := mocks.NewMockedSink(formatA)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Decoder: d,
		Sink:    snk,
		Source:  mocks.NewMockedSource(3, formatA),
	}))

	require.NoError(t, p.Start(w.Context()))
	require.Eventually(t, func() bool { return c.State() == astifilter.ChainStateEmpty }, time.Second, 10*time.Millisecond)
	require.True(t, exhausted.Load())
	require.Len(t, snk.Frames, 3)
	require.GreaterOrEqual(t, c.CumulativeStats().Runs, uint64(2))
}

func TestPipelineStopsWhenAllChainsAreDone(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()

	p1, err := astifilter.NewPipeline(astifilter.PipelineOptions{Worker: w})
	require.NoError(t, err)
	defer p1.Close()
	p2, err := astifilter.NewPipeline(astifilter.PipelineOptions{
		Stop:   &astifilter.PipelineStopOptions{WhenAllChainsAreDone: true},
		Worker: w,
	})
	require.NoError(t, err)
	defer p2.Close()

	c1, err := p1.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)
	c2, err := p2.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)

	require.NoError(t, p1.Start(w.Context()))
	require.NoError(t, p2.Start(w.Context()))
	require.NoError(t, c1.Stop())
	require.NoError(t, c2.Stop())

	require.Eventually(t, func() bool { return len(p1.Chains()) == 0 && len(p2.Chains()) == 0 }, time.Second, 10*time.Millisecond)
	require.Equal(t, astifilter.StatusRunning, p1.Status())
	require.Eventually(t, func() bool { return p2.Status() > astifilter.StatusRunning }, time.Second, 10*time.Millisecond)

	require.NoError(t, p1.Stop())
}

func TestPipelineOptions(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()

	type contextKey string
	k := contextKey("v")
	ctxp := context.WithValue(context.Background(), k, "p")
	ctxc := context.WithValue(context.Background(), k, "c")
	ctxn := context.WithValue(context.Background(), k, "n")
	ctxpl := context.WithValue(context.Background(), k, "pl")

	ds := astikit.DeltaStat{Metadata: astikit.DeltaStatMetadata{Name: "test"}}
	pl := mocks.NewMockedPlugin()
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{
		ContextAdapters: astifilter.PipelineContextAdaptersOptions{
			Chain: func(ctx context.Context, p *astifilter.Pipeline, c *astifilter.Chain) context.Context { return ctxc },
			Node: func(ctx context.Context, p *astifilter.Pipeline, c *astifilter.Chain, n *astifilter.Node) context.Context {
				return ctxn
			},
			Pipeline: func(ctx context.Context, p *astifilter.Pipeline) context.Context { return ctxp },
			Plugin:   func(ctx context.Context, p *astifilter.Pipeline, pl astifilter.Plugin) context.Context { return ctxpl },
		},
		DeltaStats: []astikit.DeltaStat{ds},
		Plugins:    []astifilter.Plugin{pl},
		Worker:     w,
	})
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, "p", p.Context().Value(k))
	require.Equal(t, "pl", pl.Context.Value(k))
	require.Same(t, p, pl.Pipeline)
	require.Equal(t, ds, p.DeltaStats()[0])
	require.NotNil(t, p.Dispatcher())

	c, err := p.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)
	require.Equal(t, "c", c.Context().Value(k))

	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: mocks.NewMockedSink(formatA), Source: mocks.NewMockedSource(1, formatA)}))
	require.Equal(t, "n", c.Nodes()[0].Context().Value(k))

	require.True(t, pl.Initialized)
	require.False(t, pl.Started)
	require.NoError(t, p.Start(w.Context()))
	require.True(t, pl.Started)

	_, err = astifilter.NewPipeline(astifilter.PipelineOptions{Plugins: []astifilter.Plugin{pl}})
	require.Error(t, err)
}
