package filters_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestSinkWaitsForDevice(t *testing.T) {
	_, err := filters.NewSink(filters.SinkOptions{})
	require.Error(t, err)

	d := mocks.NewMockedDevice(formatS16)
	d.NotReady = 1000
	s, err := filters.NewSink(filters.SinkOptions{Device: d})
	require.NoError(t, err)
	require.True(t, s.Accepts(formatS16))
	require.False(t, s.Accepts(formatFlt))

	c := newTestChain(t, astifilter.ChainOptions{QueueCapacity: 4})
	src, _ := newTestSource(t, newS16Packets(
		[4]int16{0}, [4]int16{1}, [4]int16{2}, [4]int16{3}, [4]int16{4},
		[4]int16{5}, [4]int16{6}, [4]int16{7}, [4]int16{8}, [4]int16{9},
	))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: s, Source: src}))
	e := c.Edges()[0]

	for idx := 0; idx < 3; idx++ {
		require.NoError(t, c.Run())
		require.Empty(t, d.WrittenFrames())
		require.Equal(t, 4, e.Queue().Len())
	}
	require.Greater(t, s.CumulativeStats().NotReady, uint64(0))
	require.Equal(t, astifilter.ChainStateActive, c.State())

	d.SetNotReady(0)
	require.NoError(t, c.Run())
	fs := d.WrittenFrames()
	require.Len(t, fs, 10)
	for idx, f := range fs {
		require.Equal(t, int16(idx), s16Samples(f.Data)[0])
		require.Equal(t, time.Duration(idx)*20*time.Millisecond, f.PTS)
	}
	require.Equal(t, uint64(10), s.CumulativeStats().Frames)
	require.Equal(t, uint64(0), e.Queue().CumulativeStats().Dropped)
	require.Equal(t, astifilter.ChainStateEmpty, c.State())
	require.True(t, d.Closed)
}

func TestSinkDeviceNotifiesReadiness(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{Worker: w})
	require.NoError(t, err)
	defer p.Close()
	c, err := p.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)

	d := mocks.NewMockedDevice()
	d.NotReady = 1000
	s, err := filters.NewSink(filters.SinkOptions{Device: d})
	require.NoError(t, err)
	src, _ := newTestSource(t, newS16Packets([4]int16{1}, [4]int16{2}))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: s, Source: src}))

	require.NoError(t, p.Start(w.Context()))
	require.Eventually(t, func() bool { return s.CumulativeStats().NotReady > 0 }, time.Second, 10*time.Millisecond)
	require.Empty(t, d.WrittenFrames())

	d.SetNotReady(0)
	d.Ready()
	require.Eventually(t, func() bool { return c.State() == astifilter.ChainStateEmpty }, time.Second, 10*time.Millisecond)
	require.Len(t, d.WrittenFrames(), 2)
}

func TestSinkWritesAsynchronously(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{
		Dispatcher: astifilter.DispatcherOptions{Workers: 2},
		Worker:     w,
	})
	require.NoError(t, err)
	defer p.Close()
	c, err := p.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)

	d := mocks.NewMockedDevice(formatS16)
	s, err := filters.NewSink(filters.SinkOptions{
		Device:     d,
		Dispatcher: p.Dispatcher(),
	})
	require.NoError(t, err)
	src, _ := newTestSource(t, newS16Packets([4]int16{1}, [4]int16{2}, [4]int16{3}))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: s, Source: src}))

	require.NoError(t, p.Start(w.Context()))
	require.Eventually(t, func() bool { return c.State() == astifilter.ChainStateEmpty }, time.Second, 10*time.Millisecond)
	fs := d.WrittenFrames()
	require.Len(t, fs, 3)
	for idx, f := range fs {
		require.Equal(t, int16(idx+1), s16Samples(f.Data)[0])
	}
	require.Equal(t, uint64(3), p.Dispatcher().CumulativeStats().Dispatched)
}

func TestSinkReportsDeviceTimeouts(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{Worker: w})
	require.NoError(t, err)
	defer p.Close()
	c, err := p.NewChain(astifilter.ChainOptions{})
	require.NoError(t, err)
	errC := make(chan *astifilter.ChainError, 1)
	c.On(astifilter.EventNameChainError, func(payload interface{}) bool {
		errC <- payload.(*astifilter.ChainError)
		return false
	})

	d := mocks.NewMockedDevice()
	d.OnWrite = func(ctx context.Context, f *astifilter.Frame) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s, err := filters.NewSink(filters.SinkOptions{
		Device:     d,
		Dispatcher: p.Dispatcher(),
		Timeout:    10 * time.Millisecond,
	})
	require.NoError(t, err)
	src, _ := newTestSource(t, newS16Packets([4]int16{1}))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: s, Source: src}))
	require.NoError(t, p.Start(w.Context()))

	select {
	case ce := <-errC:
		require.ErrorIs(t, ce, astifilter.ErrDeviceTimeout)
		require.ErrorIs(t, ce, astifilter.ErrNodeProcessing)
		require.Equal(t, c.Nodes()[1].ID(), ce.NodeID)
	case <-time.After(time.Second):
		t.Fatal("no error")
	}
	require.Equal(t, astifilter.ChainStateError, c.State())
	require.Equal(t, uint64(1), p.Dispatcher().CumulativeStats().Timeouts)
}

func TestSinkReleasesInFlightFrameWhenDestroyed(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	dp := astifilter.NewDispatcher(astifilter.DispatcherOptions{})
	go dp.Start(w.Context())

	var (
		fC      = make(chan *astifilter.Frame, 1)
		unblock = make(chan struct{})
	)
	d := mocks.NewMockedDevice(formatS16)
	d.OnWrite = func(ctx context.Context, f *astifilter.Frame) error {
		fC <- f
		<-unblock
		return nil
	}
	s, err := filters.NewSink(filters.SinkOptions{
		Device:     d,
		Dispatcher: dp,
	})
	require.NoError(t, err)
	c := newTestChain(t, astifilter.ChainOptions{})
	src, _ := newTestSource(t, newS16Packets([4]int16{1}))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: s, Source: src}))
	require.NoError(t, c.Run())

	var f *astifilter.Frame
	select {
	case f = <-fC:
	case <-time.After(time.Second):
		t.Fatal("no write")
	}
	c.Close()
	require.True(t, d.Closed)
	require.False(t, f.Released())

	// The dispatcher has a single worker, so the write's callback is done once this one is
	close(unblock)
	doneC := make(chan struct{})
	dp.Dispatch(context.Background(), 0, func(context.Context) error { return nil }, func(error) { close(doneC) })
	select {
	case <-doneC:
	case <-time.After(time.Second):
		t.Fatal("write is still in flight")
	}
	require.True(t, f.Released())
	require.Equal(t, uint64(0), s.CumulativeStats().Frames)
}

func TestSinkFailsWhenDeviceFails(t *testing.T) {
	d := mocks.NewMockedDevice()
	errDevice := errors.New("device")
	d.OnWrite = func(ctx context.Context, f *astifilter.Frame) error { return errDevice }
	s, err := filters.NewSink(filters.SinkOptions{Device: d})
	require.NoError(t, err)

	c := newTestChain(t, astifilter.ChainOptions{})
	src, _ := newTestSource(t, newS16Packets([4]int16{1}))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: s, Source: src}))
	require.ErrorIs(t, c.Run(), errDevice)
}

func TestSinkReset(t *testing.T) {
	d := mocks.NewMockedDevice()
	d.NotReady = 1000
	s, err := filters.NewSink(filters.SinkOptions{Device: d})
	require.NoError(t, err)

	c := newTestChain(t, astifilter.ChainOptions{QueueCapacity: 1})
	src, _ := newTestSource(t, newS16Packets([4]int16{0}, [4]int16{1}, [4]int16{2}))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: s, Source: src}))
	require.NoError(t, c.Run())
	require.NoError(t, c.Flush())
	require.Equal(t, 1, d.Flushes)
	require.Equal(t, 0, c.Edges()[0].Queue().Len())

	d.SetNotReady(0)
	require.NoError(t, c.Run())
	require.Len(t, d.WrittenFrames(), 1)
	require.Equal(t, int16(2), s16Samples(d.WrittenFrames()[0].Data)[0])
}

func TestSinkConstraints(t *testing.T) {
	s, err := filters.NewSink(filters.SinkOptions{
		Constraints: &astifilter.AudioConstraints{
			SampleFormats: []astifilter.SampleFormat{astifilter.SampleFormatFlt},
			SampleRates:   []int{44100, 96000},
		},
		Device: mocks.NewMockedDevice(),
	})
	require.NoError(t, err)
	require.False(t, s.Accepts(formatS16))
	require.Equal(t, astifilter.AudioFormat(astifilter.SampleFormatFlt, 96000, astifilter.ChannelLayoutStereo), s.RankFormats(formatS16)[0])

	c := newTestChain(t, astifilter.ChainOptions{Converters: []astifilter.ConverterFactory{filters.NewAudioResamplerFactory(filters.AudioResamplerFactoryOptions{})}})
	src, _ := newTestSource(t, newS16Packets([4]int16{1, 2, 3, 4}))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: s, Source: src}))
	cs := c.Converters()
	require.Len(t, cs, 1)
	require.Contains(t, cs[0].Metadata().Tags, "resampler")
	require.NoError(t, c.Run())
	require.Equal(t, uint64(1), s.CumulativeStats().Frames)
}
