package filters_test

import (
	"math"
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func TestVolume(t *testing.T) {
	_, err := filters.NewVolume(filters.VolumeOptions{Gain: -1})
	require.Error(t, err)
	_, err = filters.NewVolume(filters.VolumeOptions{Gain: math.NaN()})
	require.Error(t, err)

	v, err := filters.NewVolume(filters.VolumeOptions{Gain: 1})
	require.NoError(t, err)
	require.True(t, v.Accepts(formatS16))
	require.True(t, v.Accepts(formatFlt))
	require.False(t, v.Accepts(formatPkt))
	cmd := &astifilter.Command{Type: astifilter.CommandTypeIsActive}
	require.True(t, v.Command(cmd))
	require.False(t, cmd.IsActive)

	// Frames are copied before being modified when they're shared
	var refs []*astifilter.Frame
	keeper := mocks.NewMockedFilter()
	keeper.OnOutputFormat = func(in astifilter.Format) (astifilter.Format, bool) { return in, !in.IsZero() }
	keeper.OnProcess = func(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
		return mocks.Forward(p, func(f *astifilter.Frame) { refs = append(refs, f.Ref()) })
	}
	c := newTestChain(t, astifilter.ChainOptions{Filters: newTestRegistry(t, keeper)})
	src, _ := newTestSource(t, newS16Packets([4]int16{100, -200, 20000, -20000}, [4]int16{1, 2, 3, 4}))
	snk := mocks.NewMockedSink()
	specs, err := astifilter.ParseFilterSpecs("test,volume=2")
	require.NoError(t, err)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Sink:        snk,
		Source:      src,
		UserFilters: specs,
	}))
	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 2)
	require.Equal(t, []int16{200, -400, 32767, -32768}, s16Samples(snk.Frames[0].Data()))
	require.Equal(t, []int16{2, 4, 6, 8}, s16Samples(snk.Frames[1].Data()))
	require.Len(t, refs, 2)
	require.Equal(t, []int16{100, -200, 20000, -20000}, s16Samples(refs[0].Data()))

	cmd = &astifilter.Command{Type: astifilter.CommandTypeIsActive}
	require.True(t, c.Command(cmd))
	require.True(t, cmd.IsActive)
}

func TestVolumeConvertsToFloat(t *testing.T) {
	c := newTestChain(t, astifilter.ChainOptions{
		Converters: []astifilter.ConverterFactory{filters.NewAudioResamplerFactory(filters.AudioResamplerFactoryOptions{})},
		Filters:    filters.NewRegistry(),
	})
	src, _ := newTestSource(t, newS16Packets([4]int16{16384, -16384, 8192, 0}))
	snk := mocks.NewMockedSink(formatFlt)
	specs, err := astifilter.ParseFilterSpecs("format=flt,volume=db=-6.0206")
	require.NoError(t, err)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Sink:        snk,
		Source:      src,
		UserFilters: specs,
	}))
	require.Len(t, c.Converters(), 1)
	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 1)
	require.Equal(t, formatFlt, snk.Frames[0].Format)
	ss := fltSamples(snk.Frames[0].Data())
	require.Len(t, ss, 4)
	for idx, e := range []float32{0.25, -0.25, 0.125, 0} {
		require.InDelta(t, e, ss[idx], 0.0001)
	}
}
