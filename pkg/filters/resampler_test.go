package filters_test

import (
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func TestAudioResampler(t *testing.T) {
	_, err := filters.NewAudioResampler(formatPkt, formatFlt)
	require.Error(t, err)
	_, err = filters.NewAudioResampler(formatS16, formatPkt)
	require.Error(t, err)

	r, err := filters.NewAudioResampler(formatS16, formatS16)
	require.NoError(t, err)
	require.Contains(t, r.Metadata().Tags, "converter")
	require.True(t, r.Accepts(formatS16))
	require.False(t, r.Accepts(formatFlt))
	cmd := &astifilter.Command{Type: astifilter.CommandTypeIsActive}
	require.True(t, r.Command(cmd))
	require.False(t, cmd.IsActive)
	require.False(t, r.Command(&astifilter.Command{Speed: 0, Type: astifilter.CommandTypeSetSpeedResample}))
	require.False(t, r.Command(&astifilter.Command{Speed: 2, Type: astifilter.CommandTypeSetSpeed}))
	require.True(t, r.Command(&astifilter.Command{Speed: 2, Type: astifilter.CommandTypeSetSpeedResample}))
	require.True(t, r.Command(cmd))
	require.True(t, cmd.IsActive)
}

func TestAudioResamplerRemixesAndResamples(t *testing.T) {
	out := astifilter.AudioFormat(astifilter.SampleFormatFlt, 24000, astifilter.ChannelLayoutMono)
	f := filters.NewAudioResamplerFactory(filters.AudioResamplerFactoryOptions{Formats: []astifilter.Format{out}})
	require.Equal(t, "resampler", f.Name())
	require.True(t, f.CanConvert(formatS16, out))
	require.False(t, f.CanConvert(formatPkt, out))
	require.Equal(t, []astifilter.Format{out}, f.OutputFormats(formatS16))
	require.Empty(t, f.OutputFormats(formatPkt))

	c := newTestChain(t, astifilter.ChainOptions{Converters: []astifilter.ConverterFactory{f}})
	src, _ := newTestSource(t, newS16Packets([4]int16{16384, 0, 0, 16384}, [4]int16{-16384, -16384, 8192, 8192}))
	snk := mocks.NewMockedSink(out)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: snk, Source: src}))
	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 2)
	require.Equal(t, []float32{0.25}, fltSamples(snk.Frames[0].Data()))
	require.Equal(t, []float32{-0.5}, fltSamples(snk.Frames[1].Data()))
	require.Equal(t, out, snk.Frames[1].Format)
	require.Equal(t, 1, snk.Frames[1].Samples)
	require.Equal(t, time.Second/24000, snk.Frames[1].Duration)
	require.Equal(t, []time.Duration{0, 20 * time.Millisecond}, ptss(snk.Frames))
}

func TestAudioResamplerDuplicatesMono(t *testing.T) {
	in := astifilter.AudioFormat(astifilter.SampleFormatS16, 24000, astifilter.ChannelLayoutMono)
	c := newTestChain(t, astifilter.ChainOptions{Converters: []astifilter.ConverterFactory{filters.NewAudioResamplerFactory(filters.AudioResamplerFactoryOptions{})}})
	ps := newS16Packets([4]int16{16384, -16384, 0, 8192})
	ps[0].Format = in
	ps[0].Samples = 4
	src, _ := newTestSource(t, ps)
	snk := mocks.NewMockedSink(formatS16)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: snk, Source: src}))
	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 1)
	require.Equal(t, []int16{16384, 16384, 0, 0, -16384, -16384, -8192, -8192, 0, 0, 4096, 4096, 8192, 8192, 8192, 8192}, s16Samples(snk.Frames[0].Data()))
}
