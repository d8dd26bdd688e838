package astiavfilter

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/stretchr/testify/require"
)

func TestConverterFactory(t *testing.T) {
	in := astifilter.AudioFormat(astifilter.SampleFormatS16, 48000, astifilter.ChannelLayoutStereo)
	out := astifilter.AudioFormat(astifilter.SampleFormatFlt, 24000, astifilter.ChannelLayoutMono)
	v := astifilter.VideoFormat(astifilter.PixelFormatGray, 2, 2)
	f := NewConverterFactory(ConverterFactoryOptions{Formats: []astifilter.Format{v, out}})
	require.Equal(t, "lavfi", f.Name())
	require.True(t, f.CanConvert(in, out))
	require.False(t, f.CanConvert(in, v))
	require.False(t, f.CanConvert(in, astifilter.CodecFormat(astifilter.MediaKindAudio, "aac")))
	require.Equal(t, []astifilter.Format{out}, f.OutputFormats(in))
	_, err := f.NewConverter(in, v)
	require.Error(t, err)

	c := newTestChain(t, astifilter.ChainOptions{Converters: []astifilter.ConverterFactory{f}})
	src := mocks.NewMockedSource(10, in)
	snk := mocks.NewMockedSink(out)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: snk, Source: src}))
	cs := c.Converters()
	require.Len(t, cs, 1)
	require.Equal(t, []string{"auto", "lavfi", "converter"}, cs[0].Metadata().Tags)

	require.NoError(t, c.Run())
	require.True(t, snk.EOF)
	require.NotEmpty(t, snk.Frames)
	var samples int
	for _, fm := range snk.Frames {
		require.Equal(t, out, fm.Format)
		require.Equal(t, fm.Samples*4, len(fm.Data()))
		samples += fm.Samples
	}
	require.InDelta(t, 5, samples, 2)
}
