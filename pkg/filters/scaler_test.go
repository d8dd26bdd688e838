package filters_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func newVideoPacket(f astifilter.Format, data []byte) filters.Packet {
	return filters.Packet{
		Data:   data,
		Format: f,
	}
}

func TestVideoScaler(t *testing.T) {
	rgb24 := astifilter.VideoFormat(astifilter.PixelFormatRGB24, 2, 2)
	_, err := filters.NewVideoScaler(rgb24, astifilter.VideoFormat(astifilter.PixelFormatYUV420P, 2, 2))
	require.Error(t, err)
	_, err = filters.NewVideoScaler(formatS16, rgb24)
	require.Error(t, err)

	f := filters.NewVideoScalerFactory(filters.VideoScalerFactoryOptions{PixelFormats: []astifilter.PixelFormat{astifilter.PixelFormatGray}})
	require.Equal(t, "scaler", f.Name())
	require.Equal(t, []astifilter.Format{astifilter.VideoFormat(astifilter.PixelFormatGray, 2, 2)}, f.OutputFormats(rgb24))
	require.Empty(t, f.OutputFormats(formatS16))

	// Downscaling
	gray := astifilter.VideoFormat(astifilter.PixelFormatGray, 1, 1)
	c := newTestChain(t, astifilter.ChainOptions{Converters: []astifilter.ConverterFactory{f}})
	src, _ := newTestSource(t, []filters.Packet{newVideoPacket(rgb24, []byte{
		100, 200, 50, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
	})})
	snk := mocks.NewMockedSink(gray)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: snk, Source: src}))
	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 1)
	require.Equal(t, gray, snk.Frames[0].Format)
	require.Equal(t, []byte{153}, snk.Frames[0].Data())

	// Upscaling
	rgba := astifilter.VideoFormat(astifilter.PixelFormatRGBA, 1, 1)
	c = newTestChain(t, astifilter.ChainOptions{Converters: []astifilter.ConverterFactory{f}})
	src, _ = newTestSource(t, []filters.Packet{newVideoPacket(rgba, []byte{1, 2, 3, 4})})
	snk = mocks.NewMockedSink(astifilter.VideoFormat(astifilter.PixelFormatRGB24, 2, 1))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{Sink: snk, Source: src}))
	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 1)
	require.Equal(t, []byte{1, 2, 3, 1, 2, 3}, snk.Frames[0].Data())
}
