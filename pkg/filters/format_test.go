package filters_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func TestFormatForcer(t *testing.T) {
	_, err := filters.NewFormatForcer(astifilter.Format{})
	require.Error(t, err)

	r := filters.NewRegistry()
	for _, s := range []string{
		"format=srate=48000:pixfmt=rgb24",
		"format=invalid",
		"format=srate=invalid",
		"format=foo=bar",
	} {
		ss, err := astifilter.ParseFilterSpecs(s)
		require.NoError(t, err)
		_, err = r.NewFilter(ss[0])
		require.Error(t, err, s)
	}

	ss, err := astifilter.ParseFilterSpecs("format=flt:96000")
	require.NoError(t, err)
	f, err := r.NewFilter(ss[0])
	require.NoError(t, err)
	out := astifilter.AudioFormat(astifilter.SampleFormatFlt, 96000, astifilter.ChannelLayoutStereo)
	require.False(t, f.Accepts(formatS16))
	require.True(t, f.Accepts(out))
	o, ok := f.OutputFormat(formatS16)
	require.True(t, ok)
	require.Equal(t, out, o)
	_, ok = f.OutputFormat(astifilter.Format{})
	require.False(t, ok)
	require.Equal(t, []astifilter.Format{out}, f.(astifilter.FormatRanker).RankFormats(formatS16))

	ss, err = astifilter.ParseFilterSpecs("format=pixfmt=gray:w=2")
	require.NoError(t, err)
	f, err = r.NewFilter(ss[0])
	require.NoError(t, err)
	o, ok = f.OutputFormat(astifilter.VideoFormat(astifilter.PixelFormatRGB24, 4, 4))
	require.True(t, ok)
	require.Equal(t, astifilter.VideoFormat(astifilter.PixelFormatGray, 2, 4), o)
	require.False(t, f.Accepts(formatS16))
}
