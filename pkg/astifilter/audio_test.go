package astifilter_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/stretchr/testify/require"
)

func TestSampleFormatConversionScore(t *testing.T) {
	require.Equal(t, 1024, astifilter.SampleFormatConversionScore(astifilter.SampleFormatS16, astifilter.SampleFormatS16))
	require.Equal(t, 560, astifilter.SampleFormatConversionScore(astifilter.SampleFormatS32, astifilter.SampleFormatS16))
	require.Equal(t, 504, astifilter.SampleFormatConversionScore(astifilter.SampleFormatFlt, astifilter.SampleFormatS16))
	require.Equal(t, 32, astifilter.SampleFormatConversionScore(astifilter.SampleFormatU8, astifilter.SampleFormatS16))
	require.Less(t, astifilter.SampleFormatConversionScore(astifilter.SampleFormatNone, astifilter.SampleFormatS16), 0)
}

func TestBestSampleRate(t *testing.T) {
	require.Equal(t, 0, astifilter.BestSampleRate(44100, nil))
	require.Equal(t, 44100, astifilter.BestSampleRate(44100, []int{48000, 44100}))
	require.Equal(t, 88200, astifilter.BestSampleRate(44100, []int{96000, 176400, 88200}))
	require.Equal(t, 48000, astifilter.BestSampleRate(44100, []int{32000, 48000}))
}

func TestAudioConstraints(t *testing.T) {
	c := astifilter.AudioConstraints{
		ChannelLayouts: []astifilter.ChannelLayout{astifilter.ChannelLayoutMono, astifilter.ChannelLayoutStereo},
		SampleFormats:  []astifilter.SampleFormat{astifilter.SampleFormatFlt},
		SampleRates:    []int{48000},
	}
	require.True(t, c.Accepts(astifilter.AudioFormat(astifilter.SampleFormatFlt, 48000, astifilter.ChannelLayoutMono)))
	require.False(t, c.Accepts(astifilter.AudioFormat(astifilter.SampleFormatS16, 48000, astifilter.ChannelLayoutMono)))
	require.False(t, c.Accepts(astifilter.VideoFormat(astifilter.PixelFormatRGB24, 2, 2)))
	require.Equal(t, []astifilter.Format{
		astifilter.AudioFormat(astifilter.SampleFormatFlt, 48000, astifilter.ChannelLayoutStereo),
		astifilter.AudioFormat(astifilter.SampleFormatFlt, 48000, astifilter.ChannelLayoutMono),
	}, c.Rank(astifilter.AudioFormat(astifilter.SampleFormatS16, 44100, astifilter.ChannelLayoutStereo)))

	c = astifilter.AudioConstraints{
		ChannelLayouts: []astifilter.ChannelLayout{astifilter.ChannelLayout5Point1},
		SampleFormats:  []astifilter.SampleFormat{astifilter.SampleFormatU8, astifilter.SampleFormatS32},
	}
	require.True(t, c.Accepts(astifilter.AudioFormat(astifilter.SampleFormatS32, 8000, astifilter.ChannelLayout5Point1)))
	require.Equal(t, []astifilter.Format{
		astifilter.AudioFormat(astifilter.SampleFormatS32, 44100, astifilter.ChannelLayout5Point1),
		astifilter.AudioFormat(astifilter.SampleFormatU8, 44100, astifilter.ChannelLayout5Point1),
	}, c.Rank(astifilter.AudioFormat(astifilter.SampleFormatS16, 44100, astifilter.ChannelLayoutStereo)))
}
