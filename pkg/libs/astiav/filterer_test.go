package astiavfilter

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T, o astifilter.ChainOptions) *astifilter.Chain {
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	c, err := p.NewChain(o)
	require.NoError(t, err)
	return c
}

func TestFilterer(t *testing.T) {
	_, err := NewFilterer(FiltererOptions{})
	require.Error(t, err)

	r := filters.NewRegistry()
	registered, err := RegisterFilters(r, "volume", "invalid-filter")
	require.NoError(t, err)
	require.Equal(t, []string{"lavfi-volume"}, registered)
	require.Contains(t, r.Names(), "lavfi-volume")
	_, err = RegisterFilters(r, "volume")
	require.Error(t, err)

	ufs, err := r.ParseFilterSpecs("lavfi-volume=2")
	require.NoError(t, err)
	c := newTestChain(t, astifilter.ChainOptions{Filters: r})
	in := astifilter.AudioFormat(astifilter.SampleFormatS16, 44100, astifilter.ChannelLayoutStereo)
	src := mocks.NewMockedSource(10, in)
	snk := mocks.NewMockedSink()
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Sink:        snk,
		Source:      src,
		UserFilters: ufs,
	}))
	ns := c.Nodes()
	require.Len(t, ns, 3)
	flt, ok := ns[1].Filter().(*Filterer)
	require.True(t, ok)
	require.Equal(t, "volume=2", flt.content)
	require.Equal(t, "lavfi-volume=0=2", flt.Metadata().Name)
	require.Equal(t, []string{"lavfi"}, flt.Metadata().Tags)
	es := c.Edges()
	require.Len(t, es, 2)
	out, ok := es[1].Format()
	require.True(t, ok)
	require.Equal(t, astifilter.MediaKindAudio, out.Kind)
	require.Equal(t, 44100, out.SampleRate)
	require.Equal(t, astifilter.ChannelLayoutStereo, out.ChannelLayout)

	cmd := &astifilter.Command{Type: astifilter.CommandTypeIsActive}
	require.True(t, flt.Command(cmd))
	require.True(t, cmd.IsActive)

	require.NoError(t, c.Run())
	require.True(t, snk.EOF)
	require.Len(t, snk.Frames, 10)
	for _, fm := range snk.Frames {
		require.Equal(t, out, fm.Format)
		require.Equal(t, 1, fm.Samples)
	}
	require.NotZero(t, flt.graphs)
}

func TestFiltererRejectsUnhandledFormats(t *testing.T) {
	in := astifilter.AudioFormat(astifilter.SampleFormatS16, 48000, astifilter.ChannelLayoutStereo)
	f, err := NewFilterer(FiltererOptions{
		Content: "volume=2",
		Input:   &in,
	})
	require.NoError(t, err)
	defer f.Destroy()
	require.Equal(t, []astifilter.Format{in}, f.PreferredFormats())
	require.False(t, f.Accepts(astifilter.AudioFormat(astifilter.SampleFormatS16, 44100, astifilter.ChannelLayoutStereo)))
	require.False(t, f.Accepts(astifilter.CodecFormat(astifilter.MediaKindAudio, "aac")))
	require.True(t, f.Accepts(in))
	require.NotNil(t, f.g)
	f.Reset(astifilter.ResetModeSoft)
	require.Nil(t, f.g)
	require.Len(t, f.outs, 1)
	f.Reset(astifilter.ResetModeHard)
	require.Len(t, f.outs, 0)

	f, err = NewFilterer(FiltererOptions{Content: "invalid-filter"})
	require.NoError(t, err)
	defer f.Destroy()
	require.False(t, f.Accepts(in))
}

func TestFilterContent(t *testing.T) {
	require.Equal(t, "volume", filterContent("volume", nil))
	require.Equal(t, "volume=2", filterContent("volume", map[string]string{"0": "2"}))
	require.Equal(t, "equalizer=1000:g=3:t=q", filterContent("equalizer", map[string]string{
		"0": "1000",
		"t": "q",
		"g": "3",
	}))
	require.Equal(t, "aecho=0.8:0.9:1000:0.3", filterContent("aecho", map[string]string{
		"0": "0.8",
		"1": "0.9",
		"2": "1000",
		"3": "0.3",
	}))
}
