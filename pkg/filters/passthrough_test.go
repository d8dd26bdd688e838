package filters_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func TestPassthrough(t *testing.T) {
	p := filters.NewPassthrough()
	require.True(t, p.Accepts(formatPkt))
	f, ok := p.OutputFormat(formatPkt)
	require.True(t, ok)
	require.Equal(t, formatPkt, f)
	_, ok = p.OutputFormat(astifilter.Format{})
	require.False(t, ok)

	r := filters.NewRegistry()
	ss, err := astifilter.ParseFilterSpecs("passthrough=foo")
	require.NoError(t, err)
	_, err = r.NewFilter(ss[0])
	require.Error(t, err)

	c := newTestChain(t, astifilter.ChainOptions{Filters: r})
	src, _ := newTestSource(t, mocks.NewMockedPackets(3, formatPkt, 0))
	snk := mocks.NewMockedSink()
	specs, err := astifilter.ParseFilterSpecs("@a:passthrough,@b:passthrough")
	require.NoError(t, err)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Sink:        snk,
		Source:      src,
		UserFilters: specs,
	}))
	require.Len(t, c.Nodes(), 4)
	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 3)
	for idx, f := range snk.Frames {
		require.Equal(t, []byte{byte(idx)}, f.Data())
	}
	require.True(t, snk.EOF)

	cmd := &astifilter.Command{Type: astifilter.CommandTypeIsActive}
	require.True(t, c.Command(cmd))
	require.False(t, cmd.IsActive)
}
