package filters_test

import (
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func TestTempo(t *testing.T) {
	_, err := filters.NewTempo(filters.TempoOptions{Speed: -1})
	require.Error(t, err)

	c := newTestChain(t, astifilter.ChainOptions{
		Filters:       filters.NewRegistry(),
		QueueCapacity: 1,
	})
	src, _ := newTestSource(t, newS16Packets([4]int16{0}, [4]int16{1}, [4]int16{2}, [4]int16{3}))
	var ready bool
	snk := mocks.NewMockedSink()
	snk.Ready = func() bool { return ready }
	specs, err := astifilter.ParseFilterSpecs("tempo=2")
	require.NoError(t, err)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Sink:        snk,
		Source:      src,
		UserFilters: specs,
	}))

	cmd := &astifilter.Command{Type: astifilter.CommandTypeIsActive}
	require.True(t, c.Command(cmd))
	require.True(t, cmd.IsActive)

	// Only the first frame goes through the tempo before the speed changes
	require.NoError(t, c.Run())
	require.True(t, c.Command(&astifilter.Command{Speed: 0.5, Type: astifilter.CommandTypeSetSpeed}))
	require.False(t, c.Command(&astifilter.Command{Speed: -1, Type: astifilter.CommandTypeSetSpeed}))
	ready = true
	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 4)
	require.Equal(t, []time.Duration{0, 40 * time.Millisecond, 80 * time.Millisecond, 120 * time.Millisecond}, ptss(snk.Frames))
	require.Equal(t, 10*time.Millisecond, snk.Frames[0].Duration)
	require.Equal(t, 40*time.Millisecond, snk.Frames[1].Duration)
}

func TestTempoReset(t *testing.T) {
	c := newTestChain(t, astifilter.ChainOptions{Filters: filters.NewRegistry()})
	src, d := newTestSource(t, newS16Packets([4]int16{0}, [4]int16{1}))
	var ready bool
	snk := mocks.NewMockedSink()
	snk.Ready = func() bool { return ready }
	specs, err := astifilter.ParseFilterSpecs("tempo=speed=2")
	require.NoError(t, err)
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Sink:        snk,
		Source:      src,
		UserFilters: specs,
	}))
	require.NoError(t, c.Run())
	require.NoError(t, c.Flush())
	require.Equal(t, []astifilter.ResetMode{astifilter.ResetModeSoft}, d.Resets)

	// Timestamps restart from the first frame following the reset
	d.Packets = newS16Packets([4]int16{0}, [4]int16{1}, [4]int16{2}, [4]int16{3})
	ready = true
	require.NoError(t, c.Run())
	require.Equal(t, []time.Duration{40 * time.Millisecond, 50 * time.Millisecond}, ptss(snk.Frames))
	require.True(t, snk.EOF)
}
