package filters_test

import (
	"errors"
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func TestDecoderWrapper(t *testing.T) {
	_, err := filters.NewDecoderWrapper(filters.DecoderWrapperOptions{})
	require.Error(t, err)

	d := mocks.NewMockedDecoder(formatS16)
	d.Delay = 2
	d.FormatAt = func(idx int) astifilter.Format {
		if idx < 5 {
			return formatS16
		}
		return formatFlt
	}
	w, err := filters.NewDecoderWrapper(filters.DecoderWrapperOptions{
		Codecs:  []string{"pkt"},
		Decoder: d,
	})
	require.NoError(t, err)
	require.True(t, w.Accepts(formatPkt))
	require.False(t, w.Accepts(astifilter.CodecFormat(astifilter.MediaKindOpaque, "other")))
	require.False(t, w.Accepts(formatS16))
	_, ok := w.OutputFormat(formatPkt)
	require.False(t, ok)

	c := newTestChain(t, astifilter.ChainOptions{})
	var rs []astifilter.EventChainRenegotiated
	c.On(astifilter.EventNameChainRenegotiated, func(payload interface{}) bool {
		rs = append(rs, payload.(astifilter.EventChainRenegotiated))
		return false
	})
	s, _ := newTestSource(t, mocks.NewMockedPackets(10, formatPkt, 20*time.Millisecond))
	snk := mocks.NewMockedSink()
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Decoder: w,
		Sink:    snk,
		Source:  s,
	}))
	decoder := c.Nodes()[1]
	rs = nil

	require.NoError(t, c.Run())
	require.Len(t, snk.Frames, 10)
	for idx, f := range snk.Frames {
		require.Equal(t, []byte{byte(idx)}, f.Data())
		require.Equal(t, time.Duration(idx)*20*time.Millisecond, f.PTS)
		if idx < 5 {
			require.Equal(t, formatS16, f.Format)
		} else {
			require.Equal(t, formatFlt, f.Format)
		}
	}
	require.True(t, snk.EOF)
	require.Len(t, rs, 2)
	for _, r := range rs {
		require.Equal(t, decoder.ID(), r.From.ID())
	}
	require.Equal(t, formatS16, rs[0].Out)
	require.Equal(t, formatFlt, rs[1].Out)
	require.Equal(t, filters.DecoderWrapperCumulativeStats{Decoded: 10}, w.CumulativeStats())
	require.Len(t, d.Packets, 10)
	require.True(t, d.Closed)
}

func TestDecoderWrapperStartPTS(t *testing.T) {
	d := mocks.NewMockedDecoder(formatS16)
	w, err := filters.NewDecoderWrapper(filters.DecoderWrapperOptions{
		Decoder:  d,
		StartPTS: durationPtr(50 * time.Millisecond),
	})
	require.NoError(t, err)

	c := newTestChain(t, astifilter.ChainOptions{})
	s, _ := newTestSource(t, mocks.NewMockedPackets(5, formatPkt, 20*time.Millisecond))
	snk := mocks.NewMockedSink()
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Decoder: w,
		Sink:    snk,
		Source:  s,
	}))
	require.NoError(t, c.Run())
	// Frame #2 ends after 50ms
	require.Equal(t, []time.Duration{40 * time.Millisecond, 60 * time.Millisecond, 80 * time.Millisecond}, ptss(snk.Frames))
	require.Equal(t, filters.DecoderWrapperCumulativeStats{Decoded: 5, Dropped: 2}, w.CumulativeStats())
}

func TestDecoderWrapperReset(t *testing.T) {
	d := mocks.NewMockedDecoder(formatS16)
	d.Delay = 1
	w, err := filters.NewDecoderWrapper(filters.DecoderWrapperOptions{Decoder: d})
	require.NoError(t, err)

	c := newTestChain(t, astifilter.ChainOptions{QueueCapacity: 1})
	s, _ := newTestSource(t, mocks.NewMockedPackets(5, formatPkt, 20*time.Millisecond))
	snk := mocks.NewMockedSink()
	ready := false
	snk.Ready = func() bool { return ready }
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Decoder: w,
		Sink:    snk,
		Source:  s,
	}))
	require.NoError(t, c.Run())
	f, ok := w.OutputFormat(formatPkt)
	require.True(t, ok)
	require.Equal(t, formatS16, f)

	require.NoError(t, c.Flush())
	require.Equal(t, 1, d.Flushes)
	f, ok = w.OutputFormat(formatPkt)
	require.True(t, ok)
	require.Equal(t, formatS16, f)

	ready = true
	c.Reset(astifilter.ResetModeHard)
	require.NoError(t, c.Run())
	require.Equal(t, 2, d.Flushes)
	require.True(t, snk.EOF)
}

func TestDecoderWrapperError(t *testing.T) {
	d := mocks.NewMockedDecoder(formatS16)
	errDecoder := errors.New("decoder")
	d.Err = errDecoder
	w, err := filters.NewDecoderWrapper(filters.DecoderWrapperOptions{Decoder: d})
	require.NoError(t, err)

	c := newTestChain(t, astifilter.ChainOptions{})
	s, _ := newTestSource(t, mocks.NewMockedPackets(1, formatPkt, 20*time.Millisecond))
	require.NoError(t, c.Build(astifilter.ChainBuildOptions{
		Decoder: w,
		Sink:    mocks.NewMockedSink(),
		Source:  s,
	}))
	require.ErrorIs(t, c.Run(), errDecoder)
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
