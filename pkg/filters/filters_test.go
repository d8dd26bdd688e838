package filters_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

var (
	formatFlt = astifilter.AudioFormat(astifilter.SampleFormatFlt, 48000, astifilter.ChannelLayoutStereo)
	formatS16 = astifilter.AudioFormat(astifilter.SampleFormatS16, 48000, astifilter.ChannelLayoutStereo)
	formatPkt = astifilter.CodecFormat(astifilter.MediaKindOpaque, "pkt")
)

func newTestChain(t *testing.T, o astifilter.ChainOptions) *astifilter.Chain {
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	c, err := p.NewChain(o)
	require.NoError(t, err)
	return c
}

func newTestSource(t *testing.T, ps []filters.Packet) (*filters.Source, *mocks.MockedDemuxer) {
	d := mocks.NewMockedDemuxer(ps...)
	var f *astifilter.Format
	if len(ps) > 0 {
		f = &ps[0].Format
	}
	s, err := filters.NewSource(filters.SourceOptions{
		Demuxer: d,
		Format:  f,
	})
	require.NoError(t, err)
	return s, d
}

// Every packet holds samples of 2 channels, 2 samples per channel
func newS16Packets(vs ...[4]int16) (ps []filters.Packet) {
	for idx, v := range vs {
		b := make([]byte, 8)
		for i, s := range v {
			binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
		}
		pts := time.Duration(idx) * 20 * time.Millisecond
		ps = append(ps, filters.Packet{
			Data:     b,
			Duration: 20 * time.Millisecond,
			Format:   formatS16,
			PTS:      &pts,
			Samples:  2,
		})
	}
	return
}

func s16Samples(b []byte) (ss []int16) {
	for idx := 0; idx+1 < len(b); idx += 2 {
		ss = append(ss, int16(binary.LittleEndian.Uint16(b[idx:])))
	}
	return
}

func fltSamples(b []byte) (ss []float32) {
	for idx := 0; idx+3 < len(b); idx += 4 {
		ss = append(ss, math.Float32frombits(binary.LittleEndian.Uint32(b[idx:])))
	}
	return
}

// Creates a registry where "test" creates f
func newTestRegistry(t *testing.T, f astifilter.Filter) *filters.Registry {
	r := filters.NewRegistry()
	require.NoError(t, r.Register("test", func(s astifilter.FilterSpec) (astifilter.Filter, error) { return f, nil }))
	return r
}

func ptss(fs []*astifilter.Frame) (ds []time.Duration) {
	for _, f := range fs {
		ds = append(ds, f.PTS)
	}
	return
}
