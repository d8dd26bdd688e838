package filters

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

var (
	countSource uint64
)

// Packet is a unit of demuxed data
type Packet struct {
	Data     []byte
	Duration time.Duration
	// Usually a codec format, see astifilter.CodecFormat
	Format astifilter.Format
	PTS    *time.Duration
	// Only set when the packet holds raw audio
	Samples int
}

// Demuxer is the container reader feeding a source. ReadPacket returns io.EOF once the stream
// has ended.
type Demuxer interface {
	ReadPacket() (Packet, error)
}

// Seeker is implemented by demuxers that need to be told about discontinuities
type Seeker interface {
	Reset(m astifilter.ResetMode)
}

var (
	_ astifilter.DeltaStater       = (*Source)(nil)
	_ astifilter.Filter            = (*Source)(nil)
	_ astifilter.MetadataDescriber = (*Source)(nil)
)

// Source reads packets lazily, each time its output has room for one
type Source struct {
	cs  *sourceCumulativeStats
	d   Demuxer
	eof bool
	f   *astifilter.Format
	md  astifilter.Metadata
}

type sourceCumulativeStats struct {
	bytes   uint64
	packets uint64
}

type SourceCumulativeStats struct {
	Bytes   uint64
	Packets uint64
}

type SourceOptions struct {
	Demuxer Demuxer
	// Format of the packets when it's known before reading the first one
	Format   *astifilter.Format
	Metadata astifilter.Metadata
}

func NewSource(o SourceOptions) (*Source, error) {
	// Invalid options
	if o.Demuxer == nil {
		return nil, errors.New("filters: demuxer is mandatory")
	}

	// Create source
	return &Source{
		cs: &sourceCumulativeStats{},
		d:  o.Demuxer,
		f:  o.Format,
		md: (&astifilter.Metadata{
			Name: fmt.Sprintf("source_%d", atomic.AddUint64(&countSource, uint64(1))),
			Tags: []string{"source"},
		}).Merge(o.Metadata),
	}, nil
}

func (s *Source) Metadata() astifilter.Metadata {
	return s.md
}

func (s *Source) Accepts(f astifilter.Format) bool {
	return false
}

func (s *Source) PreferredFormats() []astifilter.Format {
	return nil
}

func (s *Source) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	if s.f == nil {
		return astifilter.Format{}, false
	}
	return *s.f, true
}

func (s *Source) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	// End of stream
	if s.eof {
		return astifilter.ProcessStatusEOF, nil
	}

	// Output is full
	if !p.Output().CanWrite() {
		return astifilter.ProcessStatusNeedOutput, nil
	}

	// Read packet
	pkt, err := s.d.ReadPacket()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.eof = true
			return astifilter.ProcessStatusEOF, nil
		}
		return astifilter.ProcessStatusError, fmt.Errorf("filters: reading packet failed: %w", err)
	}

	// Write
	if err := p.Output().Write(astifilter.NewFrame(astifilter.FrameOptions{
		Data:     pkt.Data,
		Duration: pkt.Duration,
		Format:   pkt.Format,
		PTS:      pkt.PTS,
		Samples:  pkt.Samples,
	})); err != nil {
		return astifilter.ProcessStatusError, err
	}

	// Update stats
	atomic.AddUint64(&s.cs.bytes, uint64(len(pkt.Data)))
	atomic.AddUint64(&s.cs.packets, 1)
	return astifilter.ProcessStatusProgress, nil
}

func (s *Source) Reset(m astifilter.ResetMode) {
	// Stream may start again
	s.eof = false

	// Forward to demuxer
	if sk, ok := s.d.(Seeker); ok {
		sk.Reset(m)
	}
}

func (s *Source) Destroy() error {
	if c, ok := s.d.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("filters: closing demuxer failed: %w", err)
		}
	}
	return nil
}

func (s *Source) CumulativeStats() SourceCumulativeStats {
	return SourceCumulativeStats{
		Bytes:   atomic.LoadUint64(&s.cs.bytes),
		Packets: atomic.LoadUint64(&s.cs.packets),
	}
}

func (s *Source) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes read per second",
				Label:       "Read byte rate",
				Name:        DeltaStatNameReadByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.bytes),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets read per second",
				Label:       "Read rate",
				Name:        DeltaStatNameReadRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.packets),
		},
	}
}
