package filters

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

var (
	countDecoder uint64
)

// ErrDecoderAgain is returned by ReceiveFrame when the decoder needs more packets
var ErrDecoderAgain = errors.New("filters: decoder needs more packets")

// Decoder is the codec turning packets into frames
type Decoder interface {
	// Drops every packet and frame the decoder holds
	Flush()
	// Returns ErrDecoderAgain when more packets are needed, and io.EOF once the decoder has
	// been drained
	ReceiveFrame() (*astifilter.Frame, error)
	// A nil packet asks the decoder to output every frame it still holds
	SendPacket(p *Packet) error
}

var (
	_ astifilter.DeltaStater       = (*DecoderWrapper)(nil)
	_ astifilter.Filter            = (*DecoderWrapper)(nil)
	_ astifilter.MetadataDescriber = (*DecoderWrapper)(nil)
)

// DecoderWrapper feeds a decoder with packets and writes the frames it outputs. Before the first
// frame of a new format, it writes a format change notification.
type DecoderWrapper struct {
	codecs   []string
	cs       *decoderWrapperCumulativeStats
	d        Decoder
	draining bool
	last     *astifilter.Format
	md       astifilter.Metadata
	pending  *astifilter.Frame
	startPTS *time.Duration
}

type decoderWrapperCumulativeStats struct {
	decoded uint64
	dropped uint64
}

type DecoderWrapperCumulativeStats struct {
	Decoded uint64
	Dropped uint64
}

type DecoderWrapperOptions struct {
	// Empty means any codec
	Codecs   []string
	Decoder  Decoder
	Metadata astifilter.Metadata
	// Frames ending before it are dropped
	StartPTS *time.Duration
}

func NewDecoderWrapper(o DecoderWrapperOptions) (*DecoderWrapper, error) {
	// Invalid options
	if o.Decoder == nil {
		return nil, errors.New("filters: decoder is mandatory")
	}

	// Create wrapper
	return &DecoderWrapper{
		codecs: o.Codecs,
		cs:     &decoderWrapperCumulativeStats{},
		d:      o.Decoder,
		md: (&astifilter.Metadata{
			Name: fmt.Sprintf("decoder_%d", atomic.AddUint64(&countDecoder, uint64(1))),
			Tags: []string{"decoder"},
		}).Merge(o.Metadata),
		startPTS: o.StartPTS,
	}, nil
}

func (w *DecoderWrapper) Metadata() astifilter.Metadata {
	return w.md
}

func (w *DecoderWrapper) Accepts(f astifilter.Format) bool {
	if f.Codec == "" {
		return false
	}
	return len(w.codecs) == 0 || slices.Contains(w.codecs, f.Codec)
}

func (w *DecoderWrapper) PreferredFormats() []astifilter.Format {
	return nil
}

// The output format is only known once a frame has been decoded
func (w *DecoderWrapper) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	if w.last == nil {
		return astifilter.Format{}, false
	}
	return *w.last, true
}

// SetStartPTS makes the wrapper drop frames ending before pts. It must be called from the chain's
// dispatch context, typically right before a reset.
func (w *DecoderWrapper) SetStartPTS(pts *time.Duration) {
	w.startPTS = pts
}

func (w *DecoderWrapper) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	for {
		// Write pending frame
		if w.pending != nil {
			// Output is full
			if !p.Output().CanWrite() {
				return astifilter.ProcessStatusNeedOutput, nil
			}

			// Write
			if err := p.Output().Write(w.pending); err != nil {
				return astifilter.ProcessStatusError, err
			}
			w.pending = nil
			return astifilter.ProcessStatusProgress, nil
		}

		// Receive frame
		f, err := w.d.ReceiveFrame()
		if err != nil {
			// Decoder has been drained
			if errors.Is(err, io.EOF) {
				return astifilter.ProcessStatusEOF, nil
			}

			// Decoder failed
			if !errors.Is(err, ErrDecoderAgain) {
				return astifilter.ProcessStatusError, fmt.Errorf("filters: receiving frame failed: %w", err)
			}

			// Decoder has nothing left
			if w.draining {
				return astifilter.ProcessStatusEOF, nil
			}

			// Feed decoder
			if s, err := w.feed(p); err != nil || s != astifilter.ProcessStatusProgress {
				return s, err
			}
			continue
		}

		// Update stats
		atomic.AddUint64(&w.cs.decoded, 1)

		// Frame ends before start pts
		if w.startPTS != nil && f.HasPTS && f.PTS+f.Duration <= *w.startPTS {
			atomic.AddUint64(&w.cs.dropped, 1)
			f.Release()
			continue
		}
		w.startPTS = nil

		// Format has changed
		if w.last != nil && !w.last.Equal(f.Format) {
			p.Output().WriteFormatChange(f.Format)
		}
		fm := f.Format
		w.last = &fm

		// Frame will be written on next iteration
		w.pending = f
	}
}

func (w *DecoderWrapper) feed(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	// End of stream
	if p.Input().EOF() {
		w.draining = true
		if err := w.d.SendPacket(nil); err != nil {
			return astifilter.ProcessStatusError, fmt.Errorf("filters: draining decoder failed: %w", err)
		}
		return astifilter.ProcessStatusProgress, nil
	}

	// Read packet
	f, ok := p.Input().Read()
	if !ok {
		return astifilter.ProcessStatusNeedInput, nil
	}

	// Make sure the frame is released
	defer f.Release()

	// Send packet
	pkt := &Packet{
		Data:     f.Data(),
		Duration: f.Duration,
		Format:   f.Format,
		Samples:  f.Samples,
	}
	if f.HasPTS {
		pts := f.PTS
		pkt.PTS = &pts
	}
	if err := w.d.SendPacket(pkt); err != nil {
		return astifilter.ProcessStatusError, fmt.Errorf("filters: sending packet failed: %w", err)
	}
	return astifilter.ProcessStatusProgress, nil
}

func (w *DecoderWrapper) Reset(m astifilter.ResetMode) {
	// Flush decoder
	w.d.Flush()
	w.draining = false

	// Release pending frame
	if w.pending != nil {
		w.pending.Release()
		w.pending = nil
	}

	// Format will be discovered again
	if m == astifilter.ResetModeHard {
		w.last = nil
	}
}

func (w *DecoderWrapper) Destroy() error {
	// Release pending frame
	if w.pending != nil {
		w.pending.Release()
		w.pending = nil
	}

	// Close decoder
	if c, ok := w.d.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("filters: closing decoder failed: %w", err)
		}
	}
	return nil
}

func (w *DecoderWrapper) CumulativeStats() DecoderWrapperCumulativeStats {
	return DecoderWrapperCumulativeStats{
		Decoded: atomic.LoadUint64(&w.cs.decoded),
		Dropped: atomic.LoadUint64(&w.cs.dropped),
	}
}

func (w *DecoderWrapper) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames decoded per second",
				Label:       "Decoded rate",
				Name:        DeltaStatNameDecodedRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&w.cs.decoded),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames dropped per second",
				Label:       "Dropped rate",
				Name:        DeltaStatNameDroppedRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&w.cs.dropped),
		},
	}
}
