package filters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

var (
	countSink uint64
)

// Device is the output frames are eventually written to. Write returns
// astifilter.ErrDeviceNotReady when the device can't accept data yet, in which case the frame is
// written again later.
type Device interface {
	// Drops buffered data
	Flush()
	// Empty means any format
	Formats() []astifilter.Format
	Write(ctx context.Context, f *astifilter.Frame) error
}

// ReadyNotifier is implemented by devices able to tell when they can accept data again after
// returning astifilter.ErrDeviceNotReady
type ReadyNotifier interface {
	OnReady(fn func())
}

var (
	_ astifilter.DeltaStater       = (*Sink)(nil)
	_ astifilter.Filter            = (*Sink)(nil)
	_ astifilter.FormatRanker      = (*Sink)(nil)
	_ astifilter.MetadataDescriber = (*Sink)(nil)
)

// Sink writes frames to a device, either synchronously or through a dispatcher when device calls
// may block
type Sink struct {
	cs       *sinkCumulativeStats
	ctx      context.Context
	d        Device
	dp       *astifilter.Dispatcher
	inflight bool
	m        sync.Mutex // Locks inflight, result and stale
	md       astifilter.Metadata
	o        SinkOptions
	pending  *astifilter.Frame
	result   *sinkResult
	stale    bool
	timeout  time.Duration
	watching bool
}

type sinkResult struct {
	err error
}

type sinkCumulativeStats struct {
	bytes    uint64
	frames   uint64
	notReady uint64
}

type SinkCumulativeStats struct {
	Bytes    uint64
	Frames   uint64
	NotReady uint64
}

type SinkOptions struct {
	// When set, Accepts and RankFormats rely on it instead of the device's formats
	Constraints *astifilter.AudioConstraints
	Context     context.Context
	Device      Device
	// When set, device writes are executed on the dispatcher
	Dispatcher *astifilter.Dispatcher
	Metadata   astifilter.Metadata
	// Default is the dispatcher's timeout
	Timeout time.Duration
}

func NewSink(o SinkOptions) (*Sink, error) {
	// Invalid options
	if o.Device == nil {
		return nil, errors.New("filters: device is mandatory")
	}

	// Create sink
	s := &Sink{
		cs:  &sinkCumulativeStats{},
		ctx: o.Context,
		d:   o.Device,
		dp:  o.Dispatcher,
		md: (&astifilter.Metadata{
			Name: fmt.Sprintf("sink_%d", atomic.AddUint64(&countSink, uint64(1))),
			Tags: []string{"sink"},
		}).Merge(o.Metadata),
		o:       o,
		timeout: o.Timeout,
	}

	// Default context
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	return s, nil
}

func (s *Sink) Metadata() astifilter.Metadata {
	return s.md
}

func (s *Sink) Accepts(f astifilter.Format) bool {
	if s.o.Constraints != nil {
		return s.o.Constraints.Accepts(f)
	}
	fs := astifilter.Formats(s.d.Formats())
	return len(fs) == 0 || fs.Contains(f)
}

func (s *Sink) PreferredFormats() []astifilter.Format {
	return s.d.Formats()
}

func (s *Sink) RankFormats(in astifilter.Format) []astifilter.Format {
	if s.o.Constraints != nil && in.Kind == astifilter.MediaKindAudio {
		return s.o.Constraints.Rank(in)
	}
	return s.d.Formats()
}

func (s *Sink) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	return astifilter.Format{}, false
}

func (s *Sink) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	// Watch device readiness
	if !s.watching {
		s.watching = true
		if n, ok := s.d.(ReadyNotifier); ok {
			n.OnReady(p.Waker())
		}
	}

	// Get state
	s.m.Lock()
	inflight, r := s.inflight, s.result
	s.result = nil
	s.m.Unlock()

	// A write is in progress
	if inflight {
		return astifilter.ProcessStatusNeedOutput, nil
	}

	// Handle previous asynchronous write
	if r != nil {
		return s.handleResult(r.err)
	}

	// Get next frame
	if s.pending == nil {
		// End of stream
		if p.Input().EOF() {
			return astifilter.ProcessStatusEOF, nil
		}

		// Read
		f, ok := p.Input().Read()
		if !ok {
			return astifilter.ProcessStatusNeedInput, nil
		}
		s.pending = f
	}

	// Write synchronously
	if s.dp == nil {
		return s.handleResult(s.d.Write(s.ctx, s.pending))
	}

	// Write asynchronously
	s.m.Lock()
	s.inflight = true
	s.m.Unlock()
	f, n := s.pending, p.Node()
	s.dp.Dispatch(s.ctx, s.timeout, func(ctx context.Context) error {
		return s.d.Write(ctx, f)
	}, func(err error) {
		// Store result
		s.m.Lock()
		s.inflight = false
		stale := s.stale
		s.stale = false
		if !stale {
			s.result = &sinkResult{err: err}
		}
		s.m.Unlock()

		// Frame has been discarded in the meantime
		if stale {
			f.Release()
			return
		}

		// Device failed
		if err != nil && !errors.Is(err, astifilter.ErrDeviceNotReady) {
			n.Chain().ReportError(n.ID(), fmt.Errorf("filters: writing to device failed: %w", err))
			return
		}

		// Wake up
		n.Wakeup()
	})
	return astifilter.ProcessStatusNeedOutput, nil
}

func (s *Sink) handleResult(err error) (astifilter.ProcessStatus, error) {
	// Device is not ready
	if errors.Is(err, astifilter.ErrDeviceNotReady) {
		atomic.AddUint64(&s.cs.notReady, 1)
		return astifilter.ProcessStatusNeedOutput, nil
	}

	// Frame is done
	f := s.pending
	s.pending = nil
	defer f.Release()

	// Write failed
	if err != nil {
		return astifilter.ProcessStatusError, fmt.Errorf("filters: writing to device failed: %w", err)
	}

	// Update stats
	atomic.AddUint64(&s.cs.bytes, uint64(len(f.Data())))
	atomic.AddUint64(&s.cs.frames, 1)
	return astifilter.ProcessStatusProgress, nil
}

func (s *Sink) Reset(m astifilter.ResetMode) {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Discard pending frame
	if s.pending != nil {
		if s.inflight {
			s.stale = true
		} else {
			s.pending.Release()
		}
		s.pending = nil
	}
	s.result = nil

	// Flush device
	s.d.Flush()
}

func (s *Sink) Destroy() error {
	// Release pending frame, or let the in-flight write release it
	s.m.Lock()
	if s.pending != nil {
		if s.inflight {
			s.stale = true
		} else {
			s.pending.Release()
		}
		s.pending = nil
	}
	s.result = nil
	s.m.Unlock()

	// Close device
	if c, ok := s.d.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("filters: closing device failed: %w", err)
		}
	}
	return nil
}

func (s *Sink) CumulativeStats() SinkCumulativeStats {
	return SinkCumulativeStats{
		Bytes:    atomic.LoadUint64(&s.cs.bytes),
		Frames:   atomic.LoadUint64(&s.cs.frames),
		NotReady: atomic.LoadUint64(&s.cs.notReady),
	}
}

func (s *Sink) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of times the device was not ready per second",
				Label:       "Not ready rate",
				Name:        DeltaStatNameNotReadyRate,
				Unit:        "Hz",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.notReady),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes written per second",
				Label:       "Written byte rate",
				Name:        DeltaStatNameWrittenByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.bytes),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames written per second",
				Label:       "Written rate",
				Name:        DeltaStatNameWrittenRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.frames),
		},
	}
}
