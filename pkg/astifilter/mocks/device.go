package mocks

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/filters"
)

var (
	_ filters.Demuxer = (*MockedDemuxer)(nil)
	_ filters.Seeker  = (*MockedDemuxer)(nil)
	_ io.Closer       = (*MockedDemuxer)(nil)
)

// MockedDemuxer returns its packets in order, then Err if set or io.EOF
type MockedDemuxer struct {
	Closed  bool
	Err     error
	Packets []filters.Packet
	Resets  []astifilter.ResetMode
	idx     int
}

func NewMockedDemuxer(ps ...filters.Packet) *MockedDemuxer {
	return &MockedDemuxer{Packets: ps}
}

// NewMockedPackets creates count packets of format f lasting d each
func NewMockedPackets(count int, f astifilter.Format, d time.Duration) (ps []filters.Packet) {
	for idx := 0; idx < count; idx++ {
		pts := time.Duration(idx) * d
		ps = append(ps, filters.Packet{
			Data:     []byte{byte(idx)},
			Duration: d,
			Format:   f,
			PTS:      &pts,
		})
	}
	return
}

func (d *MockedDemuxer) ReadPacket() (filters.Packet, error) {
	if d.idx < len(d.Packets) {
		d.idx++
		return d.Packets[d.idx-1], nil
	}
	if d.Err != nil {
		return filters.Packet{}, d.Err
	}
	return filters.Packet{}, io.EOF
}

func (d *MockedDemuxer) Reset(m astifilter.ResetMode) {
	d.Resets = append(d.Resets, m)
}

func (d *MockedDemuxer) Close() error {
	d.Closed = true
	return nil
}

var (
	_ filters.Decoder = (*MockedDecoder)(nil)
	_ io.Closer       = (*MockedDecoder)(nil)
)

// MockedDecoder outputs one frame per packet, Delay packets later. Frame #i has the format
// returned by FormatAt.
type MockedDecoder struct {
	Closed   bool
	Delay    int
	Err      error
	Flushes  int
	FormatAt func(idx int) astifilter.Format
	Packets  []*filters.Packet
	draining bool
	fs       []*astifilter.Frame
	idx      int
}

func NewMockedDecoder(f astifilter.Format) *MockedDecoder {
	return &MockedDecoder{FormatAt: func(int) astifilter.Format { return f }}
}

func (d *MockedDecoder) SendPacket(p *filters.Packet) error {
	// Drain
	if p == nil {
		d.draining = true
		return nil
	}

	// Create frame
	d.Packets = append(d.Packets, p)
	d.fs = append(d.fs, astifilter.NewFrame(astifilter.FrameOptions{
		Data:     append([]byte{}, p.Data...),
		Duration: p.Duration,
		Format:   d.FormatAt(d.idx),
		PTS:      p.PTS,
		Samples:  1,
	}))
	d.idx++
	return nil
}

func (d *MockedDecoder) ReceiveFrame() (*astifilter.Frame, error) {
	// Decoding failed
	if d.Err != nil {
		return nil, d.Err
	}

	// Frames are delayed
	if len(d.fs) == 0 || (!d.draining && len(d.fs) <= d.Delay) {
		if d.draining {
			return nil, io.EOF
		}
		return nil, filters.ErrDecoderAgain
	}

	// Pop frame
	f := d.fs[0]
	d.fs = d.fs[1:]
	return f, nil
}

func (d *MockedDecoder) Flush() {
	d.Flushes++
	d.draining = false
	for _, f := range d.fs {
		f.Release()
	}
	d.fs = nil
}

func (d *MockedDecoder) Close() error {
	d.Closed = true
	return nil
}

var (
	_ filters.Device        = (*MockedDevice)(nil)
	_ filters.ReadyNotifier = (*MockedDevice)(nil)
	_ io.Closer             = (*MockedDevice)(nil)
)

// MockedDevice records written frames. It can be called from any goroutine.
type MockedDevice struct {
	Closed   bool
	Flushes  int
	Frames   []MockedDeviceFrame
	NotReady int // Number of writes returning astifilter.ErrDeviceNotReady
	OnWrite  func(ctx context.Context, f *astifilter.Frame) error
	fs       []astifilter.Format
	m        sync.Mutex // Locks all attributes
	onReady  func()
}

type MockedDeviceFrame struct {
	Data   []byte
	Format astifilter.Format
	PTS    time.Duration
}

func NewMockedDevice(fs ...astifilter.Format) *MockedDevice {
	return &MockedDevice{fs: fs}
}

func (d *MockedDevice) Formats() []astifilter.Format {
	return d.fs
}

func (d *MockedDevice) Write(ctx context.Context, f *astifilter.Frame) error {
	// Lock
	d.m.Lock()

	// Not ready
	if d.NotReady > 0 {
		d.NotReady--
		d.m.Unlock()
		return astifilter.ErrDeviceNotReady
	}

	// Callback
	fn := d.OnWrite
	d.m.Unlock()
	if fn != nil {
		if err := fn(ctx, f); err != nil {
			return err
		}
	}

	// Store frame
	d.m.Lock()
	defer d.m.Unlock()
	d.Frames = append(d.Frames, MockedDeviceFrame{
		Data:   append([]byte{}, f.Data()...),
		Format: f.Format,
		PTS:    f.PTS,
	})
	return nil
}

// WrittenFrames is safe to call while the device is being written to
func (d *MockedDevice) WrittenFrames() []MockedDeviceFrame {
	d.m.Lock()
	defer d.m.Unlock()
	return append([]MockedDeviceFrame{}, d.Frames...)
}

func (d *MockedDevice) SetNotReady(n int) {
	d.m.Lock()
	defer d.m.Unlock()
	d.NotReady = n
}

func (d *MockedDevice) OnReady(fn func()) {
	d.m.Lock()
	defer d.m.Unlock()
	d.onReady = fn
}

// Ready calls the callback registered through OnReady
func (d *MockedDevice) Ready() {
	d.m.Lock()
	fn := d.onReady
	d.m.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *MockedDevice) Flush() {
	d.m.Lock()
	defer d.m.Unlock()
	d.Flushes++
}

func (d *MockedDevice) Close() error {
	d.m.Lock()
	defer d.m.Unlock()
	d.Closed = true
	return nil
}
