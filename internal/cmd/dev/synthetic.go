package main

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/filters"
)

var (
	_ filters.Demuxer = (*syntheticDemuxer)(nil)
	_ filters.Seeker  = (*syntheticDemuxer)(nil)
)

// syntheticDemuxer generates a sine wave for audio and a moving gradient for video
type syntheticDemuxer struct {
	count    int
	duration time.Duration
	f        astifilter.Format
	m        sync.Mutex // Locks count
	packets  int        // 0 means infinite
	samples  int
}

func newSyntheticDemuxer(f astifilter.Format, d time.Duration) *syntheticDemuxer {
	sd := &syntheticDemuxer{f: f}
	switch f.Kind {
	case astifilter.MediaKindAudio:
		sd.samples = f.SampleRate / 50
		sd.duration = 20 * time.Millisecond
	default:
		sd.duration = 40 * time.Millisecond
	}
	if d > 0 {
		sd.packets = int(d / sd.duration)
	}
	return sd
}

func (d *syntheticDemuxer) ReadPacket() (filters.Packet, error) {
	// Lock
	d.m.Lock()
	defer d.m.Unlock()

	// End of stream
	if d.packets > 0 && d.count >= d.packets {
		return filters.Packet{}, io.EOF
	}

	// Create packet
	pts := time.Duration(d.count) * d.duration
	p := filters.Packet{
		Duration: d.duration,
		Format:   d.f,
		PTS:      &pts,
		Samples:  d.samples,
	}
	if d.f.Kind == astifilter.MediaKindAudio {
		p.Data = d.sine()
	} else {
		p.Data = d.gradient()
	}
	d.count++
	return p, nil
}

// 440Hz s16 sine wave, the same on every channel
func (d *syntheticDemuxer) sine() []byte {
	channels := d.f.ChannelLayout.Channels()
	b := make([]byte, d.f.Size(d.samples))
	for i := 0; i < d.samples; i++ {
		t := float64(d.count*d.samples+i) / float64(d.f.SampleRate)
		v := uint16(int16(math.Sin(2*math.Pi*440*t) * math.MaxInt16 / 2))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(b[(i*channels+c)*2:], v)
		}
	}
	return b
}

// rgb24 gradient shifting one column per frame
func (d *syntheticDemuxer) gradient() []byte {
	b := make([]byte, d.f.Size(0))
	for y := 0; y < d.f.Height; y++ {
		for x := 0; x < d.f.Width; x++ {
			idx := (y*d.f.Width + x) * 3
			b[idx] = byte((x + d.count) * 255 / d.f.Width)
			b[idx+1] = byte(y * 255 / d.f.Height)
			b[idx+2] = 128
		}
	}
	return b
}

func (d *syntheticDemuxer) Reset(m astifilter.ResetMode) {
	if m == astifilter.ResetModeHard {
		d.m.Lock()
		d.count = 0
		d.m.Unlock()
	}
}

var _ filters.Device = (*syntheticDevice)(nil)

// syntheticDevice consumes frames in real time
type syntheticDevice struct {
	fs      []astifilter.Format
	l       logger
	m       sync.Mutex // Locks written
	n       string
	written int
}

type logger interface {
	DebugC(ctx context.Context, v ...interface{})
}

func newSyntheticDevice(name string, l logger, fs ...astifilter.Format) *syntheticDevice {
	return &syntheticDevice{
		fs: fs,
		l:  l,
		n:  name,
	}
}

func (d *syntheticDevice) Formats() []astifilter.Format {
	return d.fs
}

func (d *syntheticDevice) Write(ctx context.Context, f *astifilter.Frame) error {
	// Wait for the frame to be "played"
	if f.Duration > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.Duration):
		}
	}

	// Update count
	d.m.Lock()
	d.written++
	written := d.written
	d.m.Unlock()

	// Log
	if written%100 == 0 {
		d.l.DebugC(ctx, "main: ", d.n, " device has written ", written, " frames, last one is ", f.Format, " at ", f.PTS)
	}
	return nil
}

func (d *syntheticDevice) Flush() {}
