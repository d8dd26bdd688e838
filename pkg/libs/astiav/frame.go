package astiavfilter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

// Frame bytes are exchanged without padding between lines
const frameAlign = 1

var (
	frameBytes = func(f *astiav.Frame) ([]byte, error) {
		return f.Data().Bytes(frameAlign)
	}
	setFrameBytes = func(f *astiav.Frame, b []byte) error {
		return f.Data().SetBytes(b, frameAlign)
	}
)

// framePool recycles libav frames, they're freed when the closer is closed
type framePool struct {
	allocated uint64
	c         *astikit.Closer
	fs        []*astiav.Frame
	m         sync.Mutex // Locks fs
}

func newFramePool(c *astikit.Closer) *framePool {
	return &framePool{c: c}
}

func (fp *framePool) get() *astiav.Frame {
	// Lock
	fp.m.Lock()
	defer fp.m.Unlock()

	// Reuse
	if len(fp.fs) > 0 {
		f := fp.fs[len(fp.fs)-1]
		fp.fs = fp.fs[:len(fp.fs)-1]
		return f
	}

	// Allocate
	f := astiav.AllocFrame()
	atomic.AddUint64(&fp.allocated, 1)
	fp.c.Add(f.Free)
	return f
}

func (fp *framePool) put(f *astiav.Frame) {
	f.Unref()
	fp.m.Lock()
	defer fp.m.Unlock()
	fp.fs = append(fp.fs, f)
}

func (fp *framePool) deltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of allocated libav frames",
				Label:       "Allocated frames",
				Name:        DeltaStatNameAllocatedFrames,
				Unit:        "f",
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&fp.allocated),
		},
	}
}

// Fills dst with the content of src, src's format must have been validated
func toAVFrame(src *astifilter.Frame, dst *astiav.Frame) error {
	// Describe frame
	switch src.Format.Kind {
	case astifilter.MediaKindAudio:
		l, err := channelLayout(src.Format.ChannelLayout)
		if err != nil {
			return err
		}
		sf, err := sampleFormat(src.Format.SampleFormat)
		if err != nil {
			return err
		}
		dst.SetChannelLayout(l)
		dst.SetNbSamples(src.Samples)
		dst.SetSampleFormat(sf)
		dst.SetSampleRate(src.Format.SampleRate)
	case astifilter.MediaKindVideo:
		pf, err := pixelFormat(src.Format.PixelFormat)
		if err != nil {
			return err
		}
		dst.SetHeight(src.Format.Height)
		dst.SetPixelFormat(pf)
		dst.SetWidth(src.Format.Width)
	}

	// Set pts
	if src.HasPTS {
		dst.SetPts(src.PTS.Nanoseconds())
	} else {
		dst.SetPts(astiav.NoPtsValue)
	}

	// Allocate buffer
	if err := dst.AllocBuffer(0); err != nil {
		return fmt.Errorf("astiavfilter: allocating buffer failed: %w", err)
	}

	// Copy data
	if err := setFrameBytes(dst, src.Data()); err != nil {
		return fmt.Errorf("astiavfilter: setting frame bytes failed: %w", err)
	}
	return nil
}

// Creates a frame out of what a buffersink has produced
func fromAVFrame(src *astiav.Frame, f astifilter.Format, tb astiav.Rational) (*astifilter.Frame, error) {
	// Copy data
	b, err := frameBytes(src)
	if err != nil {
		return nil, fmt.Errorf("astiavfilter: getting frame bytes failed: %w", err)
	}
	b = append([]byte{}, b...)

	// Create frame
	dst := astifilter.NewFrame(astifilter.FrameOptions{
		Data:   b,
		Format: f,
	})

	// Update timing
	if pts := src.Pts(); pts != astiav.NoPtsValue {
		dst.SetPTS(ptsToDuration(pts, tb))
	}
	if f.Kind == astifilter.MediaKindAudio {
		dst.Samples = src.NbSamples()
		if f.SampleRate > 0 {
			dst.Duration = time.Duration(dst.Samples) * time.Second / time.Duration(f.SampleRate)
		}
	}
	return dst, nil
}
