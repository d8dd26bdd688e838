package filters

import (
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var (
	countScaler uint64
)

var (
	_ astifilter.Filter            = (*VideoScaler)(nil)
	_ astifilter.MetadataDescriber = (*VideoScaler)(nil)
)

// VideoScaler converts between packed pixel formats and scales with nearest neighbour
// interpolation
type VideoScaler struct {
	in  astifilter.Format
	md  astifilter.Metadata
	out astifilter.Format
}

func NewVideoScaler(in, out astifilter.Format) (*VideoScaler, error) {
	// Invalid formats
	if !scalable(in) {
		return nil, fmt.Errorf("filters: can't scale from %s", in)
	} else if !scalable(out) {
		return nil, fmt.Errorf("filters: can't scale to %s", out)
	}

	// Create scaler
	return &VideoScaler{
		in: in,
		md: astifilter.Metadata{
			Name: fmt.Sprintf("scaler_%d", atomic.AddUint64(&countScaler, uint64(1))),
			Tags: []string{"converter", "scaler"},
		},
		out: out,
	}, nil
}

func scalable(f astifilter.Format) bool {
	return f.Kind == astifilter.MediaKindVideo &&
		f.PixelFormat.Packed() &&
		f.Width > 0 &&
		f.Height > 0
}

func (s *VideoScaler) Metadata() astifilter.Metadata {
	return s.md
}

func (s *VideoScaler) Accepts(f astifilter.Format) bool {
	return f.Equal(s.in)
}

func (s *VideoScaler) PreferredFormats() []astifilter.Format {
	return []astifilter.Format{s.in}
}

func (s *VideoScaler) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	return s.out, true
}

func (s *VideoScaler) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	return forward(p, s.scale)
}

func (s *VideoScaler) scale(f *astifilter.Frame) (*astifilter.Frame, error) {
	// Invalid format
	if !f.Format.Equal(s.in) {
		return nil, fmt.Errorf("filters: scaler expects %s, got %s", s.in, f.Format)
	}

	// Nothing to do
	if s.in.Equal(s.out) {
		return f, nil
	}

	// Invalid size
	src := f.Data()
	if len(src) < s.in.Size(0) {
		return nil, fmt.Errorf("filters: frame has %d bytes, expected %d", len(src), s.in.Size(0))
	}

	// Loop through pixels
	ibpp, obpp := s.in.PixelFormat.BytesPerPixel(), s.out.PixelFormat.BytesPerPixel()
	dst := make([]byte, s.out.Size(0))
	for y := 0; y < s.out.Height; y++ {
		sy := y * s.in.Height / s.out.Height
		for x := 0; x < s.out.Width; x++ {
			sx := x * s.in.Width / s.out.Width
			i := (sy*s.in.Width + sx) * ibpp
			writePixel(dst[(y*s.out.Width+x)*obpp:], s.out.PixelFormat, readPixel(src[i:], s.in.PixelFormat))
		}
	}

	// Create frame
	o := astifilter.NewFrame(astifilter.FrameOptions{
		Data:   dst,
		Format: s.out,
	})
	o.CopyTiming(f)
	f.Release()
	return o, nil
}

type rgba struct {
	r, g, b, a uint8
}

func readPixel(b []byte, f astifilter.PixelFormat) rgba {
	switch f {
	case astifilter.PixelFormatGray:
		return rgba{a: 0xff, b: b[0], g: b[0], r: b[0]}
	case astifilter.PixelFormatRGB24:
		return rgba{a: 0xff, b: b[2], g: b[1], r: b[0]}
	default:
		return rgba{a: b[3], b: b[2], g: b[1], r: b[0]}
	}
}

func writePixel(b []byte, f astifilter.PixelFormat, p rgba) {
	switch f {
	case astifilter.PixelFormatGray:
		b[0] = uint8((299*int(p.r) + 587*int(p.g) + 114*int(p.b)) / 1000)
	case astifilter.PixelFormatRGB24:
		b[0], b[1], b[2] = p.r, p.g, p.b
	default:
		b[0], b[1], b[2], b[3] = p.r, p.g, p.b, p.a
	}
}

func (s *VideoScaler) Reset(m astifilter.ResetMode) {}

func (s *VideoScaler) Destroy() error {
	return nil
}

var _ astifilter.ConverterFactory = (*VideoScalerFactory)(nil)

// VideoScalerFactory creates scalers between packed video formats
type VideoScalerFactory struct {
	o VideoScalerFactoryOptions
}

type VideoScalerFactoryOptions struct {
	// Proposed when the consumer doesn't state any preference
	PixelFormats []astifilter.PixelFormat
}

func NewVideoScalerFactory(o VideoScalerFactoryOptions) *VideoScalerFactory {
	return &VideoScalerFactory{o: o}
}

func (f *VideoScalerFactory) Name() string {
	return "scaler"
}

func (f *VideoScalerFactory) CanConvert(in, out astifilter.Format) bool {
	return scalable(in) && scalable(out)
}

// Size is kept
func (f *VideoScalerFactory) OutputFormats(in astifilter.Format) (fs []astifilter.Format) {
	if in.Kind != astifilter.MediaKindVideo {
		return
	}
	for _, pf := range f.o.PixelFormats {
		fs = append(fs, astifilter.VideoFormat(pf, in.Width, in.Height))
	}
	return
}

func (f *VideoScalerFactory) NewConverter(in, out astifilter.Format) (astifilter.Filter, error) {
	return NewVideoScaler(in, out)
}
