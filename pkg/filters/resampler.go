package filters

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var (
	countResampler uint64
)

var (
	_ astifilter.Commander         = (*AudioResampler)(nil)
	_ astifilter.Filter            = (*AudioResampler)(nil)
	_ astifilter.MetadataDescriber = (*AudioResampler)(nil)
)

// AudioResampler converts sample format, channel layout and sample rate. Rates are converted
// with linear interpolation.
type AudioResampler struct {
	acc   int64 // Remainder of the output sample count
	in    astifilter.Format
	md    astifilter.Metadata
	out   astifilter.Format
	speed float64
}

func NewAudioResampler(in, out astifilter.Format) (*AudioResampler, error) {
	// Invalid formats
	if !resamplable(in) {
		return nil, fmt.Errorf("filters: can't resample from %s", in)
	} else if !resamplable(out) {
		return nil, fmt.Errorf("filters: can't resample to %s", out)
	}

	// Create resampler
	return &AudioResampler{
		in: in,
		md: astifilter.Metadata{
			Name: fmt.Sprintf("resampler_%d", atomic.AddUint64(&countResampler, uint64(1))),
			Tags: []string{"converter", "resampler"},
		},
		out:   out,
		speed: 1,
	}, nil
}

func resamplable(f astifilter.Format) bool {
	return f.Kind == astifilter.MediaKindAudio &&
		f.SampleFormat.BytesPerSample() > 0 &&
		f.ChannelLayout.Channels() > 0 &&
		f.SampleRate > 0
}

func (r *AudioResampler) Metadata() astifilter.Metadata {
	return r.md
}

func (r *AudioResampler) Accepts(f astifilter.Format) bool {
	return f.Equal(r.in)
}

func (r *AudioResampler) PreferredFormats() []astifilter.Format {
	return []astifilter.Format{r.in}
}

func (r *AudioResampler) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	return r.out, true
}

func (r *AudioResampler) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	return forward(p, r.resample)
}

func (r *AudioResampler) resample(f *astifilter.Frame) (*astifilter.Frame, error) {
	// Invalid format
	if !f.Format.Equal(r.in) {
		return nil, fmt.Errorf("filters: resampler expects %s, got %s", r.in, f.Format)
	}

	// Nothing to do
	if r.in.Equal(r.out) && r.speed == 1 {
		return f, nil
	}

	// Decode
	in := decodeSamples(f.Data(), r.in)

	// Remix
	in = remix(in, r.in.ChannelLayout.Channels(), r.out.ChannelLayout.Channels())

	// Resample
	out := in
	if inRate, outRate := int64(math.Round(float64(r.in.SampleRate)*r.speed)), int64(r.out.SampleRate); inRate != outRate {
		// Get number of output samples
		r.acc += int64(len(in)) * outRate
		n := r.acc / inRate
		r.acc %= inRate

		// Interpolate
		out = interpolate(in, int(n))
	}

	// Create frame
	o := astifilter.NewFrame(astifilter.FrameOptions{
		Data:    encodeSamples(out, r.out),
		Format:  r.out,
		Samples: len(out),
	})
	o.CopyTiming(f)
	o.Duration = time.Duration(len(out)) * time.Second / time.Duration(r.out.SampleRate)
	f.Release()
	return o, nil
}

func (r *AudioResampler) Command(c *astifilter.Command) bool {
	switch c.Type {
	case astifilter.CommandTypeSetSpeedResample:
		if !validSpeed(c.Speed) {
			return false
		}
		r.speed = c.Speed
		return true
	case astifilter.CommandTypeIsActive:
		c.IsActive = c.IsActive || r.speed != 1 || !r.in.Equal(r.out)
		return true
	}
	return false
}

func (r *AudioResampler) Reset(m astifilter.ResetMode) {
	r.acc = 0
}

func (r *AudioResampler) Destroy() error {
	return nil
}

// Samples are normalized to [-1, 1], indexed by sample then by channel
func decodeSamples(b []byte, f astifilter.Format) (ss [][]float64) {
	bps, chs := f.SampleFormat.BytesPerSample(), f.ChannelLayout.Channels()
	n := len(b) / (bps * chs)
	ss = make([][]float64, n)
	for idx := 0; idx < n; idx++ {
		ss[idx] = make([]float64, chs)
		for ch := 0; ch < chs; ch++ {
			v := b[(idx*chs+ch)*bps:]
			switch f.SampleFormat {
			case astifilter.SampleFormatU8:
				ss[idx][ch] = (float64(v[0]) - 128) / 128
			case astifilter.SampleFormatS16:
				ss[idx][ch] = float64(int16(binary.LittleEndian.Uint16(v))) / (math.MaxInt16 + 1)
			case astifilter.SampleFormatS32:
				ss[idx][ch] = float64(int32(binary.LittleEndian.Uint32(v))) / (math.MaxInt32 + 1)
			case astifilter.SampleFormatFlt:
				ss[idx][ch] = float64(math.Float32frombits(binary.LittleEndian.Uint32(v)))
			case astifilter.SampleFormatDbl:
				ss[idx][ch] = math.Float64frombits(binary.LittleEndian.Uint64(v))
			}
		}
	}
	return
}

func encodeSamples(ss [][]float64, f astifilter.Format) []byte {
	bps, chs := f.SampleFormat.BytesPerSample(), f.ChannelLayout.Channels()
	b := make([]byte, len(ss)*chs*bps)
	for idx, s := range ss {
		for ch := 0; ch < chs; ch++ {
			v := b[(idx*chs+ch)*bps:]
			switch f.SampleFormat {
			case astifilter.SampleFormatU8:
				v[0] = uint8(clamp(math.Round(s[ch]*128+128), 0, math.MaxUint8))
			case astifilter.SampleFormatS16:
				binary.LittleEndian.PutUint16(v, uint16(int16(clamp(math.Round(s[ch]*(math.MaxInt16+1)), math.MinInt16, math.MaxInt16))))
			case astifilter.SampleFormatS32:
				binary.LittleEndian.PutUint32(v, uint32(int32(clamp(math.Round(s[ch]*(math.MaxInt32+1)), math.MinInt32, math.MaxInt32))))
			case astifilter.SampleFormatFlt:
				binary.LittleEndian.PutUint32(v, math.Float32bits(float32(s[ch])))
			case astifilter.SampleFormatDbl:
				binary.LittleEndian.PutUint64(v, math.Float64bits(s[ch]))
			}
		}
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Mono is duplicated, downmixing to mono averages channels, other channels are matched by
// position and missing ones are silent
func remix(ss [][]float64, in, out int) [][]float64 {
	// Nothing to do
	if in == out {
		return ss
	}

	// Loop through samples
	rs := make([][]float64, len(ss))
	for idx, s := range ss {
		rs[idx] = make([]float64, out)
		switch {
		case in == 1:
			for ch := range rs[idx] {
				rs[idx][ch] = s[0]
			}
		case out == 1:
			var sum float64
			for _, v := range s {
				sum += v
			}
			rs[idx][0] = sum / float64(in)
		default:
			copy(rs[idx], s)
		}
	}
	return rs
}

// Returns n samples linearly interpolated out of ss
func interpolate(ss [][]float64, n int) [][]float64 {
	// Nothing to interpolate
	if n <= 0 || len(ss) == 0 {
		return nil
	}

	// Loop through output samples
	rs := make([][]float64, n)
	step := float64(len(ss)) / float64(n)
	for idx := range rs {
		// Get position
		pos := float64(idx) * step
		i := int(pos)
		frac := pos - float64(i)

		// Interpolate
		rs[idx] = make([]float64, len(ss[0]))
		for ch := range rs[idx] {
			if i+1 < len(ss) {
				rs[idx][ch] = ss[i][ch]*(1-frac) + ss[i+1][ch]*frac
			} else {
				rs[idx][ch] = ss[len(ss)-1][ch]
			}
		}
	}
	return rs
}

var _ astifilter.ConverterFactory = (*AudioResamplerFactory)(nil)

// AudioResamplerFactory creates resamplers between any two raw audio formats
type AudioResamplerFactory struct {
	o AudioResamplerFactoryOptions
}

type AudioResamplerFactoryOptions struct {
	// Proposed when the consumer doesn't state any preference
	Formats []astifilter.Format
}

func NewAudioResamplerFactory(o AudioResamplerFactoryOptions) *AudioResamplerFactory {
	return &AudioResamplerFactory{o: o}
}

func (f *AudioResamplerFactory) Name() string {
	return "resampler"
}

func (f *AudioResamplerFactory) CanConvert(in, out astifilter.Format) bool {
	return resamplable(in) && resamplable(out)
}

func (f *AudioResamplerFactory) OutputFormats(in astifilter.Format) []astifilter.Format {
	if in.Kind != astifilter.MediaKindAudio {
		return nil
	}
	return f.o.Formats
}

func (f *AudioResamplerFactory) NewConverter(in, out astifilter.Format) (astifilter.Filter, error) {
	return NewAudioResampler(in, out)
}
