package filters

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var (
	_ astifilter.Commander    = (*Volume)(nil)
	_ astifilter.Filter       = (*Volume)(nil)
	_ astifilter.FormatRanker = (*Volume)(nil)
)

// Volume applies a gain to s16 or flt audio. Shared payloads are copied before being modified.
type Volume struct {
	gain float64
}

type VolumeOptions struct {
	// Linear, 1 leaves samples untouched
	Gain float64
}

func NewVolume(o VolumeOptions) (*Volume, error) {
	if o.Gain < 0 || math.IsNaN(o.Gain) || math.IsInf(o.Gain, 0) {
		return nil, fmt.Errorf("filters: invalid gain %v", o.Gain)
	}
	return &Volume{gain: o.Gain}, nil
}

// Params are either "volume=<gain>" or "db=<decibels>"
func newVolumeFromSpec(s astifilter.FilterSpec) (astifilter.Filter, error) {
	// Check params
	p := newParams(s)
	if err := p.check("volume", "db"); err != nil {
		return nil, err
	}

	// Get gain
	g, err := p.float("volume", 0, 1)
	if err != nil {
		return nil, err
	}
	if _, ok := p.get("db", -1); ok {
		db, err := p.float("db", -1, 0)
		if err != nil {
			return nil, err
		}
		g = math.Pow(10, db/20)
	}
	return NewVolume(VolumeOptions{Gain: g})
}

func (v *Volume) Accepts(f astifilter.Format) bool {
	return f.Kind == astifilter.MediaKindAudio && (f.SampleFormat == astifilter.SampleFormatS16 || f.SampleFormat == astifilter.SampleFormatFlt)
}

func (v *Volume) PreferredFormats() []astifilter.Format {
	return nil
}

func (v *Volume) RankFormats(in astifilter.Format) []astifilter.Format {
	if in.Kind != astifilter.MediaKindAudio {
		return nil
	}
	flt, s16 := in, in
	flt.SampleFormat = astifilter.SampleFormatFlt
	s16.SampleFormat = astifilter.SampleFormatS16
	if astifilter.SampleFormatConversionScore(astifilter.SampleFormatS16, in.SampleFormat) > astifilter.SampleFormatConversionScore(astifilter.SampleFormatFlt, in.SampleFormat) {
		return []astifilter.Format{s16, flt}
	}
	return []astifilter.Format{flt, s16}
}

func (v *Volume) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	return in, !in.IsZero()
}

func (v *Volume) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	return forward(p, func(f *astifilter.Frame) (*astifilter.Frame, error) {
		// Nothing to do
		if v.gain == 1 {
			return f, nil
		}

		// Get writable bytes
		b, err := f.Writable()
		if err != nil {
			return nil, fmt.Errorf("filters: making frame writable failed: %w", err)
		}

		// Apply gain
		switch f.Format.SampleFormat {
		case astifilter.SampleFormatS16:
			for idx := 0; idx+1 < len(b); idx += 2 {
				s := float64(int16(binary.LittleEndian.Uint16(b[idx:]))) * v.gain
				binary.LittleEndian.PutUint16(b[idx:], uint16(int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(s))))))
			}
		case astifilter.SampleFormatFlt:
			for idx := 0; idx+3 < len(b); idx += 4 {
				s := float64(math.Float32frombits(binary.LittleEndian.Uint32(b[idx:]))) * v.gain
				binary.LittleEndian.PutUint32(b[idx:], math.Float32bits(float32(s)))
			}
		default:
			return nil, fmt.Errorf("filters: unsupported sample format %s", f.Format.SampleFormat)
		}
		return f, nil
	})
}

func (v *Volume) Command(c *astifilter.Command) bool {
	if c.Type != astifilter.CommandTypeIsActive {
		return false
	}
	c.IsActive = c.IsActive || v.gain != 1
	return true
}

func (v *Volume) Reset(m astifilter.ResetMode) {}

func (v *Volume) Destroy() error {
	return nil
}
