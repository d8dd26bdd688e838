package filters

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var (
	_ astifilter.Filter       = (*FormatForcer)(nil)
	_ astifilter.FormatRanker = (*FormatForcer)(nil)
)

// FormatForcer only accepts frames matching the non zero fields of its format, which forces a
// conversion in front of it
type FormatForcer struct {
	f astifilter.Format
}

func NewFormatForcer(f astifilter.Format) (*FormatForcer, error) {
	if f.Kind != astifilter.MediaKindAudio && f.Kind != astifilter.MediaKindVideo {
		return nil, fmt.Errorf("filters: can't force %s formats", f.Kind)
	}
	return &FormatForcer{f: f}, nil
}

// Audio params are "format", "srate" and "layout", video params are "pixfmt", "w" and "h"
func newFormatForcerFromSpec(s astifilter.FilterSpec) (astifilter.Filter, error) {
	// Check params
	p := newParams(s)
	if err := p.check("format", "srate", "layout", "pixfmt", "w", "h"); err != nil {
		return nil, err
	}

	// Audio
	var f astifilter.Format
	var err error
	if v := p.string("format", 0, ""); v != "" {
		if f.SampleFormat, err = astifilter.ParseSampleFormat(v); err != nil {
			return nil, err
		}
	}
	if f.SampleRate, err = p.int("srate", 1, 0); err != nil {
		return nil, err
	}
	if v := p.string("layout", 2, ""); v != "" {
		if f.ChannelLayout, err = astifilter.ParseChannelLayout(v); err != nil {
			return nil, err
		}
	}
	if f != (astifilter.Format{}) {
		f.Kind = astifilter.MediaKindAudio
	}

	// Video
	var v astifilter.Format
	if pf := p.string("pixfmt", 3, ""); pf != "" {
		if v.PixelFormat, err = astifilter.ParsePixelFormat(pf); err != nil {
			return nil, err
		}
	}
	if v.Width, err = p.int("w", 4, 0); err != nil {
		return nil, err
	}
	if v.Height, err = p.int("h", 5, 0); err != nil {
		return nil, err
	}
	if v != (astifilter.Format{}) {
		if f.Kind != astifilter.MediaKindUnknown {
			return nil, errors.New("filters: audio and video params can't be mixed")
		}
		f = v
		f.Kind = astifilter.MediaKindVideo
	}
	return NewFormatForcer(f)
}

func (ff *FormatForcer) Accepts(f astifilter.Format) bool {
	return f.Equal(ff.apply(f))
}

func (ff *FormatForcer) apply(in astifilter.Format) astifilter.Format {
	if in.Kind != ff.f.Kind {
		return ff.f
	}
	switch in.Kind {
	case astifilter.MediaKindAudio:
		if ff.f.ChannelLayout != astifilter.ChannelLayoutNone {
			in.ChannelLayout = ff.f.ChannelLayout
		}
		if ff.f.SampleFormat != astifilter.SampleFormatNone {
			in.SampleFormat = ff.f.SampleFormat
		}
		if ff.f.SampleRate > 0 {
			in.SampleRate = ff.f.SampleRate
		}
	case astifilter.MediaKindVideo:
		if ff.f.Height > 0 {
			in.Height = ff.f.Height
		}
		if ff.f.PixelFormat != astifilter.PixelFormatNone {
			in.PixelFormat = ff.f.PixelFormat
		}
		if ff.f.Width > 0 {
			in.Width = ff.f.Width
		}
	}
	return in
}

func (ff *FormatForcer) PreferredFormats() []astifilter.Format {
	return []astifilter.Format{ff.f}
}

func (ff *FormatForcer) RankFormats(in astifilter.Format) []astifilter.Format {
	return []astifilter.Format{ff.apply(in)}
}

func (ff *FormatForcer) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	if in.IsZero() {
		return astifilter.Format{}, false
	}
	return ff.apply(in), true
}

func (ff *FormatForcer) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	return forward(p, nil)
}

func (ff *FormatForcer) Reset(m astifilter.ResetMode) {}

func (ff *FormatForcer) Destroy() error {
	return nil
}
