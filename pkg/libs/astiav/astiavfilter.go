package astiavfilter

import (
	"fmt"
	"strconv"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var (
	NanosecondRational = astiav.NewRational(1, 1e9)
)

const (
	DeltaStatNameAllocatedFrames = "astiavfilter.allocated.frames"
	DeltaStatNameGraphs          = "astiavfilter.graphs"
)

// Formats that can be exchanged with libav. Their names are the ones libav uses.
func supported(f astifilter.Format) bool {
	switch f.Kind {
	case astifilter.MediaKindAudio:
		_, okl := channelLayouts[f.ChannelLayout]
		_, oks := sampleFormats[f.SampleFormat]
		return okl && oks && f.SampleRate > 0
	case astifilter.MediaKindVideo:
		_, ok := pixelFormats[f.PixelFormat]
		return ok && f.Width > 0 && f.Height > 0
	}
	return false
}

func buffersrcArgs(f astifilter.Format) (astiav.FilterArgs, error) {
	switch f.Kind {
	case astifilter.MediaKindAudio:
		return astiav.FilterArgs{
			"channel_layout": f.ChannelLayout.String(),
			"sample_fmt":     f.SampleFormat.String(),
			"sample_rate":    strconv.Itoa(f.SampleRate),
			"time_base":      NanosecondRational.String(),
		}, nil
	case astifilter.MediaKindVideo:
		return astiav.FilterArgs{
			"height":    strconv.Itoa(f.Height),
			"pix_fmt":   f.PixelFormat.String(),
			"sar":       "1/1",
			"time_base": NanosecondRational.String(),
			"width":     strconv.Itoa(f.Width),
		}, nil
	}
	return nil, fmt.Errorf("astiavfilter: %s frames are not handled", f.Kind)
}

// Makes sure the graph produces a format we can describe
func outputConstraint(k astifilter.MediaKind, out *astifilter.Format) string {
	switch k {
	case astifilter.MediaKindAudio:
		if out == nil {
			return "aformat=sample_fmts=u8|s16|s32|flt|dbl"
		}
		return fmt.Sprintf("aresample=%d,aformat=sample_fmts=%s:channel_layouts=%s", out.SampleRate, out.SampleFormat, out.ChannelLayout)
	case astifilter.MediaKindVideo:
		if out == nil {
			return "format=pix_fmts=gray|rgb24|rgba|yuv420p|nv12"
		}
		return fmt.Sprintf("scale=%d:%d,format=pix_fmts=%s", out.Width, out.Height, out.PixelFormat)
	}
	return ""
}

func formatFromBuffersink(bfc *astiav.BuffersinkFilterContext) (f astifilter.Format, err error) {
	switch bfc.MediaType() {
	case astiav.MediaTypeAudio:
		f.Kind = astifilter.MediaKindAudio
		if f.ChannelLayout, err = astifilter.ParseChannelLayout(bfc.ChannelLayout().String()); err != nil {
			err = fmt.Errorf("astiavfilter: parsing channel layout failed: %w", err)
			return
		}
		if f.SampleFormat, err = astifilter.ParseSampleFormat(bfc.SampleFormat().String()); err != nil {
			err = fmt.Errorf("astiavfilter: parsing sample format failed: %w", err)
			return
		}
		f.SampleRate = bfc.SampleRate()
	case astiav.MediaTypeVideo:
		f.Kind = astifilter.MediaKindVideo
		if f.PixelFormat, err = astifilter.ParsePixelFormat(bfc.PixelFormat().String()); err != nil {
			err = fmt.Errorf("astiavfilter: parsing pixel format failed: %w", err)
			return
		}
		f.Height = bfc.Height()
		f.Width = bfc.Width()
	default:
		err = fmt.Errorf("astiavfilter: media type %s is not handled", bfc.MediaType())
	}
	return
}

func ptsToDuration(pts int64, t astiav.Rational) time.Duration {
	return time.Duration(astiav.RescaleQ(pts, t, NanosecondRational))
}

var (
	channelLayouts = map[astifilter.ChannelLayout]astiav.ChannelLayout{
		astifilter.ChannelLayoutMono:    astiav.ChannelLayoutMono,
		astifilter.ChannelLayoutStereo:  astiav.ChannelLayoutStereo,
		astifilter.ChannelLayout2Point1: astiav.ChannelLayout2Point1,
		astifilter.ChannelLayoutQuad:    astiav.ChannelLayoutQuad,
		astifilter.ChannelLayout5Point1: astiav.ChannelLayout5Point1,
		astifilter.ChannelLayout7Point1: astiav.ChannelLayout7Point1,
	}
	pixelFormats = map[astifilter.PixelFormat]astiav.PixelFormat{
		astifilter.PixelFormatGray:    astiav.PixelFormatGray8,
		astifilter.PixelFormatNV12:    astiav.PixelFormatNv12,
		astifilter.PixelFormatRGB24:   astiav.PixelFormatRgb24,
		astifilter.PixelFormatRGBA:    astiav.PixelFormatRgba,
		astifilter.PixelFormatYUV420P: astiav.PixelFormatYuv420P,
	}
	sampleFormats = map[astifilter.SampleFormat]astiav.SampleFormat{
		astifilter.SampleFormatDbl: astiav.SampleFormatDbl,
		astifilter.SampleFormatFlt: astiav.SampleFormatFlt,
		astifilter.SampleFormatS16: astiav.SampleFormatS16,
		astifilter.SampleFormatS32: astiav.SampleFormatS32,
		astifilter.SampleFormatU8:  astiav.SampleFormatU8,
	}
)

func channelLayout(l astifilter.ChannelLayout) (astiav.ChannelLayout, error) {
	if v, ok := channelLayouts[l]; ok {
		return v, nil
	}
	return astiav.ChannelLayout{}, fmt.Errorf("astiavfilter: channel layout %s is not handled", l)
}

func pixelFormat(f astifilter.PixelFormat) (astiav.PixelFormat, error) {
	if v, ok := pixelFormats[f]; ok {
		return v, nil
	}
	return astiav.PixelFormatNone, fmt.Errorf("astiavfilter: pixel format %s is not handled", f)
}

func sampleFormat(f astifilter.SampleFormat) (astiav.SampleFormat, error) {
	if v, ok := sampleFormats[f]; ok {
		return v, nil
	}
	return astiav.SampleFormatNone, fmt.Errorf("astiavfilter: sample format %s is not handled", f)
}
