package astifilter

import (
	"fmt"
	"slices"
	"strings"
)

type MediaKind uint32

const (
	MediaKindUnknown MediaKind = iota
	MediaKindAudio
	MediaKindVideo
	MediaKindSubtitle
	MediaKindOpaque
)

func (k MediaKind) String() string {
	switch k {
	case MediaKindAudio:
		return "audio"
	case MediaKindVideo:
		return "video"
	case MediaKindSubtitle:
		return "subtitle"
	case MediaKindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

func ParseMediaKind(s string) (MediaKind, error) {
	switch s {
	case "audio":
		return MediaKindAudio, nil
	case "video":
		return MediaKindVideo, nil
	case "subtitle":
		return MediaKindSubtitle, nil
	case "opaque":
		return MediaKindOpaque, nil
	}
	return MediaKindUnknown, fmt.Errorf("astifilter: unknown media kind %q", s)
}

// Samples are always interleaved
type SampleFormat uint32

const (
	SampleFormatNone SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatFlt
	SampleFormatDbl
)

var sampleFormatNames = map[SampleFormat]string{
	SampleFormatU8:  "u8",
	SampleFormatS16: "s16",
	SampleFormatS32: "s32",
	SampleFormatFlt: "flt",
	SampleFormatDbl: "dbl",
}

func (f SampleFormat) String() string {
	if s, ok := sampleFormatNames[f]; ok {
		return s
	}
	return "none"
}

func ParseSampleFormat(s string) (SampleFormat, error) {
	for f, n := range sampleFormatNames {
		if n == s {
			return f, nil
		}
	}
	return SampleFormatNone, fmt.Errorf("astifilter: unknown sample format %q", s)
}

func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatFlt:
		return 4
	case SampleFormatDbl:
		return 8
	}
	return 0
}

// Number of significant bits
func (f SampleFormat) Bits() int {
	switch f {
	case SampleFormatFlt:
		return 24
	case SampleFormatDbl:
		return 53
	}
	return f.BytesPerSample() * 8
}

func (f SampleFormat) IsFloat() bool {
	return f == SampleFormatFlt || f == SampleFormatDbl
}

// Planes are always packed one after the other
type PixelFormat uint32

const (
	PixelFormatNone PixelFormat = iota
	PixelFormatGray
	PixelFormatRGB24
	PixelFormatRGBA
	PixelFormatYUV420P
	PixelFormatNV12
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatGray:    "gray",
	PixelFormatRGB24:   "rgb24",
	PixelFormatRGBA:    "rgba",
	PixelFormatYUV420P: "yuv420p",
	PixelFormatNV12:    "nv12",
}

func (f PixelFormat) String() string {
	if s, ok := pixelFormatNames[f]; ok {
		return s
	}
	return "none"
}

func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, n := range pixelFormatNames {
		if n == s {
			return f, nil
		}
	}
	return PixelFormatNone, fmt.Errorf("astifilter: unknown pixel format %q", s)
}

// Returns 0 for planar formats
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatGray:
		return 1
	case PixelFormatRGB24:
		return 3
	case PixelFormatRGBA:
		return 4
	}
	return 0
}

func (f PixelFormat) Packed() bool {
	return f.BytesPerPixel() > 0
}

func (f PixelFormat) FrameSize(width, height int) int {
	if f.Packed() {
		return f.BytesPerPixel() * width * height
	}
	switch f {
	case PixelFormatYUV420P, PixelFormatNV12:
		cw, ch := (width+1)/2, (height+1)/2
		return width*height + 2*cw*ch
	}
	return 0
}

type ChannelLayout uint32

const (
	ChannelLayoutNone ChannelLayout = iota
	ChannelLayoutMono
	ChannelLayoutStereo
	ChannelLayout2Point1
	ChannelLayoutQuad
	ChannelLayout5Point1
	ChannelLayout7Point1
)

var channelLayoutNames = map[ChannelLayout]string{
	ChannelLayoutMono:    "mono",
	ChannelLayoutStereo:  "stereo",
	ChannelLayout2Point1: "2.1",
	ChannelLayoutQuad:    "quad",
	ChannelLayout5Point1: "5.1",
	ChannelLayout7Point1: "7.1",
}

func (l ChannelLayout) String() string {
	if s, ok := channelLayoutNames[l]; ok {
		return s
	}
	return "none"
}

func ParseChannelLayout(s string) (ChannelLayout, error) {
	for l, n := range channelLayoutNames {
		if n == s {
			return l, nil
		}
	}
	return ChannelLayoutNone, fmt.Errorf("astifilter: unknown channel layout %q", s)
}

func (l ChannelLayout) Channels() int {
	switch l {
	case ChannelLayoutMono:
		return 1
	case ChannelLayoutStereo:
		return 2
	case ChannelLayout2Point1:
		return 3
	case ChannelLayoutQuad:
		return 4
	case ChannelLayout5Point1:
		return 6
	case ChannelLayout7Point1:
		return 8
	}
	return 0
}

// Format describes the layout of frames flowing through an edge. Only fields relevant to
// the kind are compared.
type Format struct {
	ChannelLayout ChannelLayout `json:"channel_layout,omitempty"`
	Codec         string        `json:"codec,omitempty"`
	Height        int           `json:"height,omitempty"`
	Kind          MediaKind     `json:"kind"`
	PixelFormat   PixelFormat   `json:"pixel_format,omitempty"`
	SampleFormat  SampleFormat  `json:"sample_format,omitempty"`
	SampleRate    int           `json:"sample_rate,omitempty"`
	Width         int           `json:"width,omitempty"`
}

func AudioFormat(sf SampleFormat, sampleRate int, cl ChannelLayout) Format {
	return Format{
		ChannelLayout: cl,
		Kind:          MediaKindAudio,
		SampleFormat:  sf,
		SampleRate:    sampleRate,
	}
}

func VideoFormat(pf PixelFormat, width, height int) Format {
	return Format{
		Height:      height,
		Kind:        MediaKindVideo,
		PixelFormat: pf,
		Width:       width,
	}
}

// Subtitle and opaque frames are only described by their codec
func CodecFormat(k MediaKind, codec string) Format {
	return Format{
		Codec: codec,
		Kind:  k,
	}
}

func (f Format) IsZero() bool {
	return f == Format{}
}

func (f Format) Equal(i Format) bool {
	if f.Kind != i.Kind {
		return false
	}
	switch f.Kind {
	case MediaKindAudio:
		return f.ChannelLayout == i.ChannelLayout &&
			f.SampleFormat == i.SampleFormat &&
			f.SampleRate == i.SampleRate
	case MediaKindVideo:
		return f.Height == i.Height &&
			f.PixelFormat == i.PixelFormat &&
			f.Width == i.Width
	default:
		return f.Codec == i.Codec
	}
}

func (f Format) String() string {
	switch f.Kind {
	case MediaKindAudio:
		return fmt.Sprintf("audio %s %dHz %s", f.SampleFormat, f.SampleRate, f.ChannelLayout)
	case MediaKindVideo:
		return fmt.Sprintf("video %s %dx%d", f.PixelFormat, f.Width, f.Height)
	case MediaKindUnknown:
		if f.IsZero() {
			return "none"
		}
	}
	if f.Codec != "" {
		return fmt.Sprintf("%s %s", f.Kind, f.Codec)
	}
	return f.Kind.String()
}

// Returns the number of bytes needed to store the provided number of samples or a whole video frame
func (f Format) Size(samples int) int {
	switch f.Kind {
	case MediaKindAudio:
		return samples * f.SampleFormat.BytesPerSample() * f.ChannelLayout.Channels()
	case MediaKindVideo:
		return f.PixelFormat.FrameSize(f.Width, f.Height)
	}
	return 0
}

type Formats []Format

func (fs Formats) Contains(f Format) bool {
	return slices.ContainsFunc(fs, f.Equal)
}

func (fs Formats) String() string {
	ss := make([]string, 0, len(fs))
	for _, f := range fs {
		ss = append(ss, f.String())
	}
	return strings.Join(ss, ", ")
}

type FormatDelta struct {
	After  Format
	Before Format
}

func (d FormatDelta) String() string {
	var ss []string
	if d.Before.Kind != d.After.Kind {
		ss = append(ss, fmt.Sprintf("kind changed: %s --> %s", d.Before.Kind, d.After.Kind))
	} else {
		switch d.Before.Kind {
		case MediaKindAudio:
			if d.Before.ChannelLayout != d.After.ChannelLayout {
				ss = append(ss, fmt.Sprintf("channel layout changed: %s --> %s", d.Before.ChannelLayout, d.After.ChannelLayout))
			}
			if d.Before.SampleFormat != d.After.SampleFormat {
				ss = append(ss, fmt.Sprintf("sample format changed: %s --> %s", d.Before.SampleFormat, d.After.SampleFormat))
			}
			if d.Before.SampleRate != d.After.SampleRate {
				ss = append(ss, fmt.Sprintf("sample rate changed: %d --> %d", d.Before.SampleRate, d.After.SampleRate))
			}
		case MediaKindVideo:
			if d.Before.Height != d.After.Height {
				ss = append(ss, fmt.Sprintf("height changed: %d --> %d", d.Before.Height, d.After.Height))
			}
			if d.Before.PixelFormat != d.After.PixelFormat {
				ss = append(ss, fmt.Sprintf("pixel format changed: %s --> %s", d.Before.PixelFormat, d.After.PixelFormat))
			}
			if d.Before.Width != d.After.Width {
				ss = append(ss, fmt.Sprintf("width changed: %d --> %d", d.Before.Width, d.After.Width))
			}
		default:
			if d.Before.Codec != d.After.Codec {
				ss = append(ss, fmt.Sprintf("codec changed: %s --> %s", d.Before.Codec, d.After.Codec))
			}
		}
	}
	return strings.Join(ss, " && ")
}
