package astifilter

import (
	"math"
	"slices"
)

// SampleFormatConversionScore returns how desirable converting src into dst is. Higher is better.
func SampleFormatConversionScore(dst, src SampleFormat) int {
	if dst == src {
		return 1024
	}
	if dst == SampleFormatNone || src == SampleFormatNone {
		return math.MinInt32
	}
	var score int
	if d := dst.Bits() - src.Bits(); d >= 0 {
		// Lossless, but the smallest increase is better
		score = 512 - d
	} else {
		score = 4 * d
	}
	if dst.IsFloat() == src.IsFloat() {
		score += 64
	}
	return score
}

// BestSampleRate returns src if it is available, otherwise the lowest available multiple of src,
// otherwise the highest available rate. It returns 0 if rates is empty.
func BestSampleRate(src int, rates []int) int {
	if len(rates) == 0 {
		return 0
	}
	minMultiple, maxRate := math.MaxInt, math.MinInt
	for _, r := range rates {
		if r == src {
			return src
		}
		if src > 0 && r%src == 0 && r < minMultiple {
			minMultiple = r
		}
		maxRate = max(maxRate, r)
	}
	if minMultiple < math.MaxInt {
		return minMultiple
	}
	return maxRate
}

// AudioConstraints describes what an audio consumer can handle. Empty lists mean anything goes.
type AudioConstraints struct {
	ChannelLayouts []ChannelLayout
	SampleFormats  []SampleFormat
	SampleRates    []int
}

func (c AudioConstraints) Accepts(f Format) bool {
	if f.Kind != MediaKindAudio {
		return false
	}
	return (len(c.ChannelLayouts) == 0 || slices.Contains(c.ChannelLayouts, f.ChannelLayout)) &&
		(len(c.SampleFormats) == 0 || slices.Contains(c.SampleFormats, f.SampleFormat)) &&
		(len(c.SampleRates) == 0 || slices.Contains(c.SampleRates, f.SampleRate))
}

func (c AudioConstraints) bestSampleFormat(src SampleFormat) SampleFormat {
	if len(c.SampleFormats) == 0 {
		return src
	}
	best, bestScore := c.SampleFormats[0], math.MinInt
	for _, sf := range c.SampleFormats {
		if s := SampleFormatConversionScore(sf, src); s > bestScore {
			best, bestScore = sf, s
		}
	}
	return best
}

func (c AudioConstraints) bestChannelLayout(src ChannelLayout) ChannelLayout {
	if len(c.ChannelLayouts) == 0 || slices.Contains(c.ChannelLayouts, src) {
		return src
	}
	// Same number of channels
	for _, l := range c.ChannelLayouts {
		if l.Channels() == src.Channels() {
			return l
		}
	}
	return c.ChannelLayouts[0]
}

func (c AudioConstraints) bestSampleRate(src int) int {
	if len(c.SampleRates) == 0 {
		return src
	}
	return BestSampleRate(src, c.SampleRates)
}

// Rank returns the acceptable formats ordered by how close they are to in. The first item is
// the best fit, the others follow in declared order.
func (c AudioConstraints) Rank(in Format) (fs []Format) {
	// Best fit
	best := AudioFormat(c.bestSampleFormat(in.SampleFormat), c.bestSampleRate(in.SampleRate), c.bestChannelLayout(in.ChannelLayout))
	fs = append(fs, best)

	// Other combinations
	sfs := c.SampleFormats
	if len(sfs) == 0 {
		sfs = []SampleFormat{best.SampleFormat}
	}
	srs := c.SampleRates
	if len(srs) == 0 {
		srs = []int{best.SampleRate}
	}
	cls := c.ChannelLayouts
	if len(cls) == 0 {
		cls = []ChannelLayout{best.ChannelLayout}
	}
	for _, sf := range sfs {
		for _, sr := range srs {
			for _, cl := range cls {
				if f := AudioFormat(sf, sr, cl); !f.Equal(best) {
					fs = append(fs, f)
				}
			}
		}
	}
	return
}
