package filters

import (
	"fmt"
	"math"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var (
	_ astifilter.Commander = (*Tempo)(nil)
	_ astifilter.Filter    = (*Tempo)(nil)
)

// Tempo plays frames faster or slower by scaling their timestamps. Timestamps stay continuous
// when the speed changes.
type Tempo struct {
	anchor  *tempoAnchor
	hasLast bool
	last    time.Duration // Last output timestamp
	shift   time.Duration
	speed   float64
}

// Timestamps are mapped as out + (pts - in) / speed
type tempoAnchor struct {
	in  time.Duration
	out time.Duration
}

type TempoOptions struct {
	// Default is 1
	Speed float64
}

func NewTempo(o TempoOptions) (*Tempo, error) {
	// Default speed
	if o.Speed == 0 {
		o.Speed = 1
	}

	// Invalid speed
	if !validSpeed(o.Speed) {
		return nil, fmt.Errorf("filters: invalid speed %v", o.Speed)
	}
	return &Tempo{speed: o.Speed}, nil
}

func validSpeed(s float64) bool {
	return s > 0 && !math.IsInf(s, 0) && !math.IsNaN(s)
}

// Params are "speed=<speed>"
func newTempoFromSpec(s astifilter.FilterSpec) (astifilter.Filter, error) {
	// Check params
	p := newParams(s)
	if err := p.check("speed"); err != nil {
		return nil, err
	}

	// Get speed
	speed, err := p.float("speed", 0, 1)
	if err != nil {
		return nil, err
	}
	return NewTempo(TempoOptions{Speed: speed})
}

func (t *Tempo) Speed() float64 {
	return t.speed
}

func (t *Tempo) Accepts(f astifilter.Format) bool {
	return f.Kind == astifilter.MediaKindAudio || f.Kind == astifilter.MediaKindVideo
}

func (t *Tempo) PreferredFormats() []astifilter.Format {
	return nil
}

func (t *Tempo) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	return in, !in.IsZero()
}

func (t *Tempo) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	return forward(p, func(f *astifilter.Frame) (*astifilter.Frame, error) {
		// Update duration
		f.Duration = time.Duration(float64(f.Duration) / t.speed)

		// No timestamp
		if !f.HasPTS {
			return f, nil
		}

		// First timestamp
		if t.anchor == nil {
			t.anchor = &tempoAnchor{in: f.PTS, out: f.PTS + t.shift}
		}

		// Scale timestamp
		f.PTS = t.anchor.out + time.Duration(float64(f.PTS-t.anchor.in)/t.speed)
		t.hasLast = true
		t.last = f.PTS
		return f, nil
	})
}

func (t *Tempo) setSpeed(s float64) bool {
	// Invalid speed
	if !validSpeed(s) {
		return false
	}

	// Timestamps keep going from where they were
	if t.hasLast && t.anchor != nil {
		t.anchor = &tempoAnchor{
			in:  t.anchor.in + time.Duration(float64(t.last-t.anchor.out)*t.speed),
			out: t.last,
		}
	}
	t.speed = s
	return true
}

// shiftAtNormalSpeed returns what has to be added to input timestamps so that they keep going
// from the last output timestamp at speed 1
func (t *Tempo) shiftAtNormalSpeed() time.Duration {
	if t.anchor == nil {
		return t.shift
	}
	t.setSpeed(1)
	return t.anchor.out - t.anchor.in
}

func (t *Tempo) Command(c *astifilter.Command) bool {
	switch c.Type {
	case astifilter.CommandTypeSetSpeed:
		return t.setSpeed(c.Speed)
	case astifilter.CommandTypeIsActive:
		c.IsActive = c.IsActive || t.speed != 1
		return true
	}
	return false
}

func (t *Tempo) Reset(m astifilter.ResetMode) {
	t.anchor = nil
	t.shift = 0
	t.hasLast = false
}

func (t *Tempo) Destroy() error {
	return nil
}
