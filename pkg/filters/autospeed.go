package filters

import (
	"fmt"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var (
	_ astifilter.Commander = (*Autospeed)(nil)
	_ astifilter.Filter    = (*Autospeed)(nil)
)

// Autospeed forwards frames untouched at normal speed, and through a tempo sub filter otherwise
type Autospeed struct {
	newTempo func() (*Tempo, error)
	shift    time.Duration // Added to timestamps once the tempo is removed
	speed    float64
	tempo    *Tempo
}

func NewAutospeed() *Autospeed {
	return &Autospeed{
		newTempo: func() (*Tempo, error) { return NewTempo(TempoOptions{}) },
		speed:    1,
	}
}

func newAutospeedFromSpec(s astifilter.FilterSpec) (astifilter.Filter, error) {
	if err := newParams(s).check(); err != nil {
		return nil, err
	}
	return NewAutospeed(), nil
}

func (a *Autospeed) Accepts(f astifilter.Format) bool {
	return f.Kind == astifilter.MediaKindAudio
}

func (a *Autospeed) PreferredFormats() []astifilter.Format {
	return nil
}

func (a *Autospeed) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	return in, !in.IsZero()
}

func (a *Autospeed) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	// Update sub filter
	if a.speed == 1 {
		if a.tempo != nil {
			p.Node().Logger().DebugC(p.Node().Context(), "filters: removing tempo")
			a.shift = a.tempo.shiftAtNormalSpeed()
			a.tempo.Destroy() //nolint: errcheck
			a.tempo = nil
		}
	} else if a.tempo == nil {
		p.Node().Logger().DebugC(p.Node().Context(), "filters: adding tempo")
		t, err := a.newTempo()
		if err != nil {
			return astifilter.ProcessStatusError, fmt.Errorf("filters: creating tempo failed: %w", err)
		}
		t.shift = a.shift
		a.tempo = t
	}

	// Forward
	if a.tempo == nil {
		if a.shift == 0 {
			return forward(p, nil)
		}
		return forward(p, func(f *astifilter.Frame) (*astifilter.Frame, error) {
			if f.HasPTS {
				f.PTS += a.shift
			}
			return f, nil
		})
	}
	if a.tempo.Speed() != a.speed {
		a.tempo.Command(&astifilter.Command{Speed: a.speed, Type: astifilter.CommandTypeSetSpeed})
	}
	return a.tempo.Process(p)
}

func (a *Autospeed) Command(c *astifilter.Command) bool {
	switch c.Type {
	case astifilter.CommandTypeSetSpeed:
		if !validSpeed(c.Speed) {
			return false
		}
		a.speed = c.Speed
		return true
	case astifilter.CommandTypeIsActive:
		c.IsActive = c.IsActive || a.tempo != nil
		return true
	}
	return false
}

func (a *Autospeed) Reset(m astifilter.ResetMode) {
	a.shift = 0
	if a.tempo != nil {
		a.tempo.Reset(m)
	}
}

func (a *Autospeed) Destroy() error {
	if a.tempo != nil {
		if err := a.tempo.Destroy(); err != nil {
			return fmt.Errorf("filters: destroying tempo failed: %w", err)
		}
		a.tempo = nil
	}
	return nil
}
