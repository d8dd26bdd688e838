package filters

import (
	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var (
	_ astifilter.Commander = (*Passthrough)(nil)
	_ astifilter.Filter    = (*Passthrough)(nil)
)

// Passthrough forwards frames untouched
type Passthrough struct{}

func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func newPassthroughFromSpec(s astifilter.FilterSpec) (astifilter.Filter, error) {
	if err := newParams(s).check(); err != nil {
		return nil, err
	}
	return NewPassthrough(), nil
}

func (p *Passthrough) Accepts(f astifilter.Format) bool {
	return true
}

func (p *Passthrough) PreferredFormats() []astifilter.Format {
	return nil
}

func (p *Passthrough) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	return in, !in.IsZero()
}

func (p *Passthrough) Process(ps *astifilter.Pins) (astifilter.ProcessStatus, error) {
	return forward(ps, nil)
}

func (p *Passthrough) Command(c *astifilter.Command) bool {
	return c.Type == astifilter.CommandTypeIsActive
}

func (p *Passthrough) Reset(m astifilter.ResetMode) {}

func (p *Passthrough) Destroy() error {
	return nil
}
