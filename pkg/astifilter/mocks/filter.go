package mocks

import (
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

// MockedFilter lets tests override every method of the filter contract. Unset callbacks accept
// any format, keep the output format unknown and forward frames untouched.
type MockedFilter struct {
	Commands       []astifilter.Command
	Destroyed      bool
	Formats        astifilter.Formats
	Invocations    int
	Name           string
	OnAccepts      func(f astifilter.Format) bool
	OnCommand      func(c *astifilter.Command) bool
	OnOutputFormat func(in astifilter.Format) (astifilter.Format, bool)
	OnProcess      func(p *astifilter.Pins) (astifilter.ProcessStatus, error)
	Resets         []astifilter.ResetMode
}

var (
	_ astifilter.Commander         = (*MockedFilter)(nil)
	_ astifilter.Filter            = (*MockedFilter)(nil)
	_ astifilter.MetadataDescriber = (*MockedFilter)(nil)
)

func NewMockedFilter() *MockedFilter {
	return &MockedFilter{}
}

func (f *MockedFilter) Accepts(i astifilter.Format) bool {
	if f.OnAccepts != nil {
		return f.OnAccepts(i)
	}
	if len(f.Formats) > 0 {
		return f.Formats.Contains(i)
	}
	return true
}

func (f *MockedFilter) Command(c *astifilter.Command) bool {
	f.Commands = append(f.Commands, *c)
	if f.OnCommand != nil {
		return f.OnCommand(c)
	}
	return false
}

func (f *MockedFilter) Destroy() error {
	f.Destroyed = true
	return nil
}

func (f *MockedFilter) Metadata() astifilter.Metadata {
	return astifilter.Metadata{Name: f.Name}
}

func (f *MockedFilter) OutputFormat(in astifilter.Format) (astifilter.Format, bool) {
	if f.OnOutputFormat != nil {
		return f.OnOutputFormat(in)
	}
	return astifilter.Format{}, false
}

func (f *MockedFilter) PreferredFormats() []astifilter.Format {
	return f.Formats
}

func (f *MockedFilter) Process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	f.Invocations++
	if f.OnProcess != nil {
		return f.OnProcess(p)
	}
	return Forward(p, nil)
}

func (f *MockedFilter) Reset(m astifilter.ResetMode) {
	f.Resets = append(f.Resets, m)
}

// Forward moves one frame from the input pin to the output pin, after calling fn on it
func Forward(p *astifilter.Pins, fn func(f *astifilter.Frame)) (astifilter.ProcessStatus, error) {
	// End of stream
	if p.Input().EOF() {
		return astifilter.ProcessStatusEOF, nil
	}

	// Output is full
	if !p.Output().CanWrite() {
		return astifilter.ProcessStatusNeedOutput, nil
	}

	// Read
	fm, ok := p.Input().Read()
	if !ok {
		return astifilter.ProcessStatusNeedInput, nil
	}

	// Callback
	if fn != nil {
		fn(fm)
	}

	// Write
	if err := p.Output().Write(fm); err != nil {
		return astifilter.ProcessStatusError, err
	}
	return astifilter.ProcessStatusProgress, nil
}

// MockedSource writes Count frames, one per invocation. Frame #i has a pts of i*Duration and the
// format returned by FormatAt.
type MockedSource struct {
	*MockedFilter
	Count    int
	Duration time.Duration
	// Writes a format change notification before the first frame of a new format
	Explicit bool
	FormatAt func(idx int) astifilter.Format
	// When set, OutputFormat returns the format of the first frame
	KnownFormat bool
	Written     []*astifilter.Frame
	idx         int
	last        *astifilter.Format
}

func NewMockedSource(count int, f astifilter.Format) *MockedSource {
	s := &MockedSource{
		Count:       count,
		Duration:    20 * time.Millisecond,
		FormatAt:    func(int) astifilter.Format { return f },
		KnownFormat: true,
	}
	s.MockedFilter = &MockedFilter{
		Name: "source",
		OnOutputFormat: func(astifilter.Format) (astifilter.Format, bool) {
			if !s.KnownFormat {
				return astifilter.Format{}, false
			}
			return s.FormatAt(0), true
		},
		OnProcess: s.process,
	}
	return s
}

func (s *MockedSource) process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	// End of stream
	if s.idx >= s.Count {
		return astifilter.ProcessStatusEOF, nil
	}

	// Output is full
	if !p.Output().CanWrite() {
		return astifilter.ProcessStatusNeedOutput, nil
	}

	// Format change
	f := s.FormatAt(s.idx)
	if s.Explicit && s.last != nil && !s.last.Equal(f) {
		p.Output().WriteFormatChange(f)
	}
	s.last = &f

	// Write
	pts := time.Duration(s.idx) * s.Duration
	fm := astifilter.NewFrame(astifilter.FrameOptions{
		Data:     make([]byte, 4),
		Duration: s.Duration,
		Format:   f,
		PTS:      &pts,
		Samples:  1,
	})
	if err := p.Output().Write(fm); err != nil {
		return astifilter.ProcessStatusError, err
	}
	s.Written = append(s.Written, fm)
	s.idx++
	return astifilter.ProcessStatusProgress, nil
}

func (s *MockedSource) Reset(m astifilter.ResetMode) {
	s.MockedFilter.Reset(m)
	s.last = nil
}

// MockedSink reads every frame it's given while Ready returns true
type MockedSink struct {
	*MockedFilter
	EOF    bool
	Frames []*astifilter.Frame
	Ready  func() bool
}

func NewMockedSink(fs ...astifilter.Format) *MockedSink {
	s := &MockedSink{Ready: func() bool { return true }}
	s.MockedFilter = &MockedFilter{
		Formats:   fs,
		Name:      "sink",
		OnProcess: s.process,
	}
	return s
}

func (s *MockedSink) process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	// End of stream
	if p.Input().EOF() {
		s.EOF = true
		return astifilter.ProcessStatusEOF, nil
	}

	// Nothing to read
	if _, ok := p.Input().Peek(); !ok {
		return astifilter.ProcessStatusNeedInput, nil
	}

	// Device is not ready
	if !s.Ready() {
		return astifilter.ProcessStatusNeedOutput, nil
	}

	// Read
	f, _ := p.Input().Read()
	s.Frames = append(s.Frames, f)
	return astifilter.ProcessStatusProgress, nil
}

// MockedTransform forwards frames after setting their format to what FormatAt returns, when it
// is set
type MockedTransform struct {
	*MockedFilter
	// Writes a format change notification before the first frame of a new format
	Explicit bool
	FormatAt func(idx int) astifilter.Format
	idx      int
	last     *astifilter.Format
}

func NewMockedTransform(name string) *MockedTransform {
	t := &MockedTransform{}
	t.MockedFilter = &MockedFilter{
		Name: name,
		OnOutputFormat: func(in astifilter.Format) (astifilter.Format, bool) {
			if t.FormatAt != nil {
				return t.FormatAt(t.idx), true
			}
			return in, !in.IsZero()
		},
		OnProcess: t.process,
	}
	return t
}

func (t *MockedTransform) process(p *astifilter.Pins) (astifilter.ProcessStatus, error) {
	return Forward(p, func(f *astifilter.Frame) {
		// Nothing to do
		if t.FormatAt == nil {
			return
		}

		// Format change
		out := t.FormatAt(t.idx)
		if t.Explicit && t.last != nil && !t.last.Equal(out) {
			p.Output().WriteFormatChange(out)
		}
		t.last = &out

		// Update frame
		f.Format = out
		t.idx++
	})
}

func (t *MockedTransform) Reset(m astifilter.ResetMode) {
	t.MockedFilter.Reset(m)
	t.last = nil
}

// MockedConverterFactory creates converters rewriting frame formats. By default it converts
// between formats of the same kind.
type MockedConverterFactory struct {
	Converters   []*MockedTransform
	Created      [][2]astifilter.Format
	OnCanConvert func(in, out astifilter.Format) bool
	Outputs      []astifilter.Format
	name         string
}

var _ astifilter.ConverterFactory = (*MockedConverterFactory)(nil)

func NewMockedConverterFactory(name string) *MockedConverterFactory {
	return &MockedConverterFactory{name: name}
}

func (f *MockedConverterFactory) CanConvert(in, out astifilter.Format) bool {
	if f.OnCanConvert != nil {
		return f.OnCanConvert(in, out)
	}
	return in.Kind == out.Kind
}

func (f *MockedConverterFactory) Name() string {
	return f.name
}

func (f *MockedConverterFactory) NewConverter(in, out astifilter.Format) (astifilter.Filter, error) {
	c := NewMockedTransform(f.name)
	c.FormatAt = func(int) astifilter.Format { return out }
	c.OnAccepts = func(i astifilter.Format) bool { return i.Equal(in) }
	f.Converters = append(f.Converters, c)
	f.Created = append(f.Created, [2]astifilter.Format{in, out})
	return c, nil
}

func (f *MockedConverterFactory) OutputFormats(in astifilter.Format) []astifilter.Format {
	return f.Outputs
}
