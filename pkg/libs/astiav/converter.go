package astiavfilter

import (
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

var countConverter uint64

var _ astifilter.ConverterFactory = (*ConverterFactory)(nil)

// ConverterFactory creates converters relying on libav's aresample and scale filters
type ConverterFactory struct {
	o ConverterFactoryOptions
}

type ConverterFactoryOptions struct {
	// Formats proposed when the consumer doesn't state any preference
	Formats     []astifilter.Format
	ThreadCount int
}

func NewConverterFactory(o ConverterFactoryOptions) *ConverterFactory {
	return &ConverterFactory{o: o}
}

func (f *ConverterFactory) Name() string {
	return "lavfi"
}

func (f *ConverterFactory) CanConvert(in, out astifilter.Format) bool {
	return in.Kind == out.Kind && supported(in) && supported(out)
}

func (f *ConverterFactory) OutputFormats(in astifilter.Format) (fs []astifilter.Format) {
	for _, o := range f.o.Formats {
		if f.CanConvert(in, o) {
			fs = append(fs, o)
		}
	}
	return
}

func (f *ConverterFactory) NewConverter(in, out astifilter.Format) (astifilter.Filter, error) {
	// Invalid formats
	if !f.CanConvert(in, out) {
		return nil, fmt.Errorf("astiavfilter: can't convert %s to %s", in, out)
	}

	// Create filterer
	return NewFilterer(FiltererOptions{
		Input: &in,
		Metadata: astifilter.Metadata{
			Name: fmt.Sprintf("lavfi_converter_%d", atomic.AddUint64(&countConverter, uint64(1))),
			Tags: []string{"converter"},
		},
		Output:      &out,
		ThreadCount: f.o.ThreadCount,
	})
}
