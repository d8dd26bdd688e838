package filters

import (
	"github.com/asticode/go-astifilter/pkg/astifilter"
)

// forward moves one frame from the input pin to the output pin. fn may return a different frame,
// in which case the incoming one has to be released by fn. Releasing is idempotent.
func forward(p *astifilter.Pins, fn func(f *astifilter.Frame) (*astifilter.Frame, error)) (astifilter.ProcessStatus, error) {
	// End of stream
	if p.Input().EOF() {
		return astifilter.ProcessStatusEOF, nil
	}

	// Output is full
	if !p.Output().CanWrite() {
		return astifilter.ProcessStatusNeedOutput, nil
	}

	// Read
	f, ok := p.Input().Read()
	if !ok {
		return astifilter.ProcessStatusNeedInput, nil
	}

	// Callback
	if fn != nil {
		nf, err := fn(f)
		if err != nil {
			f.Release()
			return astifilter.ProcessStatusError, err
		}
		f = nf
	}

	// Write
	if err := p.Output().Write(f); err != nil {
		f.Release()
		return astifilter.ProcessStatusError, err
	}
	return astifilter.ProcessStatusProgress, nil
}
