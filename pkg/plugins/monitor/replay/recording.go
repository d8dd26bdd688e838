package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/asticode/go-astifilter/pkg/plugins/monitor/monitorer"
)

// Recording is the content of a file written by the plugin
type Recording struct {
	Deltas   []monitorer.Delta
	Pipeline Pipeline
}

func Open(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: opening %s failed: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (*Recording, error) {
	// Read header
	d := json.NewDecoder(r)
	var h header
	if err := d.Decode(&h); err != nil {
		return nil, fmt.Errorf("replay: decoding header failed: %w", err)
	}

	// Read deltas
	rc := &Recording{Pipeline: h.Pipeline}
	for {
		var dt monitorer.Delta
		if err := d.Decode(&dt); err != nil {
			// Process may have been killed while writing the last line
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("replay: decoding delta #%d failed: %w", len(rc.Deltas), err)
		}
		rc.Deltas = append(rc.Deltas, dt)
	}
	return rc, nil
}

// At returns the state of the pipeline after the first n deltas have been applied, it is what
// the monitor would have shown at that point
func (r *Recording) At(n int) monitorer.Delta {
	if n > len(r.Deltas) {
		n = len(r.Deltas)
	}
	return monitorer.Replay(r.Deltas[:n])
}
