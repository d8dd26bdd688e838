package filters

import (
	"fmt"
	"strconv"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

// params gives typed access to a filter spec's params. Params without a key can be referred to
// by their position.
type params struct {
	s astifilter.FilterSpec
}

func newParams(s astifilter.FilterSpec) params {
	return params{s: s}
}

func (p params) get(key string, pos int) (string, bool) {
	if v, ok := p.s.Params[key]; ok {
		return v, true
	}
	if pos >= 0 {
		if v, ok := p.s.Params[strconv.Itoa(pos)]; ok {
			return v, true
		}
	}
	return "", false
}

func (p params) float(key string, pos int, def float64) (float64, error) {
	v, ok := p.get(key, pos)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("filters: parsing param %s of %s failed: %w", key, p.s.Name, err)
	}
	return f, nil
}

func (p params) int(key string, pos int, def int) (int, error) {
	v, ok := p.get(key, pos)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("filters: parsing param %s of %s failed: %w", key, p.s.Name, err)
	}
	return i, nil
}

func (p params) string(key string, pos int, def string) string {
	if v, ok := p.get(key, pos); ok {
		return v
	}
	return def
}

// Every param must have been used
func (p params) check(keys ...string) error {
	for k := range p.s.Params {
		var found bool
		for idx, v := range keys {
			if k == v || k == strconv.Itoa(idx) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("filters: unknown param %s for %s", k, p.s.Name)
		}
	}
	return nil
}
