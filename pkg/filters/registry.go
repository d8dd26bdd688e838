package filters

import (
	"fmt"
	"slices"
	"sync"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

// FilterFactory creates a user filter out of its spec
type FilterFactory func(s astifilter.FilterSpec) (astifilter.Filter, error)

var _ astifilter.FilterCreator = (*Registry)(nil)

// Registry creates user filters by name
type Registry struct {
	fs map[string]FilterFactory
	m  sync.Mutex // Locks fs
}

// NewRegistry returns a registry where built-in filters are already registered
func NewRegistry() *Registry {
	r := &Registry{fs: make(map[string]FilterFactory)}
	r.fs["autospeed"] = newAutospeedFromSpec
	r.fs["format"] = newFormatForcerFromSpec
	r.fs["passthrough"] = newPassthroughFromSpec
	r.fs["tempo"] = newTempoFromSpec
	r.fs["volume"] = newVolumeFromSpec
	return r
}

func (r *Registry) Register(name string, f FilterFactory) error {
	r.m.Lock()
	defer r.m.Unlock()
	if _, ok := r.fs[name]; ok {
		return fmt.Errorf("filters: filter %s is already registered", name)
	}
	r.fs[name] = f
	return nil
}

func (r *Registry) Names() (ns []string) {
	r.m.Lock()
	defer r.m.Unlock()
	for n := range r.fs {
		ns = append(ns, n)
	}
	slices.Sort(ns)
	return
}

func (r *Registry) NewFilter(s astifilter.FilterSpec) (astifilter.Filter, error) {
	// Get factory
	r.m.Lock()
	f, ok := r.fs[s.Name]
	r.m.Unlock()
	if !ok {
		return nil, fmt.Errorf("filters: unknown filter %s", s.Name)
	}

	// Create filter
	flt, err := f(s)
	if err != nil {
		return nil, fmt.Errorf("filters: creating %s failed: %w", s.Name, err)
	}
	return flt, nil
}

// ParseFilterSpecs parses a comma separated list of filter specs, see astifilter.ParseFilterSpecs, and
// checks every filter is known
func (r *Registry) ParseFilterSpecs(i string) (astifilter.FilterSpecs, error) {
	// Parse
	ss, err := astifilter.ParseFilterSpecs(i)
	if err != nil {
		return nil, err
	}

	// Check names
	r.m.Lock()
	defer r.m.Unlock()
	for _, s := range ss {
		if _, ok := r.fs[s.Name]; !ok {
			return nil, fmt.Errorf("filters: unknown filter %s", s.Name)
		}
	}
	return ss, nil
}
