package astiavfilter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/filters"
)

// Libav filters registered by default
var DefaultFilterNames = []string{
	"acompressor",
	"aecho",
	"atempo",
	"equalizer",
	"highpass",
	"hflip",
	"lowpass",
	"volume",
}

// Prefix of libav filters in a registry, "lavfi-volume=2" for instance
const filterNamePrefix = "lavfi-"

// RegisterFilters makes libav filters available in the registry. Filters that are not part of
// the linked libav are skipped.
func RegisterFilters(r *filters.Registry, names ...string) (registered []string, err error) {
	// Default names
	if len(names) == 0 {
		names = DefaultFilterNames
	}

	// Loop through names
	for _, name := range names {
		// Filter doesn't exist
		if astiav.FindFilterByName(name) == nil {
			continue
		}

		// Register
		if err = r.Register(filterNamePrefix+name, newFilterFactory(name)); err != nil {
			err = fmt.Errorf("astiavfilter: registering %s failed: %w", name, err)
			return
		}
		registered = append(registered, filterNamePrefix+name)
	}
	return
}

func newFilterFactory(name string) filters.FilterFactory {
	return func(s astifilter.FilterSpec) (astifilter.Filter, error) {
		return NewFilterer(FiltererOptions{
			Content:  filterContent(name, s.Params),
			Metadata: astifilter.Metadata{Name: s.String()},
		})
	}
}

// Positional params come first, in their order, and are followed by named ones
func filterContent(name string, params map[string]string) string {
	// No params
	if len(params) == 0 {
		return name
	}

	// Split params
	var positionals []int
	var named []string
	for k := range params {
		if i, err := strconv.Atoi(k); err == nil && i >= 0 {
			positionals = append(positionals, i)
		} else {
			named = append(named, k)
		}
	}
	slices.Sort(positionals)
	slices.Sort(named)

	// Create content
	ps := make([]string, 0, len(params))
	for _, i := range positionals {
		ps = append(ps, params[strconv.Itoa(i)])
	}
	for _, k := range named {
		ps = append(ps, k+"="+params[k])
	}
	return name + "=" + strings.Join(ps, ":")
}
