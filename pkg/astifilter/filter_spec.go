package astifilter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// FilterSpec describes a user filter: "@label:name=key1=value1:key2=value2"
type FilterSpec struct {
	Label  string            `yaml:"label,omitempty"`
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params,omitempty"`
}

// FilterCreator creates user filters out of their spec
type FilterCreator interface {
	NewFilter(s FilterSpec) (Filter, error)
}

func (s FilterSpec) String() string {
	var b strings.Builder
	if s.Label != "" {
		b.WriteString("@" + s.Label + ":")
	}
	b.WriteString(s.Name)
	ks := make([]string, 0, len(s.Params))
	for k := range s.Params {
		ks = append(ks, k)
	}
	slices.Sort(ks)
	for idx, k := range ks {
		if idx == 0 {
			b.WriteString("=")
		} else {
			b.WriteString(":")
		}
		b.WriteString(k + "=" + s.Params[k])
	}
	return b.String()
}

// Two specs with the same key create the same filter
func (s FilterSpec) key() string {
	return s.String()
}

type FilterSpecs []FilterSpec

func (ss FilterSpecs) String() string {
	vs := make([]string, 0, len(ss))
	for _, s := range ss {
		vs = append(vs, s.String())
	}
	return strings.Join(vs, ",")
}

// ParseFilterSpecs parses a comma separated list of filter specs. Params without a key are
// indexed by their position.
func ParseFilterSpecs(i string) (ss FilterSpecs, err error) {
	// Empty
	if strings.TrimSpace(i) == "" {
		return
	}

	// Loop through items
	for idx, item := range strings.Split(i, ",") {
		var s FilterSpec
		if s, err = parseFilterSpec(strings.TrimSpace(item)); err != nil {
			err = fmt.Errorf("astifilter: parsing filter spec #%d failed: %w", idx, err)
			return
		}
		ss = append(ss, s)
	}
	return
}

func parseFilterSpec(i string) (s FilterSpec, err error) {
	// Label
	if strings.HasPrefix(i, "@") {
		idx := strings.Index(i, ":")
		if idx < 0 {
			err = fmt.Errorf("astifilter: label of %q is not followed by a filter", i)
			return
		}
		s.Label = i[1:idx]
		i = i[idx+1:]
		if s.Label == "" {
			err = fmt.Errorf("astifilter: empty label in %q", i)
			return
		}
	}

	// Name
	name, params, hasParams := strings.Cut(i, "=")
	if s.Name = strings.TrimSpace(name); s.Name == "" {
		err = fmt.Errorf("astifilter: empty filter name in %q", i)
		return
	}

	// Params
	if !hasParams {
		return
	}
	s.Params = make(map[string]string)
	for idx, p := range strings.Split(params, ":") {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			k, v = strconv.Itoa(idx), p
		}
		if k == "" {
			err = fmt.Errorf("astifilter: empty param key in %q", i)
			return
		}
		s.Params[k] = v
	}
	return
}
