package filters_test

import (
	"errors"
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := filters.NewRegistry()
	require.Equal(t, []string{"autospeed", "format", "passthrough", "tempo", "volume"}, r.Names())

	f := mocks.NewMockedFilter()
	require.Error(t, r.Register("volume", func(s astifilter.FilterSpec) (astifilter.Filter, error) { return f, nil }))
	errCreate := errors.New("create")
	require.NoError(t, r.Register("test", func(s astifilter.FilterSpec) (astifilter.Filter, error) {
		if s.Params["fail"] != "" {
			return nil, errCreate
		}
		return f, nil
	}))
	require.Contains(t, r.Names(), "test")

	_, err := r.NewFilter(astifilter.FilterSpec{Name: "unknown"})
	require.Error(t, err)
	_, err = r.NewFilter(astifilter.FilterSpec{Name: "test", Params: map[string]string{"fail": "1"}})
	require.ErrorIs(t, err, errCreate)
	v, err := r.NewFilter(astifilter.FilterSpec{Name: "test"})
	require.NoError(t, err)
	require.Same(t, f, v)

	for _, s := range []string{
		"volume=invalid",
		"volume=volume=-1",
		"volume=gain=2",
		"tempo=0.5:2",
		"tempo=speed=-2",
		"autospeed=foo",
	} {
		ss, err := astifilter.ParseFilterSpecs(s)
		require.NoError(t, err)
		_, err = r.NewFilter(ss[0])
		require.Error(t, err, s)
	}

	_, err = r.ParseFilterSpecs("volume,unknown")
	require.Error(t, err)
	_, err = r.ParseFilterSpecs("@:volume")
	require.Error(t, err)
	ss, err := r.ParseFilterSpecs("@v:volume=db=3, tempo=2")
	require.NoError(t, err)
	require.Equal(t, "@v:volume=db=3,tempo=0=2", ss.String())
}
