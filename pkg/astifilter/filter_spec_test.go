package astifilter_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/stretchr/testify/require"
)

func TestParseFilterSpecs(t *testing.T) {
	ss, err := astifilter.ParseFilterSpecs("")
	require.NoError(t, err)
	require.Len(t, ss, 0)

	ss, err = astifilter.ParseFilterSpecs("@v:volume=gain=2:mode=linear, scale=640:480,passthrough")
	require.NoError(t, err)
	require.Equal(t, astifilter.FilterSpecs{
		{Label: "v", Name: "volume", Params: map[string]string{"gain": "2", "mode": "linear"}},
		{Name: "scale", Params: map[string]string{"0": "640", "1": "480"}},
		{Name: "passthrough"},
	}, ss)
	require.Equal(t, "@v:volume=gain=2:mode=linear,scale=0=640:1=480,passthrough", ss.String())

	for _, i := range []string{
		"@:volume",
		"@v",
		"=gain=2",
		"volume,",
		"volume=gain=2:=3",
	} {
		_, err = astifilter.ParseFilterSpecs(i)
		require.Error(t, err, i)
	}
}
