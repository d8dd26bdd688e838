package psutil_test

import (
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/stats/psutil"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ds, err := psutil.New()
	require.NoError(t, err)
	require.Equal(t, astifilter.DeltaStatNameHostUsage, ds.Metadata.Name)

	v, ok := ds.Valuer.Value(time.Second).(astifilter.DeltaStatHostUsageValue)
	require.True(t, ok)
	require.Nil(t, v.CPU.Process)
	require.Greater(t, v.Goroutines, 0)
	require.Greater(t, v.Memory.Resident, uint64(0))
	require.Greater(t, v.Memory.Total, uint64(0))

	v, ok = ds.Valuer.Value(time.Second).(astifilter.DeltaStatHostUsageValue)
	require.True(t, ok)
	require.NotNil(t, v.CPU.Process)
	require.GreaterOrEqual(t, *v.CPU.Process, float64(0))
}
