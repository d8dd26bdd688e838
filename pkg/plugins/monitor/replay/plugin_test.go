package replay_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/monitorer"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/replay"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestPlugin(t *testing.T) {
	defer astikit.MockNow(func() time.Time {
		return time.Unix(1, 0)
	}).Close()

	w := astikit.NewWorker(astikit.WorkerOptions{})
	path := filepath.Join(t.TempDir(), "replay.txt")
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{
		DeltaStats: []astikit.DeltaStat{{
			Metadata: astikit.DeltaStatMetadata{Name: "n"},
			Valuer: astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} {
				w.Stop()
				return 1
			}),
		}},
		Metadata: astifilter.Metadata{
			Description: "Description",
			Name:        "Name",
		},
		Plugins: []astifilter.Plugin{replay.New(replay.PluginOptions{
			DeltaPeriod: time.Millisecond,
			Path:        path,
		})},
		Worker: w,
	})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Start(w.Context()))
	require.Eventually(t, func() bool { return p.Status() == astifilter.StatusDone }, time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	s := bufio.NewScanner(f)

	// Init payload
	require.True(t, s.Scan())
	require.Equal(t, `{"pipeline":{"description":"Description","id":`+strconv.FormatUint(p.ID(), 10)+`,"name":"Name"}}`, s.Text())

	// First delta
	require.True(t, s.Scan())
	var d monitorer.Delta
	require.NoError(t, json.Unmarshal(s.Bytes(), &d))
	var at struct {
		At int64 `json:"at"`
	}
	require.NoError(t, json.Unmarshal(s.Bytes(), &at))
	require.Equal(t, int64(1), at.At)
	require.Len(t, d.NewStats, len(p.DeltaStats()))
	var id uint64
	for _, ds := range d.NewStats {
		require.Nil(t, ds.ChainID)
		require.Nil(t, ds.NodeID)
		if ds.Metadata.Name == "n" {
			id = ds.ID
		}
	}
	require.NotZero(t, id)
	require.Equal(t, float64(1), d.StatValues[id])

	// Recording
	r, err := replay.Open(path)
	require.NoError(t, err)
	require.Equal(t, replay.Pipeline{Description: "Description", ID: p.ID(), Name: "Name"}, r.Pipeline)
	require.NotEmpty(t, r.Deltas)
	require.Len(t, r.At(1).NewStats, len(p.DeltaStats()))
}

func TestRead(t *testing.T) {
	r, err := replay.Read(strings.NewReader(`{"pipeline":{"description":"d","id":2,"name":"n"}}
{"at":1,"started_chains":[{"id":1,"metadata":{"name":"c"}}],"chain_states":[{"chain_id":1,"state":"active"}]}
{"at":2,"chain_states":[{"chain_id":1,"state":"draining"}]}
{"at":3,"done_chains":[1]}
{"at":4,"chain_`))
	require.NoError(t, err)
	require.Equal(t, replay.Pipeline{Description: "d", ID: 2, Name: "n"}, r.Pipeline)
	require.Len(t, r.Deltas, 3)
	require.Equal(t, []monitorer.DeltaChainState{{ChainID: 1, State: "draining"}}, r.At(2).ChainStates)
	require.Equal(t, []monitorer.DeltaChain{{ID: 1, Metadata: astifilter.Metadata{Name: "c"}}}, r.At(2).StartedChains)
	require.Empty(t, r.At(10).StartedChains)

	_, err = replay.Read(strings.NewReader(`{"pipeline":{"description":"d","id":2,"name":"n"}}
{"at":1,"chain_states":"invalid"}`))
	require.Error(t, err)
	_, err = replay.Read(strings.NewReader(``))
	require.Error(t, err)
}
