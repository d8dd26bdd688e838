package main

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/config"
	"github.com/asticode/go-astifilter/pkg/filters"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/replay"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/server"
	"github.com/asticode/go-astifilter/pkg/stats/psutil"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astilog"
	"github.com/spf13/cobra"
)

var l = astilog.New(astilog.Configuration{})

//go:embed dev.yaml
var defaultConfig []byte

var (
	configPath string
	duration   time.Duration
	replayPath string
)

var rootCmd = &cobra.Command{
	Use:          "dev",
	Short:        "Runs synthetic audio and video chains with the monitor enabled",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a yaml configuration, the built-in one is used when empty")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "duration of the synthetic streams, 0 means they never end")
	rootCmd.Flags().StringVarP(&replayPath, "replay", "r", "", "path where monitor deltas are recorded, overrides the configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		l.Fatal(err)
	}
}

func run() error {
	// Load configuration
	c, err := loadConfig()
	if err != nil {
		return err
	}
	if replayPath != "" {
		c.Monitor.ReplayPath = replayPath
	}

	// Create host usage stat
	ds, err := psutil.New()
	if err != nil {
		return fmt.Errorf("main: creating psutil stat failed: %w", err)
	}

	// Create worker
	w := astikit.NewWorker(astikit.WorkerOptions{Logger: l})
	w.HandleSignals(astikit.TermSignalHandler(w.Stop))

	// Create plugins
	var ps []astifilter.Plugin
	if c.Monitor.Addr != "" {
		ps = append(ps, server.New(server.PluginOptions{
			Addr:        c.Monitor.Addr,
			API:         server.PluginAPIOptions{URL: "/api"},
			CORS:        server.PluginCORSOptions{AllowedOrigins: c.Monitor.AllowedOrigins},
			DeltaPeriod: c.Monitor.DeltaPeriod,
			Push:        server.PluginPushOptions{URL: "/push"},
		}))
	}
	if c.Monitor.ReplayPath != "" {
		ps = append(ps, replay.New(replay.PluginOptions{
			DeltaPeriod: c.Monitor.DeltaPeriod,
			Path:        c.Monitor.ReplayPath,
		}))
	}

	// Create pipeline
	p, err := astifilter.NewPipeline(astifilter.PipelineOptions{
		ContextAdapters: astifilter.PipelineContextAdaptersOptions{
			Chain: func(ctx context.Context, p *astifilter.Pipeline, c *astifilter.Chain) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"chain":    c.String(),
					"pipeline": p.String(),
				})
			},
			Node: func(ctx context.Context, p *astifilter.Pipeline, c *astifilter.Chain, n *astifilter.Node) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"chain":    c.String(),
					"node":     n.String(),
					"pipeline": p.String(),
				})
			},
			Pipeline: func(ctx context.Context, p *astifilter.Pipeline) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"pipeline": p.String(),
				})
			},
			Plugin: func(ctx context.Context, p *astifilter.Pipeline, pg astifilter.Plugin) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"pipeline": p.String(),
					"plugin":   pg.Metadata().Name,
				})
			},
		},
		DeltaStats: []astikit.DeltaStat{ds},
		Dispatcher: c.DispatcherOptions(),
		Logger:     l,
		Metadata:   c.Metadata(),
		Plugins:    ps,
		Stop:       &astifilter.PipelineStopOptions{WhenAllChainsAreDone: duration > 0},
		Worker:     w,
	})
	if err != nil {
		return fmt.Errorf("main: creating pipeline failed: %w", err)
	}
	defer p.Close()

	// Stop worker once pipeline is done
	p.On(astifilter.EventNamePipelineDone, func(payload interface{}) (delete bool) {
		w.Stop()
		return
	})

	// Add chains
	r := filters.NewRegistry()
	for _, cc := range c.Chains {
		if err = addChain(p, r, cc); err != nil {
			return fmt.Errorf("main: adding chain %s failed: %w", cc.Name, err)
		}
	}

	// Start pipeline
	if err = p.Start(w.Context()); err != nil {
		return fmt.Errorf("main: starting pipeline failed: %w", err)
	}

	// Wait
	w.Wait()
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		c, err := config.Parse(defaultConfig)
		if err != nil {
			return nil, fmt.Errorf("main: parsing default configuration failed: %w", err)
		}
		return c, nil
	}
	c, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("main: loading configuration failed: %w", err)
	}
	return c, nil
}

// Synthetic streams are produced in a format the sink must convert
func sourceFormat(k astifilter.MediaKind) astifilter.Format {
	if k == astifilter.MediaKindVideo {
		return astifilter.VideoFormat(astifilter.PixelFormatRGB24, 64, 48)
	}
	return astifilter.AudioFormat(astifilter.SampleFormatS16, 44100, astifilter.ChannelLayoutStereo)
}

func addChain(p *astifilter.Pipeline, r *filters.Registry, cc config.ChainConfig) error {
	// Create chain
	o, err := cc.ChainOptions(r)
	if err != nil {
		return fmt.Errorf("main: creating chain options failed: %w", err)
	}
	c, err := p.NewChain(o)
	if err != nil {
		return fmt.Errorf("main: creating chain failed: %w", err)
	}

	// Parse user filters
	ufs, err := r.ParseFilterSpecs(cc.Filters)
	if err != nil {
		return fmt.Errorf("main: parsing filters failed: %w", err)
	}

	// Get media kind
	k, err := cc.MediaKind()
	if err != nil {
		return fmt.Errorf("main: getting media kind failed: %w", err)
	}

	// Create source
	sf := sourceFormat(k)
	src, err := filters.NewSource(filters.SourceOptions{
		Demuxer:  newSyntheticDemuxer(sf, duration),
		Format:   &sf,
		Metadata: astifilter.Metadata{Name: cc.Name + " source"},
	})
	if err != nil {
		return fmt.Errorf("main: creating source failed: %w", err)
	}

	// Get device formats
	so := filters.SinkOptions{
		Context:  c.Context(),
		Metadata: astifilter.Metadata{Name: cc.Name + " sink"},
		Timeout:  cc.Sink.Timeout,
	}
	var dfs []astifilter.Format
	switch k {
	case astifilter.MediaKindAudio:
		if so.Constraints, err = cc.Sink.AudioConstraints(); err != nil {
			return fmt.Errorf("main: getting audio constraints failed: %w", err)
		}
	case astifilter.MediaKindVideo:
		f, ok, err := cc.Sink.VideoFormat()
		if err != nil {
			return fmt.Errorf("main: getting video format failed: %w", err)
		} else if ok {
			dfs = append(dfs, f)
		}
	}

	// Create sink
	so.Device = newSyntheticDevice(cc.Name, l, dfs...)
	if cc.Sink.Async {
		so.Dispatcher = p.Dispatcher()
	}
	snk, err := filters.NewSink(so)
	if err != nil {
		return fmt.Errorf("main: creating sink failed: %w", err)
	}

	// Log chain errors
	c.On(astifilter.EventNameChainError, func(payload interface{}) (delete bool) {
		if ce, ok := payload.(*astifilter.ChainError); ok {
			l.ErrorC(c.Context(), ce)
		}
		return
	})

	// Stop chain once its streams have ended. Stopping waits for the chain loop which emits this
	// event, hence the goroutine.
	c.On(astifilter.EventNameChainDrained, func(payload interface{}) (delete bool) {
		go func() {
			if err := c.Stop(); err != nil {
				l.WarnC(c.Context(), fmt.Errorf("main: stopping chain failed: %w", err))
			}
		}()
		return
	})

	// Build
	if err = c.Build(astifilter.ChainBuildOptions{
		Sink:        snk,
		Source:      src,
		UserFilters: ufs,
	}); err != nil {
		return fmt.Errorf("main: building chain failed: %w", err)
	}
	return nil
}
