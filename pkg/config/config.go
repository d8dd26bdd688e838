package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/filters"
	"gopkg.in/yaml.v3"
)

// Config holds everything needed to build a pipeline and its chains
type Config struct {
	Chains     []ChainConfig    `yaml:"chains"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

type PipelineConfig struct {
	Description string `yaml:"description,omitempty"`
	Name        string `yaml:"name,omitempty"`
}

type DispatcherConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
}

type MonitorConfig struct {
	// Empty means the monitor server is disabled
	Addr           string        `yaml:"addr,omitempty"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	DeltaPeriod    time.Duration `yaml:"delta_period"`
	// Empty means replay is disabled
	ReplayPath string `yaml:"replay_path,omitempty"`
}

type ChainConfig struct {
	// Tried in order, either "resampler" or "scaler"
	Converters []string `yaml:"converters,omitempty"`
	// Comma separated filter specs, "volume=2,tempo=1.5" for instance
	Filters        string     `yaml:"filters,omitempty"`
	Kind           string     `yaml:"kind"`
	Name           string     `yaml:"name"`
	QueueCapacity  int        `yaml:"queue_capacity"`
	Sink           SinkConfig `yaml:"sink"`
	StallThreshold int        `yaml:"stall_threshold"`
}

type SinkConfig struct {
	Async bool `yaml:"async,omitempty"`
	// Audio
	ChannelLayouts []string `yaml:"channel_layouts,omitempty"`
	SampleFormats  []string `yaml:"sample_formats,omitempty"`
	SampleRates    []int    `yaml:"sample_rates,omitempty"`
	// Video
	Height      int    `yaml:"height,omitempty"`
	PixelFormat string `yaml:"pixel_format,omitempty"`
	Width       int    `yaml:"width,omitempty"`
	// Default is the dispatcher's timeout
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Load reads, decodes and validates the configuration stored at path
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s failed: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML configuration. Unknown fields are rejected.
func Parse(b []byte) (*Config, error) {
	// Decode
	var c Config
	d := yaml.NewDecoder(bytes.NewReader(b))
	d.KnownFields(true)
	if err := d.Decode(&c); err != nil {
		return nil, fmt.Errorf("config: decoding failed: %w", err)
	}

	// Apply defaults
	c.setDefaults()

	// Validate
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: validating failed: %w", err)
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Dispatcher.Timeout == 0 {
		c.Dispatcher.Timeout = time.Second
	}
	if c.Dispatcher.Workers == 0 {
		c.Dispatcher.Workers = 1
	}
	if c.Monitor.DeltaPeriod == 0 {
		c.Monitor.DeltaPeriod = time.Second
	}
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = "pipeline"
	}
	for idx := range c.Chains {
		cc := &c.Chains[idx]
		if cc.Kind == "" {
			cc.Kind = astifilter.MediaKindAudio.String()
		}
		if cc.Name == "" {
			cc.Name = fmt.Sprintf("chain_%d", idx+1)
		}
		if cc.QueueCapacity == 0 {
			cc.QueueCapacity = 4
		}
		if cc.StallThreshold == 0 {
			cc.StallThreshold = 100
		}
	}
}

func (c *Config) DispatcherOptions() astifilter.DispatcherOptions {
	return astifilter.DispatcherOptions{
		Timeout: c.Dispatcher.Timeout,
		Workers: c.Dispatcher.Workers,
	}
}

func (c *Config) Metadata() astifilter.Metadata {
	return astifilter.Metadata{
		Description: c.Pipeline.Description,
		Name:        c.Pipeline.Name,
	}
}

// ChainOptions converts the chain configuration into chain options, fc creates its user filters
func (c ChainConfig) ChainOptions(fc astifilter.FilterCreator) (o astifilter.ChainOptions, err error) {
	// Create options
	o = astifilter.ChainOptions{
		Filters:        fc,
		Metadata:       astifilter.Metadata{Name: c.Name, Tags: []string{c.Kind}},
		QueueCapacity:  c.QueueCapacity,
		StallThreshold: c.StallThreshold,
	}

	// Loop through converters
	for _, n := range c.Converters {
		var f astifilter.ConverterFactory
		if f, err = newConverterFactory(n); err != nil {
			err = fmt.Errorf("config: creating converter factory failed: %w", err)
			return
		}
		o.Converters = append(o.Converters, f)
	}
	return
}

func newConverterFactory(name string) (astifilter.ConverterFactory, error) {
	switch name {
	case "resampler":
		return filters.NewAudioResamplerFactory(filters.AudioResamplerFactoryOptions{}), nil
	case "scaler":
		return filters.NewVideoScalerFactory(filters.VideoScalerFactoryOptions{}), nil
	default:
		return nil, fmt.Errorf("config: unknown converter %s", name)
	}
}

func (c ChainConfig) MediaKind() (astifilter.MediaKind, error) {
	return astifilter.ParseMediaKind(c.Kind)
}

func (c ChainConfig) UserFilters() (astifilter.FilterSpecs, error) {
	return astifilter.ParseFilterSpecs(c.Filters)
}

// AudioConstraints returns nil when no audio constraint has been configured
func (c SinkConfig) AudioConstraints() (*astifilter.AudioConstraints, error) {
	// No constraints
	if len(c.ChannelLayouts) == 0 && len(c.SampleFormats) == 0 && len(c.SampleRates) == 0 {
		return nil, nil
	}

	// Create constraints
	ac := &astifilter.AudioConstraints{SampleRates: c.SampleRates}
	for _, v := range c.ChannelLayouts {
		l, err := astifilter.ParseChannelLayout(v)
		if err != nil {
			return nil, fmt.Errorf("config: parsing channel layout failed: %w", err)
		}
		ac.ChannelLayouts = append(ac.ChannelLayouts, l)
	}
	for _, v := range c.SampleFormats {
		sf, err := astifilter.ParseSampleFormat(v)
		if err != nil {
			return nil, fmt.Errorf("config: parsing sample format failed: %w", err)
		}
		ac.SampleFormats = append(ac.SampleFormats, sf)
	}
	return ac, nil
}

// VideoFormat returns false when no pixel format has been configured
func (c SinkConfig) VideoFormat() (astifilter.Format, bool, error) {
	if c.PixelFormat == "" {
		return astifilter.Format{}, false, nil
	}
	pf, err := astifilter.ParsePixelFormat(c.PixelFormat)
	if err != nil {
		return astifilter.Format{}, false, fmt.Errorf("config: parsing pixel format failed: %w", err)
	}
	return astifilter.VideoFormat(pf, c.Width, c.Height), true, nil
}
