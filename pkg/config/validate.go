package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

// Validate returns the first invalid value it finds
func (c *Config) Validate() error {
	// Dispatcher
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher: workers must be at least 1, got %d", c.Dispatcher.Workers)
	}
	if c.Dispatcher.Timeout < 0 {
		return fmt.Errorf("dispatcher: timeout must be positive, got %s", c.Dispatcher.Timeout)
	}

	// Monitor
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	// Chains
	if len(c.Chains) == 0 {
		return errors.New("chains: at least one chain is needed")
	}
	names := make(map[string]bool)
	for idx, cc := range c.Chains {
		if names[cc.Name] {
			return fmt.Errorf("chains: name %s is used more than once", cc.Name)
		}
		names[cc.Name] = true
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("chains: chain #%d %s: %w", idx, cc.Name, err)
		}
	}
	return nil
}

func (c MonitorConfig) Validate() error {
	if c.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			return fmt.Errorf("addr %q is invalid: %w", c.Addr, err)
		}
	}
	if c.DeltaPeriod < 0 {
		return fmt.Errorf("delta_period must be positive, got %s", c.DeltaPeriod)
	}
	return nil
}

func (c ChainConfig) Validate() error {
	// Kind
	k, err := c.MediaKind()
	if err != nil {
		return err
	}
	if k != astifilter.MediaKindAudio && k != astifilter.MediaKindVideo {
		return fmt.Errorf("kind must be either audio or video, got %s", k)
	}

	// Queues
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity)
	}
	if c.StallThreshold < 1 {
		return fmt.Errorf("stall_threshold must be at least 1, got %d", c.StallThreshold)
	}

	// Converters
	for _, n := range c.Converters {
		if _, err := newConverterFactory(n); err != nil {
			return err
		}
	}

	// Filters
	if _, err := c.UserFilters(); err != nil {
		return err
	}

	// Sink
	if err := c.Sink.validate(k); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

func (c SinkConfig) validate(k astifilter.MediaKind) error {
	// Audio
	ac, err := c.AudioConstraints()
	if err != nil {
		return err
	}
	for _, r := range c.SampleRates {
		if r <= 0 {
			return fmt.Errorf("sample rates must be positive, got %d", r)
		}
	}

	// Video
	_, hasVideo, err := c.VideoFormat()
	if err != nil {
		return err
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("dimensions must be positive, got %dx%d", c.Width, c.Height)
	}

	// Kind mismatch
	if k == astifilter.MediaKindAudio && hasVideo {
		return errors.New("video params can't be set on an audio sink")
	} else if k == astifilter.MediaKindVideo && ac != nil {
		return errors.New("audio params can't be set on a video sink")
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
