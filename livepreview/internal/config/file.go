// Package config handles livepick configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Observer strategies.
const (
	StrategyEvents  = "events"
	StrategyPolling = "polling"
)

// Layout probes.
const (
	ProbeEstimate = "estimate"
	ProbeChrome   = "chrome"
)

// Config is the top-level livepick configuration.
type Config struct {
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Observer ObserverConfig `yaml:"observer"`
	Layout   LayoutConfig   `yaml:"layout"`
	Journal  JournalConfig  `yaml:"journal"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// SandboxConfig bounds script execution.
type SandboxConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ObserverConfig controls change detection on the rendered tree.
type ObserverConfig struct {
	BackstopInterval time.Duration `yaml:"backstop_interval"`
	Strategy         string        `yaml:"strategy"` // events | polling
	PollInterval     time.Duration `yaml:"poll_interval"`
}

// LayoutConfig selects how bounding rects are measured.
type LayoutConfig struct {
	ViewportWidth  float64 `yaml:"viewport_width"`
	ViewportHeight float64 `yaml:"viewport_height"`
	Probe          string  `yaml:"probe"` // estimate | chrome
	ChromeRemote   string  `yaml:"chrome_remote"`
}

// JournalConfig points at the selection journal database. An empty path
// disables the journal. Metrics and Audit add render/selection metrics
// and a trail of tool and API calls to the same database.
type JournalConfig struct {
	Path    string `yaml:"path"`
	Metrics bool   `yaml:"metrics"`
	Audit   bool   `yaml:"audit"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook | callback
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// HTTPConfig configures the preview server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown enum values and incomplete sinks.
func (c *Config) Validate() error {
	switch c.Observer.Strategy {
	case StrategyEvents, StrategyPolling:
	default:
		return fmt.Errorf("config: observer.strategy %q: want events or polling", c.Observer.Strategy)
	}
	switch c.Layout.Probe {
	case ProbeEstimate, ProbeChrome:
	default:
		return fmt.Errorf("config: layout.probe %q: want estimate or chrome", c.Layout.Probe)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout", "callback":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Sandbox.Timeout <= 0 {
		c.Sandbox.Timeout = 2 * time.Second
	}
	if c.Observer.BackstopInterval <= 0 {
		c.Observer.BackstopInterval = 3 * time.Second
	}
	if c.Observer.Strategy == "" {
		c.Observer.Strategy = StrategyEvents
	}
	if c.Observer.PollInterval <= 0 {
		c.Observer.PollInterval = 500 * time.Millisecond
	}
	if c.Layout.ViewportWidth <= 0 {
		c.Layout.ViewportWidth = 1280
	}
	if c.Layout.ViewportHeight <= 0 {
		c.Layout.ViewportHeight = 800
	}
	if c.Layout.Probe == "" {
		c.Layout.Probe = ProbeEstimate
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8787"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}
