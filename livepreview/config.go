package livepreview

import (
	"github.com/hazyhaar/livepick/livepreview/internal/config"
)

// Config is the top-level livepick configuration. Re-exported from internal.
type Config = config.Config

// SandboxConfig bounds script execution.
type SandboxConfig = config.SandboxConfig

// ObserverConfig controls change detection.
type ObserverConfig = config.ObserverConfig

// LayoutConfig selects how bounding rects are measured.
type LayoutConfig = config.LayoutConfig

// JournalConfig points at the selection journal.
type JournalConfig = config.JournalConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// HTTPConfig configures the preview server.
type HTTPConfig = config.HTTPConfig

// Observer strategies and layout probes.
const (
	StrategyEvents  = config.StrategyEvents
	StrategyPolling = config.StrategyPolling
	ProbeEstimate   = config.ProbeEstimate
	ProbeChrome     = config.ProbeChrome
)

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}
