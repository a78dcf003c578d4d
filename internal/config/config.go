package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/atelier-dev/atelier/internal/logger"
)

// Config holds all runtime tunables for the studio server. Values come from
// Defaults, optionally overlaid by a yaml file (~/.atelier/config.yaml or an
// explicit path). Durations are expressed in the file as milliseconds.
type Config struct {
	// Host is the address dev-server URLs are built with and the API binds to.
	Host string `yaml:"host"`
	// APIPort is the port the studio's own HTTP API listens on.
	APIPort int `yaml:"api_port"`

	DevServers DevServerConfig `yaml:"dev_servers"`
}

// DevServerConfig holds the orchestrator tunables.
type DevServerConfig struct {
	// BasePort and MaxPort bound the allocation range, inclusive. Scanning
	// always restarts from BasePort so low ports are reused after release.
	BasePort int `yaml:"base_port"`
	MaxPort  int `yaml:"max_port"`

	// AuxiliaryPorts are companion live-reload ports cleared on every
	// successful allocation (Vite HMR, LiveReload).
	AuxiliaryPorts []int `yaml:"auxiliary_ports"`

	// ScrollbackLimit caps each server's replayable output history, in bytes.
	ScrollbackLimit int `yaml:"scrollback_limit"`

	// FlushIntervalMs is the throttle window between an output chunk arriving
	// and its batch being emitted.
	FlushIntervalMs int `yaml:"flush_interval_ms"`

	// OutputBatchSize caps the bytes carried by a single output event.
	OutputBatchSize int `yaml:"output_batch_size"`

	// GracePeriodMs is how long after spawn we wait before declaring a dev
	// server successfully started.
	GracePeriodMs int `yaml:"grace_period_ms"`

	// PortSettleMs is the pause between killing a port's occupant and probing
	// the port for bindability.
	PortSettleMs int `yaml:"port_settle_ms"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Host:    "localhost",
		APIPort: 8181,
		DevServers: DevServerConfig{
			BasePort:        3001,
			MaxPort:         3100,
			AuxiliaryPorts:  []int{24678, 35729},
			ScrollbackLimit: 50000,
			FlushIntervalMs: 10,
			OutputBatchSize: 16384,
			GracePeriodMs:   400,
			PortSettleMs:    150,
		},
	}
}

// Load reads configuration from path, overlaying Defaults. An empty path
// means the default location; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	logger.Debugf("loaded configuration from %s", path)
	return cfg, nil
}

// DefaultPath returns the default config file location, ~/.atelier/config.yaml.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".atelier", "config.yaml")
}

// FlushInterval returns the throttle window as a duration.
func (c DevServerConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// GracePeriod returns the startup grace period as a duration.
func (c DevServerConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

// PortSettle returns the post-kill settle delay as a duration.
func (c DevServerConfig) PortSettle() time.Duration {
	return time.Duration(c.PortSettleMs) * time.Millisecond
}
