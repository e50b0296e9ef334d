// Package config provides configuration management for flux using Viper,
// supporting config files, FLUX_* environment variables, and defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultListenAddr          = ":8090"
	defaultSRTAddr             = ":6000"
	defaultQUICAddr            = ":4443"
	defaultAPIAddr             = ":8091"
	defaultMaintenanceInterval = 5 * time.Minute
	defaultInactivityTimeout   = 10 * time.Minute
	defaultEWMAAlpha           = 0.2
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Network  NetworkConfig  `mapstructure:"network"`
	EdgeSeed []EdgeNodeSeed `mapstructure:"edge_nodes"`
}

// ServerConfig holds listener and connection-lifecycle settings.
type ServerConfig struct {
	// ListenAddr is the TCP frame-ingest listener address.
	ListenAddr string `mapstructure:"listen_addr"`
	// SRTAddr is the SRT publish listener address; empty disables SRT.
	SRTAddr string `mapstructure:"srt_addr"`
	// QUICAddr is the QUIC ingest listener address; empty disables QUIC.
	QUICAddr string `mapstructure:"quic_addr"`
	// APIAddr is the admin/telemetry HTTP listener address.
	APIAddr string `mapstructure:"api_addr"`
	// MaintenanceInterval is how often the idle sweep and edge-metric
	// refresh run.
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	// InactivityTimeout is how long a connection may stay idle before the
	// maintenance sweep closes it.
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	// CertFile and KeyFile supply the TLS certificate; when empty a
	// self-signed certificate is generated at startup.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// EngineConfig holds media-engine tunables.
type EngineConfig struct {
	// Workers sizes the task pool; 0 means one worker per CPU.
	Workers int `mapstructure:"workers"`
	// VideoCapacities are the three video stage buffer capacities.
	VideoCapacities []int `mapstructure:"video_capacities"`
	// AudioCapacities are the two audio stage buffer capacities.
	AudioCapacities []int `mapstructure:"audio_capacities"`
}

// NetworkConfig holds scheduler tunables.
type NetworkConfig struct {
	// EWMAAlpha is the smoothing factor: responsiveness vs. stability of
	// bitrate decisions.
	EWMAAlpha float64 `mapstructure:"ewma_alpha"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// EdgeNodeSeed pre-populates the edge registry at startup. Membership is
// otherwise supplied at runtime through the admin API.
type EdgeNodeSeed struct {
	ID       string   `mapstructure:"id"`
	Address  string   `mapstructure:"address"`
	Region   string   `mapstructure:"region"`
	Capacity float64  `mapstructure:"capacity"`
	Latency  float64  `mapstructure:"latency_ms"`
	Codecs   []string `mapstructure:"codecs"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", defaultListenAddr)
	v.SetDefault("server.srt_addr", defaultSRTAddr)
	v.SetDefault("server.quic_addr", defaultQUICAddr)
	v.SetDefault("server.api_addr", defaultAPIAddr)
	v.SetDefault("server.maintenance_interval", defaultMaintenanceInterval)
	v.SetDefault("server.inactivity_timeout", defaultInactivityTimeout)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.video_capacities", []int{5, 3, 2})
	v.SetDefault("engine.audio_capacities", []int{8, 4})
	v.SetDefault("network.ewma_alpha", defaultEWMAAlpha)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load unmarshals and validates the configuration from the given viper
// instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the type system cannot.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Network.EWMAAlpha <= 0 || c.Network.EWMAAlpha > 1 {
		return fmt.Errorf("network.ewma_alpha must be in (0, 1], got %v", c.Network.EWMAAlpha)
	}
	if len(c.Engine.VideoCapacities) != 3 {
		return fmt.Errorf("engine.video_capacities must name exactly 3 stages")
	}
	if len(c.Engine.AudioCapacities) != 2 {
		return fmt.Errorf("engine.audio_capacities must name exactly 2 stages")
	}
	for _, capacity := range append(append([]int{}, c.Engine.VideoCapacities...), c.Engine.AudioCapacities...) {
		if capacity <= 0 {
			return fmt.Errorf("stage capacities must be positive, got %d", capacity)
		}
	}
	if c.Server.MaintenanceInterval <= 0 {
		return fmt.Errorf("server.maintenance_interval must be positive")
	}
	if c.Server.InactivityTimeout <= 0 {
		return fmt.Errorf("server.inactivity_timeout must be positive")
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}
	return nil
}
