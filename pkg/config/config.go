// Package config loads the drainwatch agent configuration.
//
// Values are layered: Default(), then the YAML file, then DRAINWATCH_*
// environment variables, then command line flags (applied by the caller).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NavarchProject/drainwatch/pkg/identity"
	"github.com/NavarchProject/drainwatch/pkg/retry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DRAINWATCH_"

// Config is the root configuration for the agent.
type Config struct {
	// PollInterval is the pause between task polls during a drain.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	// CheckInterval is the idle heartbeat period before a signal arrives.
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`

	// Identity overrides. Empty values are discovered at startup.
	Region            string `yaml:"region,omitempty"`
	Cluster           string `yaml:"cluster,omitempty"`
	InstanceID        string `yaml:"instance_id,omitempty"`
	ContainerInstance string `yaml:"container_instance,omitempty"`

	Retry   RetryConfig   `yaml:"retry,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Log     LogConfig     `yaml:"log,omitempty"`
}

// RetryConfig is the per-poll query retry policy.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	MaxDelay     time.Duration `yaml:"max_delay,omitempty"`
	Multiplier   float64       `yaml:"multiplier,omitempty"`
	Jitter       float64       `yaml:"jitter,omitempty"`
}

// MetricsConfig configures the metrics and status HTTP server.
type MetricsConfig struct {
	Address   string `yaml:"address,omitempty"` // Empty disables the server
	AuthToken string `yaml:"auth_token,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // json, text
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	rc := retry.DefaultConfig()
	return &Config{
		PollInterval:  5 * time.Second,
		CheckInterval: 30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:  rc.MaxAttempts,
			InitialDelay: rc.InitialDelay,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   rc.Multiplier,
			Jitter:       rc.Jitter,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML file on top of Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default(). Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from DRAINWATCH_* variables read with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"REGION":             &c.Region,
		"CLUSTER":            &c.Cluster,
		"INSTANCE_ID":        &c.InstanceID,
		"CONTAINER_INSTANCE": &c.ContainerInstance,
		"METRICS_ADDRESS":    &c.Metrics.Address,
		"METRICS_TOKEN":      &c.Metrics.AuthToken,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FORMAT":         &c.Log.Format,
	}
	for key, dst := range strs {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"POLL_INTERVAL":  &c.PollInterval,
		"CHECK_INTERVAL": &c.CheckInterval,
	}
	for key, dst := range durations {
		v := getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	if v := getenv(EnvPrefix + "RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRETRY_MAX_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Retry.MaxAttempts = n
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be > 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay cannot be less than retry.initial_delay")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// RetryPolicy converts the retry section to a retry.Config.
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		Jitter:       c.Retry.Jitter,
	}
}

// HostPreset returns the identity fields set in the configuration.
func (c *Config) HostPreset() identity.Host {
	return identity.Host{
		Region:            c.Region,
		InstanceID:        c.InstanceID,
		Cluster:           c.Cluster,
		ContainerInstance: c.ContainerInstance,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
