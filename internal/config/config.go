// Package config loads the server configuration from an optional YAML file
// and HYPERWS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dqx0.com/go/hyperws/httpx"
)

// Duration is a time.Duration written as "30s", "1m30s" and so on.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds all server settings.
type Config struct {
	// Listener
	Addr        string  `yaml:"addr"`
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`

	// Buffers and limits
	ReadBufferSize  int   `yaml:"read_buffer_size"`
	WriteBufferSize int   `yaml:"write_buffer_size"`
	MaxHeaderBytes  int   `yaml:"max_header_bytes"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`

	// Timeouts
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	Banner string `yaml:"banner"`

	// Logging
	Debug    bool `yaml:"debug"`
	JSONLogs bool `yaml:"json_logs"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:            "127.0.0.1:8080",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxHeaderBytes:  64 << 10,
		ReadTimeout:     Duration(30 * time.Second),
		WriteTimeout:    Duration(90 * time.Second),
		ShutdownTimeout: Duration(30 * time.Second),
		Banner:          "HyperWS/" + httpx.Version,
	}
}

// Load reads the defaults, then the YAML file at path when path is not
// empty, then the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("HYPERWS_ADDR", c.Addr)
	c.AcceptRate = getEnvFloat("HYPERWS_ACCEPT_RATE", c.AcceptRate)
	c.AcceptBurst = getEnvInt("HYPERWS_ACCEPT_BURST", c.AcceptBurst)
	c.ReadBufferSize = getEnvInt("HYPERWS_READ_BUFFER_SIZE", c.ReadBufferSize)
	c.WriteBufferSize = getEnvInt("HYPERWS_WRITE_BUFFER_SIZE", c.WriteBufferSize)
	c.MaxHeaderBytes = getEnvInt("HYPERWS_MAX_HEADER_BYTES", c.MaxHeaderBytes)
	c.MaxBodyBytes = int64(getEnvInt("HYPERWS_MAX_BODY_BYTES", int(c.MaxBodyBytes)))
	c.ReadTimeout = getEnvDuration("HYPERWS_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("HYPERWS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ShutdownTimeout = getEnvDuration("HYPERWS_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.Banner = getEnv("HYPERWS_BANNER", c.Banner)
	c.Debug = getEnvBool("HYPERWS_DEBUG", c.Debug)
	c.JSONLogs = getEnvBool("HYPERWS_JSON_LOGS", c.JSONLogs)
}

// Validate ensures the configuration is coherent.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.ReadBufferSize < 256 {
		errs = append(errs, fmt.Errorf("read_buffer_size %d is below the minimum of 256", c.ReadBufferSize))
	}
	if c.WriteBufferSize < 256 {
		errs = append(errs, fmt.Errorf("write_buffer_size %d is below the minimum of 256", c.WriteBufferSize))
	}
	if c.MaxHeaderBytes <= 0 {
		errs = append(errs, errors.New("max_header_bytes must be positive"))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must not be negative"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.AcceptRate < 0 || c.AcceptBurst < 0 {
		errs = append(errs, errors.New("accept_rate and accept_burst must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Apply copies the settings onto s. Logger, Meter and the handlers are left
// alone.
func (c *Config) Apply(s *httpx.Server) {
	s.Addr = c.Addr
	s.AcceptRate = c.AcceptRate
	s.AcceptBurst = c.AcceptBurst
	s.ReadBufferSize = c.ReadBufferSize
	s.WriteBufferSize = c.WriteBufferSize
	s.MaxHeaderBytes = c.MaxHeaderBytes
	s.MaxBodyBytes = c.MaxBodyBytes
	s.ReadTimeout = time.Duration(c.ReadTimeout)
	s.WriteTimeout = time.Duration(c.WriteTimeout)
	s.ShutdownTimeout = time.Duration(c.ShutdownTimeout)
	s.Banner = c.Banner
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue Duration) Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return Duration(d)
}
