// Package config handles loading and validating the meteod configuration.
//
// Loading order:
//   - DefaultConfig (values from the top-level config package)
//   - the YAML file, after ${VAR} expansion
//   - MQTT_* environment overrides
//
// Validate reports every problem at once.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/meteo/config"
	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/ingestion/backpressure"
	"github.com/xtxerr/meteo/internal/logging"
	"github.com/xtxerr/meteo/internal/storage/parquet"
	"github.com/xtxerr/meteo/internal/validation"
)

// =============================================================================
// Types
// =============================================================================

// Config is the root meteod configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Features FeaturesConfig `yaml:"features"`
	Export   ExportConfig   `yaml:"export"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Backlog  BacklogConfig  `yaml:"backlog"`
	Admin    AdminConfig    `yaml:"admin"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// TLS is enabled when both files are set.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`

	// MaxLimit is the largest limit /readings accepts.
	MaxLimit int `yaml:"max_limit"`

	// CORSOrigins lists allowed origins. "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
}

// StoreConfig configures the in-memory sample window.
type StoreConfig struct {
	// Capacity is the number of samples retained.
	Capacity int `yaml:"capacity"`
}

// FeaturesConfig configures optional query features.
type FeaturesConfig struct {
	// Percentiles enables temperature p50/p90/p99 in statistics.
	Percentiles bool `yaml:"percentiles"`

	// PercentileAccuracy is the DDSketch relative accuracy.
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`
}

// ExportConfig configures snapshot exports.
type ExportConfig struct {
	// Compression is the Parquet codec: none, snappy, zstd, lz4, gzip.
	Compression string `yaml:"compression"`
}

// MQTTConfig configures the broker session.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`

	// ClientID replaces the generated meteod-<uuid> id when set.
	ClientID string `yaml:"client_id"`

	KeepAlive      Duration `yaml:"keep_alive"`
	ConnectTimeout Duration `yaml:"connect_timeout"`

	TLS       TLSConfig       `yaml:"tls"`
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// EventBuffer is the capacity of the transport event channel.
	EventBuffer int `yaml:"event_buffer"`
}

// TLSConfig configures the broker TLS session.
type TLSConfig struct {
	// Enabled uses TLS. The system roots are trusted unless CAFile is set.
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ReconnectConfig configures the reconnect backoff.
type ReconnectConfig struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

// AdminConfig gates destructive operations.
type AdminConfig struct {
	// EnableClear allows DELETE /readings.
	EnableClear bool `yaml:"enable_clear"`

	// Token, when set, must be presented as a bearer token.
	Token string `yaml:"token"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// =============================================================================
// Duration
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Supports: "5s", "1m30s", or plain seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            defaults.DefaultListenAddress,
			ReadHeaderTimeout: Duration(defaults.DefaultReadHeaderTimeout),
			ShutdownTimeout:   Duration(defaults.DefaultShutdownTimeout),
			MaxLimit:          defaults.DefaultMaxLimit,
			CORSOrigins:       []string{"*"},
		},
		Store: StoreConfig{
			Capacity: defaults.DefaultStoreCapacity,
		},
		Features: FeaturesConfig{
			Percentiles:        true,
			PercentileAccuracy: defaults.DefaultPercentileAccuracy,
		},
		Export: ExportConfig{
			Compression: "zstd",
		},
		MQTT: MQTTConfig{
			Port:           defaults.DefaultMQTTPort,
			Topic:          defaults.DefaultMQTTTopic,
			KeepAlive:      Duration(defaults.DefaultMQTTKeepAlive),
			ConnectTimeout: Duration(defaults.DefaultMQTTConnectTimeout),
			TLS: TLSConfig{
				Enabled: true,
			},
			Reconnect: ReconnectConfig{
				Min: Duration(defaults.DefaultReconnectMin),
				Max: Duration(defaults.DefaultReconnectMax),
			},
			EventBuffer: defaults.DefaultEventBufferSize,
		},
		Backlog: BacklogConfig{
			CheckInterval: Duration(defaults.DefaultBacklogCheckInterval),
			Warning:       0.50,
			Critical:      0.80,
			Emergency:     0.95,
			Hysteresis:    0.10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// =============================================================================
// Load
// =============================================================================

// Load reads the YAML file at path over DefaultConfig and applies
// environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands ${VAR} references in data and decodes it over DefaultConfig.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Environment variables that override the MQTT section.
const (
	EnvBroker   = "MQTT_BROKER"
	EnvPort     = "MQTT_PORT"
	EnvUsername = "MQTT_USERNAME"
	EnvPassword = "MQTT_PASSWORD"
	EnvTopic    = "MQTT_TOPIC"
)

// ApplyEnv overrides MQTT settings from the environment.
// Empty variables are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvBroker, &c.MQTT.Broker)
	set(EnvUsername, &c.MQTT.Username)
	set(EnvPassword, &c.MQTT.Password)
	set(EnvTopic, &c.MQTT.Topic)

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewValidation(EnvPort, fmt.Sprintf("not a number: %q", v))
		}
		c.MQTT.Port = port
	}

	return nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	// Server
	if c.Server.Listen == "" {
		errs.AddField("server.listen", "cannot be empty")
	}
	if c.Server.MaxLimit < 1 {
		errs.AddField("server.max_limit", "must be at least 1")
	}
	if c.Server.ReadHeaderTimeout < 0 {
		errs.AddField("server.read_header_timeout", "cannot be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		errs.AddField("server.shutdown_timeout", "cannot be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs.AddField("server.tls_cert_file", "must be set together with server.tls_key_file")
	}

	// Store
	if c.Store.Capacity < 1 {
		errs.AddField("store.capacity", "must be at least 1")
	}

	// Features
	if c.Features.Percentiles {
		if acc := c.Features.PercentileAccuracy; acc <= 0 || acc >= 1 {
			errs.AddField("features.percentile_accuracy", "must be between 0 and 1")
		}
	}

	// Export
	switch c.Export.Compression {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		errs.AddField("export.compression", "must be one of: none, snappy, zstd, lz4, gzip")
	}

	// MQTT
	if c.MQTT.Broker == "" {
		errs.AddField("mqtt.broker", "cannot be empty (set "+EnvBroker+")")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs.AddField("mqtt.port", "must be between 1 and 65535")
	}
	if err := validation.ValidateTopicFilter(c.MQTT.Topic); err != nil {
		errs.AddField("mqtt.topic", err.Error())
	}
	if ka := c.MQTT.KeepAlive.Duration(); ka < 0 || ka > 65535*time.Second {
		errs.AddField("mqtt.keep_alive", "must be between 0 and 65535s")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs.AddField("mqtt.connect_timeout", "must be positive")
	}
	if c.MQTT.Reconnect.Min <= 0 {
		errs.AddField("mqtt.reconnect.min", "must be positive")
	}
	if c.MQTT.Reconnect.Max < c.MQTT.Reconnect.Min {
		errs.AddField("mqtt.reconnect.max", "must be >= mqtt.reconnect.min")
	}
	if c.MQTT.EventBuffer < 1 {
		errs.AddField("mqtt.event_buffer", "must be at least 1")
	}
	if c.MQTT.TLS.CAFile != "" && !c.MQTT.TLS.Enabled {
		errs.AddField("mqtt.tls.ca_file", "requires mqtt.tls.enabled")
	}

	// Backlog
	if c.Backlog.CheckInterval <= 0 {
		errs.AddField("backlog.check_interval", "must be positive")
	}
	if b := c.Backlog; b.Warning <= 0 || b.Warning >= b.Critical || b.Critical >= b.Emergency || b.Emergency > 1 {
		errs.AddField("backlog", "thresholds must satisfy 0 < warning < critical < emergency <= 1")
	}
	if h := c.Backlog.Hysteresis; h < 0 || h >= c.Backlog.Warning {
		errs.AddField("backlog.hysteresis", "must be between 0 and backlog.warning")
	}

	// Admin
	if c.Admin.Token != "" && !c.Admin.EnableClear {
		errs.AddField("admin.token", "has no effect unless admin.enable_clear is set")
	}

	// Log
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs.AddField("log.level", err.Error())
	}
	if c.Log.Format != logging.FormatText && c.Log.Format != logging.FormatJSON {
		errs.AddField("log.format", "must be text or json")
	}

	return errs.Err()
}

// ParquetOptions returns the export writer options.
func (c *Config) ParquetOptions() parquet.Options {
	return parquet.Options{Compression: parquet.ParseCompressionType(c.Export.Compression)}
}

// BackpressureConfig returns the event queue monitor settings.
func (c *Config) BackpressureConfig() backpressure.Config {
	return backpressure.Config{
		Thresholds: backpressure.Thresholds{
			Warning:   c.Backlog.Warning,
			Critical:  c.Backlog.Critical,
			Emergency: c.Backlog.Emergency,
		},
		Hysteresis: c.Backlog.Hysteresis,
	}
}

// LogLevel returns the parsed log level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}
