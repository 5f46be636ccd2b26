// Package config provides configuration management for the bridge.
// It supports a YAML config file, TIMNET_* environment variables and
// defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/martinkalmus/ha-timnet/internal/domain"
)

// Config holds all configuration for the bridge.
type Config struct {
	// Device holds the connection parameters of the heating controller
	Device DeviceConfig `mapstructure:"device"`

	// HTTP server configuration
	HTTP HTTPConfig `mapstructure:"http"`

	// MQTT publisher configuration; publishing is disabled while
	// BrokerURL is empty
	MQTT MQTTConfig `mapstructure:"mqtt"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// OverridesPath points to an optional register-overrides YAML file
	OverridesPath string `mapstructure:"overrides_path"`
}

// DeviceConfig holds the TimNet connection parameters.
type DeviceConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// UnitID is the Modbus unit/slave identifier (1-247)
	UnitID uint8 `mapstructure:"unit_id"`

	// ScanInterval is the polling period
	ScanInterval time.Duration `mapstructure:"scan_interval"`

	// IdleTimeout is the device's own idle-disconnect timeout
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ReadTimeout bounds one block read; must be shorter than IdleTimeout
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Address returns the host:port dial string.
func (d DeviceConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	Retain         bool          `mapstructure:"retain"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
}

// Enabled reports whether MQTT publishing is configured.
func (m MQTTConfig) Enabled() bool {
	return m.BrokerURL != ""
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout, stderr, or file path
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/timnet-bridge")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	v.SetEnvPrefix("TIMNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values. The scan interval and the
// device idle timeout follow the TimNet manual (8 s scan, 10 s idle
// disconnect).
func setDefaults(v *viper.Viper) {
	v.SetDefault("device.port", 502)
	v.SetDefault("device.unit_id", 1)
	v.SetDefault("device.scan_interval", 8*time.Second)
	v.SetDefault("device.idle_timeout", 10*time.Second)
	v.SetDefault("device.read_timeout", 3*time.Second)

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("mqtt.client_id", "timnet-bridge")
	v.SetDefault("mqtt.topic_prefix", "timnet")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", true)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)
	v.SetDefault("mqtt.buffer_size", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// bindEnvVars binds well-known environment variables to config keys.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("device.host", "TIMNET_HOST")
	_ = v.BindEnv("device.port", "TIMNET_PORT")
	_ = v.BindEnv("device.unit_id", "TIMNET_UNIT_ID")
	_ = v.BindEnv("device.scan_interval", "TIMNET_SCAN_INTERVAL")

	_ = v.BindEnv("mqtt.broker_url", "MQTT_BROKER_URL")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Device.Host == "" {
		return domain.ErrHostRequired
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("invalid device port: %d", c.Device.Port)
	}
	if c.Device.UnitID == 0 || c.Device.UnitID > 247 {
		return domain.ErrInvalidUnitID
	}
	if c.Device.ScanInterval < time.Second {
		return domain.ErrScanIntervalTooShort
	}
	if c.Device.ReadTimeout >= c.Device.IdleTimeout {
		return domain.ErrTimeoutTooLong
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	return nil
}
