package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the garden core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	ClickHouse   ClickHouseConfig   `yaml:"clickhouse"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
	Vision       VisionConfig       `yaml:"vision"`
	SmartControl SmartControlConfig `yaml:"smart_control"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP control API settings.
type APIConfig struct {
	Host           string           `yaml:"host"`
	Port           int              `yaml:"port"`
	Timeouts       APITimeoutConfig `yaml:"timeouts"`
	CORS           CORSConfig       `yaml:"cors"`
	MaxUploadBytes int64            `yaml:"max_upload_bytes"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket hub settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ClickHouseConfig contains settings for the optional sensor-reading archive.
type ClickHouseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DialTimeout int    `yaml:"dial_timeout"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// VisionConfig points at the leaf-disease classification service.
type VisionConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"`

	// Command, when set, makes garden core start and supervise the
	// pipeline server itself: the executable followed by its arguments.
	Command []string `yaml:"command"`
	WorkDir string   `yaml:"work_dir"`

	// ReadyTimeout is how long startup waits for the server to accept
	// connections, in seconds.
	ReadyTimeout int `yaml:"ready_timeout"`
}

// SmartControlConfig tunes the autonomous rule engine.
type SmartControlConfig struct {
	// PolicyFile optionally replaces the built-in disease policy table.
	PolicyFile string `yaml:"policy_file"`

	// MinConfidence is the diagnosis confidence below which no action is taken.
	MinConfidence float64 `yaml:"min_confidence"`

	// PumpWindowStart and PumpWindowEnd bound irrigation to local hours, inclusive.
	PumpWindowStart int `yaml:"pump_window_start"`
	PumpWindowEnd   int `yaml:"pump_window_end"`

	// AutoTrigger runs a control cycle whenever a new diagnosis is stored.
	AutoTrigger bool `yaml:"auto_trigger"`

	// StopOnShutdown publishes stop commands for pending actions when the core exits.
	StopOnShutdown bool `yaml:"stop_on_shutdown"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file in the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: GARDEN_SECTION_KEY
// For example: GARDEN_DATABASE_PATH, GARDEN_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// godotenv never overwrites variables already set in the process.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "garden-001",
			Name:     "Smart Garden",
			Timezone: "Local",
		},
		Database: DatabaseConfig{
			Path:        "./data/garden.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "garden-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
			MaxUploadBytes: 10 << 20,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "garden",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		ClickHouse: ClickHouseConfig{
			Addr:        "localhost:9000",
			Database:    "garden",
			Username:    "default",
			DialTimeout: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Vision: VisionConfig{
			URL:          "http://127.0.0.1:8000/predict",
			Timeout:      30,
			ReadyTimeout: 120,
		},
		SmartControl: SmartControlConfig{
			MinConfidence:   0.45,
			PumpWindowStart: 6,
			PumpWindowEnd:   18,
			StopOnShutdown:  true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GARDEN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GARDEN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GARDEN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GARDEN_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GARDEN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GARDEN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GARDEN_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Time-series sinks
	if v := os.Getenv("GARDEN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("GARDEN_CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}

	// Vision
	if v := os.Getenv("GARDEN_VISION_URL"); v != "" {
		cfg.Vision.URL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.ClickHouse.Enabled && c.ClickHouse.Addr == "" {
		errs = append(errs, "clickhouse.addr is required when clickhouse is enabled")
	}

	if c.Vision.URL == "" {
		errs = append(errs, "vision.url is required")
	} else if u, err := url.Parse(c.Vision.URL); err != nil || u.Host == "" {
		errs = append(errs, "vision.url must be an absolute URL")
	}
	if len(c.Vision.Command) > 0 && c.Vision.Command[0] == "" {
		errs = append(errs, "vision.command must start with an executable")
	}

	sc := c.SmartControl
	if sc.MinConfidence < 0 || sc.MinConfidence > 1 {
		errs = append(errs, "smart_control.min_confidence must be between 0 and 1")
	}
	if sc.PumpWindowStart < 0 || sc.PumpWindowEnd > 23 || sc.PumpWindowStart > sc.PumpWindowEnd {
		errs = append(errs, "smart_control pump window must satisfy 0 <= start <= end <= 23")
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone is invalid: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location resolves the site timezone used for the irrigation window.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Site.Timezone)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetVisionReadyTimeout returns how long startup waits for a supervised
// vision server.
func (c *Config) GetVisionReadyTimeout() time.Duration {
	return time.Duration(c.Vision.ReadyTimeout) * time.Second
}

// GetVisionTimeout returns the classification request timeout as a Duration.
func (c *Config) GetVisionTimeout() time.Duration {
	return time.Duration(c.Vision.Timeout) * time.Second
}
