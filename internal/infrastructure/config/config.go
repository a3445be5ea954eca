package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the spool scale core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	Backend      BackendConfig      `yaml:"backend"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Printer      PrinterConfig      `yaml:"printer"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Scale        ScaleConfig        `yaml:"scale"`
	Queue        QueueConfig        `yaml:"queue"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
	System       SystemConfig       `yaml:"system"`
	Display      DisplayConfig      `yaml:"display"`
	Drivers      []DriverConfig     `yaml:"drivers"`
}

// DeviceConfig identifies this scale.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BackendConfig contains the inventory backend settings.
type BackendConfig struct {
	// URL is used until a registration stores its own URL.
	URL               string               `yaml:"url"`
	HeartbeatInterval time.Duration        `yaml:"heartbeat_interval"`
	Timeouts          BackendTimeoutConfig `yaml:"timeouts"`
}

// BackendTimeoutConfig bounds each kind of backend call.
type BackendTimeoutConfig struct {
	Register   time.Duration `yaml:"register"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
	Weight     time.Duration `yaml:"weight"`
	Locate     time.Duration `yaml:"locate"`
	RfidResult time.Duration `yaml:"rfid_result"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains settings for the local hardware bus broker.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	// InsecureSkipVerify accepts self-signed broker certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
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

// PrinterConfig contains the optional printer control channel settings.
type PrinterConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Serial     string `yaml:"serial"`
	AccessCode string `yaml:"access_code"`
	Model      string `yaml:"model"`
	// AutoSend pushes the filament of every stable read to the selected tray.
	AutoSend bool `yaml:"autosend"`
	// AutoSendTray is the global tray index used by AutoSend.
	AutoSendTray int `yaml:"autosend_tray"`
}

// APIConfig contains the local UI HTTP server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	// WebDir holds the installed web pages. Empty serves the built-in page.
	WebDir string `yaml:"web_dir"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// RateLimitConfig limits mutating UI requests per client IP.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// WebSocketConfig contains WebSocket server settings.
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// DeviceID is copied from device.id by Load.
	DeviceID string `yaml:"-"`
}

// ScaleConfig tunes weight stability detection.
type ScaleConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	// Tolerance is the largest change in grams still counted as stable.
	Tolerance int `yaml:"tolerance"`
	// MinWeight is the weight in grams a reading must exceed to count.
	MinWeight int `yaml:"min_weight"`
	// StableSamples is how many consecutive stable samples must be exceeded.
	StableSamples int `yaml:"stable_samples"`
}

// QueueConfig sizes the outbound request queue and its dispatcher.
type QueueConfig struct {
	Capacity         int           `yaml:"capacity"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	EnqueueWait      time.Duration `yaml:"enqueue_wait"`
	ClaimWait        time.Duration `yaml:"claim_wait"`
}

// ConnectivityConfig configures the network link watchdog.
type ConnectivityConfig struct {
	Interface     string        `yaml:"interface"`
	CheckInterval time.Duration `yaml:"check_interval"`
	MaxFailures   int           `yaml:"max_failures"`
}

// WatchdogConfig configures the orchestrator loop and its liveness supervisor.
type WatchdogConfig struct {
	LoopInterval    time.Duration `yaml:"loop_interval"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	StatusInterval  time.Duration `yaml:"status_interval"`
}

// SystemConfig contains host integration settings.
type SystemConfig struct {
	// RestartCommand reboots the appliance. Empty exits the process and
	// leaves the restart to the service manager.
	RestartCommand []string `yaml:"restart_command"`
}

// DisplayConfig selects where display frames go.
type DisplayConfig struct {
	// Headless writes frames to the log instead of the hardware bus.
	Headless bool `yaml:"headless"`
}

// DriverConfig describes a hardware driver process supervised by the core.
type DriverConfig struct {
	Name         string        `yaml:"name"`
	Binary       string        `yaml:"binary"`
	Args         []string      `yaml:"args"`
	Env          []string      `yaml:"env"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	MaxRestarts  int           `yaml:"max_restarts"`
	// StaleAfter restarts a driver that has been silent on the hardware
	// bus this long. Zero disables the check.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern SPOOLSCALE_SECTION_KEY,
// for example SPOOLSCALE_DATABASE_PATH or SPOOLSCALE_BACKEND_URL.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.Logging.DeviceID = cfg.Device.ID

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no configuration file exists yet on a fresh device.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	cfg.Logging.DeviceID = cfg.Device.ID
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "spoolscale",
			Name: "Spool Scale",
		},
		Backend: BackendConfig{
			HeartbeatInterval: 30 * time.Second,
			Timeouts: BackendTimeoutConfig{
				Register:   5 * time.Second,
				Heartbeat:  3 * time.Second,
				Weight:     3 * time.Second,
				Locate:     3 * time.Second,
				RfidResult: 5 * time.Second,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/spoolscale.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "spoolscale-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "spoolscale",
		},
		Printer: PrinterConfig{
			Port: 8883,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             5,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Scale: ScaleConfig{
			SampleInterval: time.Second,
			Tolerance:      2,
			MinWeight:      5,
			StableSamples:  3,
		},
		Queue: QueueConfig{
			Capacity:         10,
			DispatchInterval: time.Second,
			EnqueueWait:      50 * time.Millisecond,
			ClaimWait:        100 * time.Millisecond,
		},
		Connectivity: ConnectivityConfig{
			Interface:     "wlan0",
			CheckInterval: time.Minute,
			MaxFailures:   5,
		},
		Watchdog: WatchdogConfig{
			LoopInterval:    50 * time.Millisecond,
			LivenessTimeout: 10 * time.Second,
			StatusInterval:  5 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPOOLSCALE_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}

	// Backend
	if v := os.Getenv("SPOOLSCALE_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}

	// Database
	if v := os.Getenv("SPOOLSCALE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SPOOLSCALE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SPOOLSCALE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SPOOLSCALE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Printer
	if v := os.Getenv("SPOOLSCALE_PRINTER_HOST"); v != "" {
		cfg.Printer.Host = v
	}
	if v := os.Getenv("SPOOLSCALE_PRINTER_ACCESS_CODE"); v != "" {
		cfg.Printer.AccessCode = v
	}

	// API
	if v := os.Getenv("SPOOLSCALE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SPOOLSCALE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("SPOOLSCALE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SPOOLSCALE_CONNECTIVITY_INTERFACE"); v != "" {
		cfg.Connectivity.Interface = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together.
//
// Returns:
//   - error: nil if valid, otherwise one error listing every problem
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Printer.Enabled {
		if c.Printer.Host == "" {
			errs = append(errs, "printer.host is required when printer is enabled")
		}
		if c.Printer.Serial == "" {
			errs = append(errs, "printer.serial is required when printer is enabled")
		}
		if c.Printer.AccessCode == "" {
			errs = append(errs, "printer.access_code is required (set SPOOLSCALE_PRINTER_ACCESS_CODE environment variable)")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Scale.SampleInterval <= 0 {
		errs = append(errs, "scale.sample_interval must be positive")
	}
	if c.Scale.Tolerance < 0 {
		errs = append(errs, "scale.tolerance must not be negative")
	}
	if c.Scale.StableSamples < 1 {
		errs = append(errs, "scale.stable_samples must be at least 1")
	}

	if c.Queue.Capacity < 1 {
		errs = append(errs, "queue.capacity must be at least 1")
	}
	if c.Queue.DispatchInterval <= 0 {
		errs = append(errs, "queue.dispatch_interval must be positive")
	}
	if c.Queue.EnqueueWait <= 0 || c.Queue.ClaimWait <= 0 {
		errs = append(errs, "queue.enqueue_wait and queue.claim_wait must be positive")
	}

	if c.Connectivity.MaxFailures < 1 {
		errs = append(errs, "connectivity.max_failures must be at least 1")
	}
	if c.Connectivity.CheckInterval <= 0 {
		errs = append(errs, "connectivity.check_interval must be positive")
	}

	if c.Watchdog.LoopInterval <= 0 {
		errs = append(errs, "watchdog.loop_interval must be positive")
	}
	if c.Watchdog.LivenessTimeout <= c.Watchdog.LoopInterval {
		errs = append(errs, "watchdog.liveness_timeout must exceed watchdog.loop_interval")
	}

	seen := make(map[string]bool, len(c.Drivers))
	for i, d := range c.Drivers {
		if d.Name == "" || d.Binary == "" {
			errs = append(errs, fmt.Sprintf("drivers[%d]: name and binary are required", i))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("drivers[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
