package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when LMBRIDGE_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for lmbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// CloudConfig contains the vendor cloud account and client tuning.
type CloudConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url"`

	// RequestTimeout bounds each REST call (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// CommandTimeout is how long a command waits for the machine to
	// confirm it over the dashboard stream (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds a stream's exponential reconnect backoff.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DeviceConfig describes one machine or grinder to manage.
type DeviceConfig struct {
	Serial string `yaml:"serial"`
	Name   string `yaml:"name"`

	// Grinder marks a Pico or Swan. Grinders have no Bluetooth or stream.
	Grinder bool `yaml:"grinder"`

	Local     LocalDeviceConfig     `yaml:"local"`
	Bluetooth BluetoothDeviceConfig `yaml:"bluetooth"`

	// PollInterval is how often the dashboard is re-read when the push
	// stream is down (seconds).
	PollInterval int `yaml:"poll_interval"`
}

// LocalDeviceConfig enables the machine's own API.
type LocalDeviceConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`

	// Stream opens the local event stream. It disconnects the vendor app.
	Stream bool `yaml:"stream"`
}

// BluetoothDeviceConfig enables the BLE link to one machine.
type BluetoothDeviceConfig struct {
	Address string `yaml:"address"`
	// Token overrides the one reported by the cloud dashboard.
	Token string `yaml:"token"`
}

// BluetoothConfig contains host adapter settings.
type BluetoothConfig struct {
	Enabled     bool `yaml:"enabled"`
	ScanTimeout int  `yaml:"scan_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the status page from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
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

// BridgeConfig tunes the background jobs of the serve command.
type BridgeConfig struct {
	// StatisticsInterval is how often drink counters are polled (seconds).
	StatisticsInterval int `yaml:"statistics_interval"`

	// HealthInterval is how often the health document is published (seconds).
	HealthInterval int `yaml:"health_interval"`

	// HistoryRetentionDays bounds the state history table. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	// CredentialPassphrase encrypts the installation key and tokens at rest.
	CredentialPassphrase string `yaml:"credential_passphrase"`
}

// Path returns the config file path from LMBRIDGE_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("LMBRIDGE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads path over the built-in defaults, applies LMBRIDGE_*
// environment overrides and validates the result.
//
// Parameters:
//   - path: YAML file to read, usually from Path
//
// Returns:
//   - *Config: Merged, validated configuration
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			RequestTimeout: 10,
			CommandTimeout: 10,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Bluetooth: BluetoothConfig{
			ScanTimeout: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/lmbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lmbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "lmbridge",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
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
		Bridge: BridgeConfig{
			StatisticsInterval:   900,
			HealthInterval:       30,
			HistoryRetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// stringEnv lists the LMBRIDGE_* variables that replace string settings.
// Secrets belong here rather than in the file.
func stringEnv(cfg *Config) map[string]*string {
	return map[string]*string{
		"LMBRIDGE_CLOUD_USERNAME":        &cfg.Cloud.Username,
		"LMBRIDGE_CLOUD_PASSWORD":        &cfg.Cloud.Password,
		"LMBRIDGE_DATABASE_PATH":         &cfg.Database.Path,
		"LMBRIDGE_MQTT_HOST":             &cfg.MQTT.Broker.Host,
		"LMBRIDGE_MQTT_USERNAME":         &cfg.MQTT.Auth.Username,
		"LMBRIDGE_MQTT_PASSWORD":         &cfg.MQTT.Auth.Password,
		"LMBRIDGE_API_HOST":              &cfg.API.Host,
		"LMBRIDGE_INFLUXDB_URL":          &cfg.InfluxDB.URL,
		"LMBRIDGE_INFLUXDB_TOKEN":        &cfg.InfluxDB.Token,
		"LMBRIDGE_LOG_LEVEL":             &cfg.Logging.Level,
		"LMBRIDGE_CREDENTIAL_PASSPHRASE": &cfg.Security.CredentialPassphrase,
	}
}

func intEnv(cfg *Config) map[string]*int {
	return map[string]*int{
		"LMBRIDGE_MQTT_PORT": &cfg.MQTT.Broker.Port,
		"LMBRIDGE_API_PORT":  &cfg.API.Port,
	}
}

// applyEnvOverrides copies set LMBRIDGE_* variables over the file values.
// Empty variables are ignored, as are ports that do not parse; Validate
// reports the file value instead.
func applyEnvOverrides(cfg *Config) {
	for key, field := range stringEnv(cfg) {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
	for key, field := range intEnv(cfg) {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*field = n
		}
	}
}

// minPassphraseLength is the shortest accepted credential passphrase.
const minPassphraseLength = 12

// problems collects validation failures so Validate reports all of them.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) check(ok bool, msg string) {
	if !ok {
		*p = append(*p, msg)
	}
}

// Validate reports every missing or inconsistent setting in one error.
//
// Returns:
//   - error: nil when valid, or one error listing every problem
func (c *Config) Validate() error {
	var p problems

	p.check(c.Cloud.Username != "" && c.Cloud.Password != "",
		"cloud.username and cloud.password are required (set LMBRIDGE_CLOUD_USERNAME and LMBRIDGE_CLOUD_PASSWORD)")
	c.validateDevices(&p)
	p.check(c.Database.Path != "", "database.path is required")
	p.check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	p.check(!c.MQTT.Enabled || strings.Trim(c.MQTT.TopicPrefix, "/") != "", "mqtt.topic_prefix is required")
	p.check(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")
	p.check(!c.InfluxDB.Enabled || (c.InfluxDB.URL != "" && c.InfluxDB.Org != "" && c.InfluxDB.Bucket != ""),
		"influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
	p.check(c.Logging.Output != "file" || c.Logging.File.Path != "",
		"logging.file.path is required when logging.output is file")

	// The installation key and tokens are only ever stored encrypted.
	switch pass := c.Security.CredentialPassphrase; {
	case pass == "":
		p.addf("security.credential_passphrase is required (set LMBRIDGE_CREDENTIAL_PASSPHRASE)")
	case len(pass) < minPassphraseLength:
		p.addf("security.credential_passphrase must be at least %d characters", minPassphraseLength)
	}

	if len(p) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(p, "; "))
	}
	return nil
}

func (c *Config) validateDevices(p *problems) {
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.Serial == "":
			p.addf("devices[%d].serial is required", i)
		case seen[d.Serial]:
			p.addf("devices[%d].serial %q is duplicated", i, d.Serial)
		}
		seen[d.Serial] = true

		if d.Local.Port < 0 || d.Local.Port > 65535 {
			p.addf("devices[%d].local.port must be between 0 and 65535", i)
		}
		if d.Local.Stream && d.Local.Host == "" {
			p.addf("devices[%d].local.stream requires local.host", i)
		}
		if d.Grinder && d.Bluetooth.Address != "" {
			p.addf("devices[%d]: grinders have no bluetooth link", i)
		}
	}
}

// Device returns the device entry with serial.
//
// Parameters:
//   - serial: Machine serial number
//
// Returns:
//   - DeviceConfig: The configured entry
//   - bool: false when serial is not configured
func (c *Config) Device(serial string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Serial == serial {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration { return seconds(c.API.Timeouts.Read) }

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration { return seconds(c.API.Timeouts.Idle) }

// GetRequestTimeout returns the cloud request timeout as a Duration.
func (c *CloudConfig) GetRequestTimeout() time.Duration { return seconds(c.RequestTimeout) }

// GetCommandTimeout returns the command confirmation timeout as a Duration.
func (c *CloudConfig) GetCommandTimeout() time.Duration { return seconds(c.CommandTimeout) }

// Backoff returns the reconnect bounds as Durations.
func (r ReconnectConfig) Backoff() (initial, maxDelay time.Duration) {
	return seconds(r.InitialDelay), seconds(r.MaxDelay)
}

// GetPollInterval returns the fallback poll interval, defaulting to 30s.
func (d DeviceConfig) GetPollInterval() time.Duration {
	if d.PollInterval <= 0 {
		return 30 * time.Second
	}
	return seconds(d.PollInterval)
}

// GetScanTimeout returns the BLE scan timeout as a Duration.
func (b BluetoothConfig) GetScanTimeout() time.Duration { return seconds(b.ScanTimeout) }

// GetStatisticsInterval returns the statistics poll interval as a Duration.
func (b BridgeConfig) GetStatisticsInterval() time.Duration { return seconds(b.StatisticsInterval) }

// GetHealthInterval returns the health publish interval as a Duration.
func (b BridgeConfig) GetHealthInterval() time.Duration { return seconds(b.HealthInterval) }

// GetHistoryRetention returns the history retention as a Duration.
func (b BridgeConfig) GetHistoryRetention() time.Duration {
	return time.Duration(b.HistoryRetentionDays) * 24 * time.Hour
}
