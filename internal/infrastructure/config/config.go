package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Payload Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Camera    CameraConfig    `yaml:"camera"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the vehicle this payload is mounted on.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// Camera transport kinds.
const (
	TransportPTPIP = "ptpip"
	TransportSim   = "sim"
)

// CameraConfig contains camera link and engine settings.
type CameraConfig struct {
	// Transport selects the device link: "ptpip" or "sim".
	Transport string `yaml:"transport"`

	// Address is the camera's host:port. When empty and discovery is
	// enabled, the first _ptp._tcp responder found is used.
	Address string `yaml:"address"`

	// ClientName is sent to the camera during the PTP/IP init exchange.
	ClientName string `yaml:"client_name"`

	Discovery CameraDiscoveryConfig `yaml:"discovery"`

	// ConnectTimeout bounds dialling plus the SDIO handshake.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// TransactionTimeout bounds one device transaction.
	// Default: 5s
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`

	// ReconnectInterval is the initial delay between link re-establishment attempts.
	// Default: 5s
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	// EventPollTimeout is how long each event poll waits.
	// Default: 100ms
	EventPollTimeout time.Duration `yaml:"event_poll_timeout"`

	// ConfirmationTimeout bounds capture confirmation.
	// Default: 3s
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`

	// FocusTimeout bounds autofocus acquisition.
	// Default: 5s
	FocusTimeout time.Duration `yaml:"focus_timeout"`

	// DownloadPollMin and DownloadPollMax bound the backoff while the camera
	// is still writing an image.
	// Defaults: 100ms, 500ms
	DownloadPollMin time.Duration `yaml:"download_poll_min"`
	DownloadPollMax time.Duration `yaml:"download_poll_max"`

	// QueueSize is the inbound request buffer.
	// Default: 16
	QueueSize int `yaml:"queue_size"`

	// MinFocalLength is the lens focal length at the wide end, in mm.
	// Focal length zoom scales it by the reported magnification.
	// Default: 16
	MinFocalLength float64 `yaml:"min_focal_length"`

	// ZoomSettle is the wait after each step of the magnification sweep.
	// Default: 1s
	ZoomSettle time.Duration `yaml:"zoom_settle"`

	Sim SimConfig `yaml:"sim"`
}

// CameraDiscoveryConfig contains mDNS discovery settings.
type CameraDiscoveryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interface string        `yaml:"interface"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SimConfig tunes the simulated camera.
type SimConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"`
	FocusDelay  time.Duration `yaml:"focus_delay"`
	CardFiles   int           `yaml:"card_files"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often the camera bridge publishes health.
	// Default: 30s
	HealthInterval time.Duration `yaml:"health_interval"`

	// PublishImages attaches image bytes to download envelopes.
	PublishImages bool `yaml:"publish_images"`
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
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// OperatorKey is exchanged for an operator access token at /auth/token.
	OperatorKey string `yaml:"operator_key"`

	// ObserverKey, when set, is exchanged for a read-only access token.
	ObserverKey string `yaml:"observer_key"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PAYLOAD_SECTION_KEY
// For example: PAYLOAD_CAMERA_ADDRESS, PAYLOAD_MQTT_HOST
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
		Site: SiteConfig{
			ID:       "uav-001",
			Name:     "Payload",
			Timezone: "UTC",
		},
		Camera: CameraConfig{
			Transport:           TransportPTPIP,
			ClientName:          "payload-core",
			Discovery:           CameraDiscoveryConfig{Timeout: 3 * time.Second},
			ConnectTimeout:      10 * time.Second,
			TransactionTimeout:  5 * time.Second,
			ReconnectInterval:   5 * time.Second,
			EventPollTimeout:    100 * time.Millisecond,
			ConfirmationTimeout: 3 * time.Second,
			FocusTimeout:        5 * time.Second,
			DownloadPollMin:     100 * time.Millisecond,
			DownloadPollMax:     500 * time.Millisecond,
			QueueSize:           16,
			MinFocalLength:      16,
			ZoomSettle:          time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/payload.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "payload-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30 * time.Second,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120, // file downloads
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PAYLOAD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Site
	if v := os.Getenv("PAYLOAD_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}

	// Camera
	if v := os.Getenv("PAYLOAD_CAMERA_TRANSPORT"); v != "" {
		cfg.Camera.Transport = v
	}
	if v := os.Getenv("PAYLOAD_CAMERA_ADDRESS"); v != "" {
		cfg.Camera.Address = v
	}

	// Database
	if v := os.Getenv("PAYLOAD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PAYLOAD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PAYLOAD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PAYLOAD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PAYLOAD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PAYLOAD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("PAYLOAD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("PAYLOAD_OPERATOR_KEY"); v != "" {
		cfg.Security.OperatorKey = v
	}
	if v := os.Getenv("PAYLOAD_OBSERVER_KEY"); v != "" {
		cfg.Security.ObserverKey = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Camera validation
	switch c.Camera.Transport {
	case TransportPTPIP:
		if c.Camera.Address == "" && !c.Camera.Discovery.Enabled {
			errs = append(errs, "camera.address is required unless camera.discovery.enabled is set")
		}
	case TransportSim:
	default:
		errs = append(errs, fmt.Sprintf("camera.transport must be %q or %q", TransportPTPIP, TransportSim))
	}
	if c.Camera.MinFocalLength < 0 {
		errs = append(errs, "camera.min_focal_length must not be negative")
	}
	if c.Camera.DownloadPollMax < c.Camera.DownloadPollMin {
		errs = append(errs, "camera.download_poll_max must not be below camera.download_poll_min")
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

	// The API drives hardware on an airborne vehicle; tokens must not be forgeable.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set PAYLOAD_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.OperatorKey == "" {
		errs = append(errs, "security.operator_key is required (set PAYLOAD_OPERATOR_KEY environment variable)")
	} else if c.Security.ObserverKey == c.Security.OperatorKey {
		errs = append(errs, "security.observer_key must differ from security.operator_key")
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
