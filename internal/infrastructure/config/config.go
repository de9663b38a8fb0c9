package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minJWTSecretLength is the shortest signing secret accepted at startup.
const minJWTSecretLength = 32

// Throttle backends.
const (
	ThrottleBackendMemory = "memory"
	ThrottleBackendRedis  = "redis"
)

// Config is the root configuration structure for Gatekeeper.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	TLS           TLSConfig        `yaml:"tls"`
	Timeouts      APITimeoutConfig `yaml:"timeouts"`
	CORS          CORSConfig       `yaml:"cors"`
	SessionCookie string           `yaml:"session_cookie"`
	MaxBodyBytes  int64            `yaml:"max_body_bytes"`
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

// WebSocketConfig contains settings for the live audit feed.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// RedisConfig contains the Redis connection used by the shared throttle backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// MQTTConfig contains MQTT broker connection settings for audit fan-out.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for security metrics.
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

// SecurityConfig contains authentication and screening settings.
type SecurityConfig struct {
	JWT        JWTConfig      `yaml:"jwt"`
	APIKeys    APIKeyConfig   `yaml:"api_keys"`
	Throttle   ThrottleConfig `yaml:"throttle"`
	Guard      GuardConfig    `yaml:"guard"`
	Password   PasswordConfig `yaml:"password"`
	AdminEmail string         `yaml:"admin_email"`

	// SessionTTL is the sliding inactivity window of a session, in seconds.
	SessionTTL int `yaml:"session_ttl"`
}

// JWTConfig contains the bearer token signing secret.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// APIKeyConfig gates the API behind static keys sent in x-api-key.
type APIKeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []string `yaml:"keys"`
}

// ThrottleConfig selects where login failure counters live.
type ThrottleConfig struct {
	Backend         string `yaml:"backend"`
	CleanupInterval int    `yaml:"cleanup_interval"`
}

// GuardConfig configures the injection guard.
type GuardConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// PasswordConfig holds the Argon2id cost used for new hashes.
type PasswordConfig struct {
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memory_kib"`
	Threads   uint8  `yaml:"threads"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern GATEKEEPER_SECTION_KEY, for
// example GATEKEEPER_DATABASE_PATH or GATEKEEPER_JWT_SECRET.
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
		Database: DatabaseConfig{
			Path:        "./data/gatekeeper.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			SessionCookie: "sessionId",
			MaxBodyBytes:  1 << 20,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gatekeeper",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "security",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Throttle: ThrottleConfig{
				Backend:         ThrottleBackendMemory,
				CleanupInterval: 60,
			},
			Guard: GuardConfig{
				MaxDepth: 32,
			},
			AdminEmail: "admin@localhost.localdomain",
			SessionTTL: 1800,
		},
	}
}

// applyEnvOverrides applies GATEKEEPER_* environment variables.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GATEKEEPER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("GATEKEEPER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Redis
	if v := os.Getenv("GATEKEEPER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GATEKEEPER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// MQTT
	if v := os.Getenv("GATEKEEPER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GATEKEEPER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GATEKEEPER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GATEKEEPER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security. The JWT secret should always come from the environment in production.
	if v := os.Getenv("GATEKEEPER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("GATEKEEPER_API_KEYS"); v != "" {
		cfg.Security.APIKeys.Keys = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.SessionCookie == "" {
		errs = append(errs, "api.session_cookie is required")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when TLS is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
	}

	// The signing secret is the one setting the process cannot start without.
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GATEKEEPER_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Security.APIKeys.Enabled && len(c.Security.APIKeys.Keys) == 0 {
		errs = append(errs, "security.api_keys.keys must not be empty when api keys are enabled")
	}

	switch c.Security.Throttle.Backend {
	case ThrottleBackendMemory:
	case ThrottleBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis throttle backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("security.throttle.backend must be %q or %q", ThrottleBackendMemory, ThrottleBackendRedis))
	}

	if c.Security.SessionTTL < 60 {
		errs = append(errs, "security.session_ttl must be at least 60 seconds")
	}

	if c.Security.Guard.MaxDepth < 1 {
		errs = append(errs, "security.guard.max_depth must be at least 1")
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

// GetThrottleCleanupInterval returns the memory throttle sweep interval.
func (c *Config) GetThrottleCleanupInterval() time.Duration {
	return time.Duration(c.Security.Throttle.CleanupInterval) * time.Second
}

// GetSessionTTL returns the sliding session lifetime as a Duration.
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.Security.SessionTTL) * time.Second
}
