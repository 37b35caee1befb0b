package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	dbconfig "rollcall/pkg/database"
)

// EnvPrefix is prepended to every environment key, e.g. ROLLCALL_HTTP_PORT
const EnvPrefix = "ROLLCALL"

// DotEnvPath is loaded into the environment before env keys are read.
// Variables already set in the environment win.
var DotEnvPath = ".env"

// Config is the full runtime configuration
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Log       *LogConfig       `json:"log"`
	Limits    *LimitsConfig    `json:"limits"`
}

type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

type HTTPConfig struct {
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	Host           string        `json:"host"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// WebSocketConfig controls the transport. OutboxLimit is the number of
// undelivered events a client may fall behind before it is disconnected.
type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
	OutboxLimit     int           `json:"outbox_limit"`
}

// AuthConfig holds credential settings. ServiceKey authorises the
// operational API for the REST layer; empty disables it.
type AuthConfig struct {
	JWTSecret  string        `json:"jwt_secret"`
	Issuer     string        `json:"issuer"`
	ServiceKey string        `json:"service_key"`
	Leeway     time.Duration `json:"leeway"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LimitsConfig bounds inbound events per connection
type LimitsConfig struct {
	EventsPerSecond float64 `json:"events_per_second"`
	Burst           int     `json:"burst"`
}

// DefaultConfig returns production defaults. The JWT secret has no default
// and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/rollcall.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageBytes: 64 * 1024,
			OutboxLimit:     256,
		},
		Auth: &AuthConfig{
			Leeway: 30 * time.Second,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "console",
		},
		Limits: &LimitsConfig{
			EventsPerSecond: 10,
			Burst:           20,
		},
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Auth == nil || c.Log == nil || c.Limits == nil {
		return fmt.Errorf("every configuration section is required")
	}

	if c.Database.Path == "" {
		fail("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		fail("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		fail("database max connections must be positive")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		fail("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		fail("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		fail("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		fail("HTTP host cannot be empty")
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		fail("HTTP allowed origins cannot be empty, use * to allow any")
	}

	if c.WebSocket.PingInterval <= 0 {
		fail("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		fail("WebSocket read timeout must be longer than the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		fail("WebSocket write timeout must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		fail("WebSocket max message bytes must be positive")
	}
	if c.WebSocket.OutboxLimit <= 0 {
		fail("WebSocket outbox limit must be positive")
	}

	if c.Auth.JWTSecret == "" {
		fail("auth JWT secret is required")
	}
	if c.Auth.Leeway < 0 {
		fail("auth leeway cannot be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		fail("log level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		fail("log format %q must be console or json", c.Log.Format)
	}

	if c.Limits.EventsPerSecond <= 0 {
		fail("limits events per second must be positive")
	}
	if c.Limits.Burst <= 0 {
		fail("limits burst must be positive")
	}

	return result.ErrorOrNil()
}

// DatabaseConfig converts the database section for the storage layer
func (c *Config) DatabaseConfig() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Database.Path
	db.MaxConnections = c.Database.MaxConnections
	db.BusyTimeout = c.Database.Timeout
	return db
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv returns defaults overridden by ROLLCALL_* variables,
// after loading DotEnvPath if it exists.
func LoadFromEnv() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	v := newViper()
	v.AutomaticEnv()
	return fromViper(v)
}

// LoadFromFile returns defaults overridden by a JSON, YAML or TOML file.
// Environment variables are not consulted.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	if err := readFile(v, path); err != nil {
		return nil, err
	}
	cfg, err := fromViper(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence merges all sources: environment over file over
// defaults. An empty path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	v := newViper()
	if path != "" {
		if err := readFile(v, path); err != nil {
			return nil, err
		}
	}
	v.AutomaticEnv()
	return fromViper(v)
}

func loadDotEnv() error {
	if DotEnvPath == "" {
		return nil
	}
	if _, err := os.Stat(DotEnvPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", DotEnvPath, err)
	}
	if err := godotenv.Load(DotEnvPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", DotEnvPath, err)
	}
	return nil
}

func readFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "yml" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

func newViper() *viper.Viper {
	d := DefaultConfig()
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	// a list default keeps file lists intact under SetTypeByDefaultValue;
	// env values arrive as one string and are split by stringList
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.max_message_bytes", d.WebSocket.MaxMessageBytes)
	v.SetDefault("websocket.outbox_limit", d.WebSocket.OutboxLimit)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.service_key", d.Auth.ServiceKey)
	v.SetDefault("auth.leeway", d.Auth.Leeway)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("limits.events_per_second", d.Limits.EventsPerSecond)
	v.SetDefault("limits.burst", d.Limits.Burst)
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: &DatabaseConfig{
			Path:           v.GetString("database.path"),
			Timeout:        v.GetDuration("database.timeout"),
			MaxConnections: v.GetInt("database.max_connections"),
		},
		HTTP: &HTTPConfig{
			Host:           v.GetString("http.host"),
			Port:           v.GetInt("http.port"),
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			AllowedOrigins: stringList(v.Get("http.allowed_origins")),
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    v.GetDuration("websocket.ping_interval"),
			ReadTimeout:     v.GetDuration("websocket.read_timeout"),
			WriteTimeout:    v.GetDuration("websocket.write_timeout"),
			MaxMessageBytes: v.GetInt64("websocket.max_message_bytes"),
			OutboxLimit:     v.GetInt("websocket.outbox_limit"),
		},
		Auth: &AuthConfig{
			JWTSecret:  v.GetString("auth.jwt_secret"),
			Issuer:     v.GetString("auth.issuer"),
			ServiceKey: v.GetString("auth.service_key"),
			Leeway:     v.GetDuration("auth.leeway"),
		},
		Log: &LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Limits: &LimitsConfig{
			EventsPerSecond: v.GetFloat64("limits.events_per_second"),
			Burst:           v.GetInt("limits.burst"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringList accepts a comma separated string or a list from a config file.
// List items are split on commas too, since viper casts an env string to a
// slice by whitespace.
func stringList(value interface{}) []string {
	var raw []string
	switch v := value.(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []interface{}:
		for _, item := range v {
			raw = append(raw, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
