// Package config handles hub configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// Environment variables that override values from the config file.
const (
	EnvJWTSecret  = "OPENCHAT_JWT_SECRET"
	EnvStorageDSN = "OPENCHAT_STORAGE_DSN"
	EnvRedisAddr  = "OPENCHAT_REDIS_ADDR"
)

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level hub configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Router    RouterConfig    `json:"router,omitempty" yaml:"router,omitempty"`
	Presence  PresenceConfig  `json:"presence,omitempty" yaml:"presence,omitempty"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty" yaml:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty" yaml:"tls_key,omitempty"`
	UIStaticDir    string   `json:"ui_static_dir,omitempty" yaml:"ui_static_dir,omitempty"`     // path to built web client
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"` // CORS + WebSocket origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`   // default 1MB
}

// AuthConfig defines how connections are bound to users.
type AuthConfig struct {
	Provider     string        `json:"provider,omitempty" yaml:"provider,omitempty"` // "builtin" (default) or "jwks"
	JWTSecret    string        `json:"jwt_secret" yaml:"jwt_secret"`
	SessionTTL   Duration      `json:"session_ttl,omitempty" yaml:"session_ttl,omitempty"`
	CookieName   string        `json:"cookie_name,omitempty" yaml:"cookie_name,omitempty"` // default "openchat_session"
	CookieSecure bool          `json:"cookie_secure,omitempty" yaml:"cookie_secure,omitempty"`
	JWKSURL      string        `json:"jwks_url,omitempty" yaml:"jwks_url,omitempty"`
	Issuer       string        `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	InitialUsers []InitialUser `json:"initial_users,omitempty" yaml:"initial_users,omitempty"`
}

// InitialUser is created on first start if no user with that username exists.
type InitialUser struct {
	Username string `json:"username" yaml:"username"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Password string `json:"password" yaml:"password"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver    string   `json:"driver" yaml:"driver"`                           // "sqlite" (default) or "postgres"
	DSN       string   `json:"dsn" yaml:"dsn"`                                 // e.g. "openchat.db" or ":memory:"
	Retention Duration `json:"retention,omitempty" yaml:"retention,omitempty"` // how long expired sessions are kept
}

// RouterConfig defines message router behaviour.
type RouterConfig struct {
	ServiceTimeout    Duration `json:"service_timeout,omitempty" yaml:"service_timeout,omitempty"`     // per-message deadline; default 10s
	ConversationLoad  int      `json:"conversation_load,omitempty" yaml:"conversation_load,omitempty"` // default 20
	MaxMessageBytes   int64    `json:"max_message_bytes,omitempty" yaml:"max_message_bytes,omitempty"` // default 64KB
	MaxConnsPerUser   int      `json:"max_conns_per_user,omitempty" yaml:"max_conns_per_user,omitempty"`
	MessagesPerSecond float64  `json:"messages_per_second,omitempty" yaml:"messages_per_second,omitempty"`
	MessageBurst      int      `json:"message_burst,omitempty" yaml:"message_burst,omitempty"`
	BroadcastPresence bool     `json:"broadcast_presence,omitempty" yaml:"broadcast_presence,omitempty"`
}

// PresenceConfig selects where online status is recorded.
type PresenceConfig struct {
	Driver        string `json:"driver,omitempty" yaml:"driver,omitempty"` // "store" (default) or "redis"
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	KeyPrefix     string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines HTTP API rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty"`                             // default 20
}

// Duration is a JSON- and YAML-friendly time.Duration. It accepts either a
// Go duration string ("10s") or a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration at line %d", node.Line)
	}
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	dur, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Load reads and validates a config file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvStorageDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Presence.RedisAddr = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Auth.Provider {
	case "", "builtin":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required when provider is jwks")
		}
	default:
		return fmt.Errorf("auth.provider %q is not supported", c.Auth.Provider)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Presence.Driver {
	case "", "store":
	case "redis":
		if c.Presence.RedisAddr == "" {
			return fmt.Errorf("presence.redis_addr is required when driver is redis")
		}
	default:
		return fmt.Errorf("presence.driver %q is not supported", c.Presence.Driver)
	}
	if c.Router.ConversationLoad < 0 {
		return fmt.Errorf("router.conversation_load must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Provider == "" {
		c.Auth.Provider = "builtin"
	}
	if c.Auth.SessionTTL.Duration == 0 {
		c.Auth.SessionTTL.Duration = 24 * time.Hour
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "openchat_session"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "openchat.db"
	}
	if c.Storage.Retention.Duration == 0 {
		c.Storage.Retention.Duration = 7 * 24 * time.Hour
	}
	if c.Router.ServiceTimeout.Duration == 0 {
		c.Router.ServiceTimeout.Duration = 10 * time.Second
	}
	if c.Router.ConversationLoad == 0 {
		c.Router.ConversationLoad = 20
	}
	if c.Router.MaxMessageBytes == 0 {
		c.Router.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Router.MaxConnsPerUser == 0 {
		c.Router.MaxConnsPerUser = 10
	}
	if c.Router.MessagesPerSecond == 0 {
		c.Router.MessagesPerSecond = 30
	}
	if c.Router.MessageBurst == 0 {
		c.Router.MessageBurst = 50
	}
	if c.Presence.Driver == "" {
		c.Presence.Driver = "store"
	}
	if c.Presence.KeyPrefix == "" {
		c.Presence.KeyPrefix = "openchat:presence:"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
}
