package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	configJSON := `{
		"server": {
			"addr": ":8080",
			"allowed_origins": ["http://localhost:3000"]
		},
		"auth": {
			"jwt_secret": "my-super-secret-jwt-key-at-least-32",
			"session_ttl": "2h",
			"cookie_name": "chat_sid",
			"cookie_secure": true,
			"initial_users": [
				{"username": "alice", "name": "Alice", "password": "alice123"}
			]
		},
		"storage": {
			"driver": "sqlite",
			"dsn": "test.db",
			"retention": "72h"
		},
		"router": {
			"service_timeout": 5,
			"conversation_load": 30,
			"max_message_bytes": 32768,
			"max_conns_per_user": 3,
			"messages_per_second": 5,
			"message_burst": 8,
			"broadcast_presence": true
		},
		"presence": {
			"driver": "redis",
			"redis_addr": "localhost:6379",
			"redis_db": 2
		},
		"logging": {
			"level": "debug",
			"format": "text"
		},
		"rate_limit": {
			"requests_per_second": 20,
			"burst": 40
		}
	}`

	path := writeTempConfig(t, "config.json", configJSON)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Server
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr: got %q, want %q", cfg.Server.Addr, ":8080")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Server.AllowedOrigins: got %v, want [http://localhost:3000]", cfg.Server.AllowedOrigins)
	}

	// Auth
	if cfg.Auth.Provider != "builtin" {
		t.Errorf("Auth.Provider: got %q, want builtin", cfg.Auth.Provider)
	}
	if cfg.Auth.SessionTTL.Duration != 2*time.Hour {
		t.Errorf("Auth.SessionTTL: got %v, want 2h", cfg.Auth.SessionTTL.Duration)
	}
	if cfg.Auth.CookieName != "chat_sid" {
		t.Errorf("Auth.CookieName: got %q", cfg.Auth.CookieName)
	}
	if !cfg.Auth.CookieSecure {
		t.Error("Auth.CookieSecure: got false, want true")
	}
	if len(cfg.Auth.InitialUsers) != 1 || cfg.Auth.InitialUsers[0].Username != "alice" {
		t.Errorf("Auth.InitialUsers: got %+v", cfg.Auth.InitialUsers)
	}

	// Storage
	if cfg.Storage.DSN != "test.db" {
		t.Errorf("Storage.DSN: got %q, want %q", cfg.Storage.DSN, "test.db")
	}
	if cfg.Storage.Retention.Duration != 72*time.Hour {
		t.Errorf("Storage.Retention: got %v, want 72h", cfg.Storage.Retention.Duration)
	}

	// Router
	if cfg.Router.ServiceTimeout.Duration != 5*time.Second {
		t.Errorf("Router.ServiceTimeout: got %v, want 5s", cfg.Router.ServiceTimeout.Duration)
	}
	if cfg.Router.ConversationLoad != 30 {
		t.Errorf("Router.ConversationLoad: got %d, want 30", cfg.Router.ConversationLoad)
	}
	if cfg.Router.MaxMessageBytes != 32768 {
		t.Errorf("Router.MaxMessageBytes: got %d, want 32768", cfg.Router.MaxMessageBytes)
	}
	if cfg.Router.MaxConnsPerUser != 3 {
		t.Errorf("Router.MaxConnsPerUser: got %d, want 3", cfg.Router.MaxConnsPerUser)
	}
	if cfg.Router.MessagesPerSecond != 5 || cfg.Router.MessageBurst != 8 {
		t.Errorf("Router rate: got %v/%d, want 5/8", cfg.Router.MessagesPerSecond, cfg.Router.MessageBurst)
	}
	if !cfg.Router.BroadcastPresence {
		t.Error("Router.BroadcastPresence: got false, want true")
	}

	// Presence
	if cfg.Presence.Driver != "redis" || cfg.Presence.RedisAddr != "localhost:6379" || cfg.Presence.RedisDB != 2 {
		t.Errorf("Presence: got %+v", cfg.Presence)
	}
	if cfg.Presence.KeyPrefix != "openchat:presence:" {
		t.Errorf("Presence.KeyPrefix: got %q", cfg.Presence.KeyPrefix)
	}

	// Logging
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}

	// Rate limit
	if cfg.RateLimit.RequestsPerSecond != 20 {
		t.Errorf("RateLimit.RequestsPerSecond: got %f, want 20", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.RateLimit.Burst != 40 {
		t.Errorf("RateLimit.Burst: got %d, want 40", cfg.RateLimit.Burst)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	configYAML := `
server:
  addr: ":9090"
auth:
  jwt_secret: my-super-secret-jwt-key-at-least-32
  session_ttl: 90m
storage:
  driver: postgres
  dsn: postgres://chat@localhost/chat
router:
  service_timeout: 3
  conversation_load: 25
`
	path := writeTempConfig(t, "config.yaml", configYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr: got %q", cfg.Server.Addr)
	}
	if cfg.Auth.SessionTTL.Duration != 90*time.Minute {
		t.Errorf("Auth.SessionTTL: got %v, want 90m", cfg.Auth.SessionTTL.Duration)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver: got %q", cfg.Storage.Driver)
	}
	if cfg.Router.ServiceTimeout.Duration != 3*time.Second {
		t.Errorf("Router.ServiceTimeout: got %v, want 3s", cfg.Router.ServiceTimeout.Duration)
	}
	if cfg.Router.ConversationLoad != 25 {
		t.Errorf("Router.ConversationLoad: got %d, want 25", cfg.Router.ConversationLoad)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvJWTSecret, "env-secret-value-that-is-long-enough-for-hs256")
	t.Setenv(EnvStorageDSN, "/var/lib/openchat/env.db")
	t.Setenv(EnvRedisAddr, "redis:6379")

	path := writeTempConfig(t, "config.json", `{
		"server": {"addr": ":8080"},
		"presence": {"driver": "redis"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-secret-value-that-is-long-enough-for-hs256" {
		t.Errorf("Auth.JWTSecret not taken from env: %q", cfg.Auth.JWTSecret)
	}
	if cfg.Storage.DSN != "/var/lib/openchat/env.db" {
		t.Errorf("Storage.DSN not taken from env: %q", cfg.Storage.DSN)
	}
	if cfg.Presence.RedisAddr != "redis:6379" {
		t.Errorf("Presence.RedisAddr not taken from env: %q", cfg.Presence.RedisAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name:    "missing addr",
			config:  `{"server": {}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-us"}}`,
			wantErr: "server.addr",
		},
		{
			name:    "missing secret",
			config:  `{"server": {"addr": ":8080"}, "auth": {}}`,
			wantErr: "auth.jwt_secret is required",
		},
		{
			name:    "short secret",
			config:  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "short"}}`,
			wantErr: "at least 32",
		},
		{
			name:    "weak secret",
			config:  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "local-dev-secret-for-testing-only-32chars!"}}`,
			wantErr: "weak secret",
		},
		{
			name:    "jwks without url",
			config:  `{"server": {"addr": ":8080"}, "auth": {"provider": "jwks"}}`,
			wantErr: "auth.jwks_url",
		},
		{
			name:    "unknown provider",
			config:  `{"server": {"addr": ":8080"}, "auth": {"provider": "ldap"}}`,
			wantErr: "not supported",
		},
		{
			name:    "unknown storage driver",
			config:  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-us"}, "storage": {"driver": "mysql"}}`,
			wantErr: "storage.driver",
		},
		{
			name:    "redis without addr",
			config:  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "some-secret-value-long-enough-for-us"}, "presence": {"driver": "redis"}}`,
			wantErr: "presence.redis_addr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, "config.json", tt.config)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	minimal := `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "my-secret-key-for-testing-purposes"}
	}`

	path := writeTempConfig(t, "config.json", minimal)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Auth.Provider != "builtin" {
		t.Errorf("default Auth.Provider: got %q", cfg.Auth.Provider)
	}
	if cfg.Auth.SessionTTL.Duration != 24*time.Hour {
		t.Errorf("default SessionTTL: got %v, want 24h", cfg.Auth.SessionTTL.Duration)
	}
	if cfg.Auth.CookieName != "openchat_session" {
		t.Errorf("default CookieName: got %q", cfg.Auth.CookieName)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default Storage.Driver: got %q, want %q", cfg.Storage.Driver, "sqlite")
	}
	if cfg.Storage.DSN != "openchat.db" {
		t.Errorf("default Storage.DSN: got %q, want %q", cfg.Storage.DSN, "openchat.db")
	}
	if cfg.Storage.Retention.Duration != 7*24*time.Hour {
		t.Errorf("default Storage.Retention: got %v, want 168h", cfg.Storage.Retention.Duration)
	}
	if cfg.Router.ServiceTimeout.Duration != 10*time.Second {
		t.Errorf("default ServiceTimeout: got %v, want 10s", cfg.Router.ServiceTimeout.Duration)
	}
	if cfg.Router.ConversationLoad != 20 {
		t.Errorf("default ConversationLoad: got %d, want 20", cfg.Router.ConversationLoad)
	}
	if cfg.Router.MaxMessageBytes != 64*1024 {
		t.Errorf("default MaxMessageBytes: got %d", cfg.Router.MaxMessageBytes)
	}
	if cfg.Router.MaxConnsPerUser != 10 {
		t.Errorf("default MaxConnsPerUser: got %d, want 10", cfg.Router.MaxConnsPerUser)
	}
	if cfg.Router.MessagesPerSecond != 30 || cfg.Router.MessageBurst != 50 {
		t.Errorf("default message rate: got %v/%d, want 30/50", cfg.Router.MessagesPerSecond, cfg.Router.MessageBurst)
	}
	if cfg.Router.BroadcastPresence {
		t.Error("default BroadcastPresence: got true, want false")
	}
	if cfg.Presence.Driver != "store" {
		t.Errorf("default Presence.Driver: got %q", cfg.Presence.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("default Logging.Format: got %q, want %q", cfg.Logging.Format, "json")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("default AllowedOrigins: got %v, want [*]", cfg.Server.AllowedOrigins)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 {
		t.Errorf("default RateLimit.RequestsPerSecond: got %f, want 10", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("default RateLimit.Burst: got %d, want 20", cfg.RateLimit.Burst)
	}
	if cfg.Server.MaxBodyBytes != 1024*1024 {
		t.Errorf("default Server.MaxBodyBytes: got %d, want %d", cfg.Server.MaxBodyBytes, 1024*1024)
	}
}

func TestDuration_InvalidValue(t *testing.T) {
	path := writeTempConfig(t, "config.json", `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "my-secret-key-for-testing-purposes", "session_ttl": true}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for boolean duration")
	}
}

func TestGenerateRandomSecret(t *testing.T) {
	a, err := GenerateRandomSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateRandomSecret()
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("expected two different secrets")
	}
}
