package wizard

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openchat-io/openchat/internal/config"
	"github.com/openchat-io/openchat/pkg/cli"
)

func runWizard(t *testing.T, input []string, outputName string) (*config.Config, string) {
	t.Helper()
	clearEnv(t)
	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(strings.Join(input, "\n") + "\n"), Out: out}
	outputPath := filepath.Join(t.TempDir(), outputName)

	if err := New(p).Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}
	cfg, err := config.Load(outputPath)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	return cfg, out.String()
}

func TestWizard_SQLiteRedisYAML(t *testing.T) {
	cfg, out := runWizard(t, []string{
		":9090", // listen address
		"http://localhost:3000, https://chat.example.com", // origins
		"n",                  // cookie secure
		"1",                  // storage: sqlite
		"./data/openchat.db", // sqlite path
		"2",                  // presence: redis
		"redis:6379",         // redis address
		"y",                  // broadcast presence
		"al",                 // username too short
		"alice",              // username
		"Alice Liddell",      // display name
		"short",              // password too short
		"password123",        // password
		"",                   // no more users
	}, "openchat.yaml")

	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://chat.example.com" {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		t.Errorf("auth.jwt_secret length = %d, want >= 32", len(cfg.Auth.JWTSecret))
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "./data/openchat.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Presence.Driver != "redis" || cfg.Presence.RedisAddr != "redis:6379" {
		t.Errorf("presence = %+v", cfg.Presence)
	}
	if !cfg.Router.BroadcastPresence {
		t.Error("expected broadcast_presence to be enabled")
	}
	if len(cfg.Auth.InitialUsers) != 1 {
		t.Fatalf("initial_users count = %d, want 1", len(cfg.Auth.InitialUsers))
	}
	u := cfg.Auth.InitialUsers[0]
	if u.Username != "alice" || u.Name != "Alice Liddell" || u.Password != "password123" {
		t.Errorf("initial user = %+v", u)
	}
	if !strings.Contains(out, "username must be 3-64 characters") {
		t.Error("expected username validation message")
	}
}

func TestWizard_PostgresJSON(t *testing.T) {
	cfg, _ := runWizard(t, []string{
		"",  // listen address (default)
		"",  // origins (default)
		"y", // cookie secure
		"2", // storage: postgres
		"postgres://openchat:pass@db:5432/openchat", // DSN
		"1", // presence: store
		"",  // broadcast presence (default no)
		"",  // no users
	}, "openchat.json")

	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if !cfg.Auth.CookieSecure {
		t.Error("expected cookie_secure")
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://openchat:pass@db:5432/openchat" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Presence.Driver != "store" {
		t.Errorf("presence.driver = %q, want store", cfg.Presence.Driver)
	}
	if len(cfg.Auth.InitialUsers) != 0 {
		t.Errorf("expected no initial users, got %d", len(cfg.Auth.InitialUsers))
	}
}

func TestWizard_TruncatedInput(t *testing.T) {
	p := &cli.Prompter{In: strings.NewReader(":8080\n"), Out: &bytes.Buffer{}}
	outputPath := filepath.Join(t.TempDir(), "openchat.yaml")
	if err := New(p).Run(outputPath); err == nil {
		t.Fatal("expected error on truncated input")
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Error("config should not be written on truncated input")
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvAddr, EnvUIDir, EnvOrigins, EnvStorageDriver, EnvUser, EnvUserName, EnvUserPassword,
		config.EnvStorageDSN, config.EnvRedisAddr, config.EnvJWTSecret,
	} {
		t.Setenv(k, "")
	}
}

func TestRunDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAddr, ":7070")
	t.Setenv(EnvOrigins, "https://chat.example.com")
	t.Setenv(config.EnvStorageDSN, filepath.Join(t.TempDir(), "chat.db"))
	t.Setenv(config.EnvRedisAddr, "cache:6379")
	t.Setenv(EnvUser, "admin")

	out := &bytes.Buffer{}
	outputPath := filepath.Join(t.TempDir(), "openchat.json")
	if err := New(&cli.Prompter{Out: out}).RunDefaults(outputPath); err != nil {
		t.Fatalf("RunDefaults: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Presence.Driver != "redis" || cfg.Presence.RedisAddr != "cache:6379" {
		t.Errorf("presence = %+v", cfg.Presence)
	}
	if len(cfg.Auth.InitialUsers) != 1 {
		t.Fatalf("initial_users count = %d, want 1", len(cfg.Auth.InitialUsers))
	}
	u := cfg.Auth.InitialUsers[0]
	if u.Name != "admin" || len(u.Password) < minPasswordLen {
		t.Errorf("initial user = %+v", u)
	}
	if !strings.Contains(out.String(), "Generated password for admin") {
		t.Errorf("expected generated password notice, got %q", out.String())
	}
}

func TestRunDefaults_PostgresRequiresDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvStorageDriver, "postgres")

	err := New(&cli.Prompter{Out: &bytes.Buffer{}}).RunDefaults(filepath.Join(t.TempDir(), "c.yaml"))
	if err == nil || !strings.Contains(err.Error(), config.EnvStorageDSN) {
		t.Errorf("expected DSN error, got %v", err)
	}
}
