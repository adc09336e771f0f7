package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openchat-io/openchat/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("1.2.3")
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "openchat-hub 1.2.3" {
		t.Errorf("version output = %q", out)
	}
}

func TestToken(t *testing.T) {
	out, err := execute(t, "token", "encode", "abc")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != "23383629430a600a" {
		t.Errorf("encode = %q, want %q", got, "23383629430a600a")
	}

	out, err = execute(t, "token", "decode", "23383629430a600a")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != "abc" {
		t.Errorf("decode = %q, want %q", got, "abc")
	}

	if _, err := execute(t, "token", "decode", "not-hex"); err == nil {
		t.Error("expected error decoding an invalid token")
	}
	if _, err := execute(t, "token", "encode"); err == nil {
		t.Error("expected error without an argument")
	}
}

func TestRun_MissingConfig(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("expected read config error, got %v", err)
	}
}

func TestInitDefaults(t *testing.T) {
	t.Setenv("OPENCHAT_STORAGE_DRIVER", "")
	t.Setenv(config.EnvStorageDSN, filepath.Join(t.TempDir(), "chat.db"))
	output := filepath.Join(t.TempDir(), "openchat.yaml")

	out, err := execute(t, "init", "--defaults", "-o", output)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, output) {
		t.Errorf("expected output path in %q", out)
	}
	if _, err := config.Load(output); err != nil {
		t.Errorf("generated config does not load: %v", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default", []string{"run"}, defaultConfigPath},
		{"flag", []string{"run", "--config", "from-flag.yaml"}, "from-flag.yaml"},
		{"short flag before subcommand", []string{"-c", "short.yaml", "run"}, "short.yaml"},
		{"positional wins", []string{"run", "-c", "from-flag.yaml", "pos.yaml"}, "pos.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewRootCmd("test")
			run, rest, err := root.Find(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if err := run.ParseFlags(rest); err != nil {
				t.Fatal(err)
			}
			if got := resolveConfigPath(run, run.Flags().Args(), defaultConfigPath); got != tt.want {
				t.Errorf("resolveConfigPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		cfg       config.LoggingConfig
		level     slog.Level
		wantJSON  bool
		debugSeen bool
	}{
		{config.LoggingConfig{Level: "debug", Format: "json"}, slog.LevelDebug, true, true},
		{config.LoggingConfig{Level: "warn", Format: "text"}, slog.LevelWarn, false, false},
		{config.LoggingConfig{}, slog.LevelInfo, true, false},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := newLogger(tt.cfg, &buf)
		if !logger.Enabled(context.Background(), tt.level) {
			t.Errorf("%+v: level %v not enabled", tt.cfg, tt.level)
		}
		logger.Debug("debug line")
		if got := buf.Len() > 0; got != tt.debugSeen {
			t.Errorf("%+v: debug output = %v, want %v", tt.cfg, got, tt.debugSeen)
		}
		logger.Error("error line", "k", "v")
		if isJSON := strings.HasPrefix(buf.String(), "{") || strings.Contains(buf.String(), "\n{"); isJSON != tt.wantJSON {
			t.Errorf("%+v: json output = %v, want %v", tt.cfg, isJSON, tt.wantJSON)
		}
	}
}

func TestMain(m *testing.M) {
	// Keep OPENCHAT_* settings from the environment out of config loading.
	for _, k := range []string{config.EnvJWTSecret, config.EnvRedisAddr} {
		_ = os.Unsetenv(k)
	}
	os.Exit(m.Run())
}
