package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/siostam/siostam/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Siostam.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
[[origin]]
name = "local"
file = "topology.json"
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.PollInterval.Duration != DefaultPollInterval {
		t.Errorf("PollInterval = %v", cfg.PollInterval.Duration)
	}
	if *cfg.DebounceCycles != 2 {
		t.Errorf("DebounceCycles = %d, want 2", *cfg.DebounceCycles)
	}
	if cfg.Render.Engine != "dot" || len(cfg.Render.Args) != 1 || cfg.Render.Args[0] != "-Tsvg" {
		t.Errorf("render defaults = %+v", cfg.Render)
	}
	if cfg.Server.Port != 4300 || cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Server.Addr() != "127.0.0.1:4300" {
		t.Errorf("Addr = %q", cfg.Server.Addr())
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("cache backend = %q", cfg.Cache.Backend)
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
poll_interval = "30s"
debounce_cycles = 0

[[origin]]
name = "billing"
url = "https://billing.internal/topology"
timeout = "5s"
token_env = "BILLING_TOKEN"

[[origin]]
name = "local"
file = "topology.json"

[render]
engine = "fdp"
args = ["-Tsvg", "-Gdpi=72"]
timeout = "45s"

[server]
port = 8080
cors_allowed_origins = ["https://dash.internal"]

[cache]
backend = "file"
dir = "/tmp/siostam-cache"

[history]
enabled = true
backend = "memory"
retention = 50
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.PollInterval.Duration != 30*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval.Duration)
	}
	if *cfg.DebounceCycles != 0 {
		t.Errorf("explicit debounce_cycles = 0 must not be replaced by the default, got %d", *cfg.DebounceCycles)
	}
	if len(cfg.Origins) != 2 {
		t.Fatalf("origins = %d", len(cfg.Origins))
	}
	if cfg.Origins[0].Timeout.Duration != 5*time.Second {
		t.Errorf("origin timeout = %v", cfg.Origins[0].Timeout.Duration)
	}
	if cfg.Render.Engine != "fdp" || len(cfg.Render.Args) != 2 {
		t.Errorf("render = %+v", cfg.Render)
	}
	if !cfg.History.Enabled || cfg.History.Retention != 50 {
		t.Errorf("history = %+v", cfg.History)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, errors.ErrCodeConfigMissing) {
		t.Fatalf("err = %v, want CONFIG_MISSING", err)
	}
	if !errors.IsFatal(err) {
		t.Error("missing config must be startup-fatal")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"no origins", ``},
		{"origin without name", `
[[origin]]
url = "https://x"
`},
		{"origin with url and file", `
[[origin]]
name = "both"
url = "https://x"
file = "y.json"
`},
		{"origin with neither", `
[[origin]]
name = "neither"
`},
		{"duplicate origin names", `
[[origin]]
name = "dup"
file = "a.json"
[[origin]]
name = "dup"
file = "b.json"
`},
		{"negative debounce", `
debounce_cycles = -1
[[origin]]
name = "a"
file = "a.json"
`},
		{"bad port", `
[[origin]]
name = "a"
file = "a.json"
[server]
port = 99999
`},
		{"unknown cache backend", `
[[origin]]
name = "a"
file = "a.json"
[cache]
backend = "floppy"
`},
		{"redis without addr", `
[[origin]]
name = "a"
file = "a.json"
[cache]
backend = "redis"
`},
		{"mongo without uri", `
[[origin]]
name = "a"
file = "a.json"
[history]
enabled = true
backend = "mongo"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			if !errors.Is(err, errors.ErrCodeConfigInvalid) {
				t.Errorf("err = %v, want CONFIG_INVALID", err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIOSTAM_SERVER_PORT", "9000")
	t.Setenv("SIOSTAM_SERVER_SOCKET_ADDRESS", "0.0.0.0")
	t.Setenv("SIOSTAM_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Server.Bind != "0.0.0.0" {
		t.Errorf("Bind = %q", cfg.Server.Bind)
	}
	if len(cfg.Server.CORSAllowedOrigins) != 2 {
		t.Errorf("CORS = %v", cfg.Server.CORSAllowedOrigins)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, Example))
	if err != nil {
		t.Fatalf("the starter config must load cleanly: %v", err)
	}
	if len(cfg.Origins) != 1 || cfg.Origins[0].Name != "example" {
		t.Errorf("origins = %+v", cfg.Origins)
	}
}
