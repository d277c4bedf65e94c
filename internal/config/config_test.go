package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "print-agent.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvServerURL, "")
	path := writeConfig(t, `
server_url: wss://pos.example.com
store_path: /tmp/state.json
log:
  level: debug
reconnect:
  initial_delay: 500ms
  max_attempts: 5
discovery:
  browse_window: 2s
  serial_ports: true
printing:
  network_port: 9101
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "wss://pos.example.com" || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Reconnect.InitialDelay != 500*time.Millisecond || cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Reconnect.MaxDelay != 60*time.Second {
		t.Errorf("max_delay default lost: %v", cfg.Reconnect.MaxDelay)
	}
	if cfg.Discovery.BrowseWindow != 2*time.Second || cfg.Discovery.Service != "_printer._tcp" || !cfg.Discovery.SerialPorts {
		t.Errorf("discovery = %+v", cfg.Discovery)
	}
	if cfg.Printing.NetworkPort != 9101 || cfg.Printing.LogoMaxHeight != 120 {
		t.Errorf("printing = %+v", cfg.Printing)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server_url: ws://file.example.com\n")
	t.Setenv(EnvServerURL, "ws://env.example.com")
	t.Setenv(EnvStorePath, "/data/state.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "ws://env.example.com" || cfg.StorePath != "/data/state.json" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing explicit config accepted")
	}
	if _, err := Load(writeConfig(t, "reconnect: [")); err == nil {
		t.Error("broken yaml accepted")
	}
	_, err := Load(writeConfig(t, "reconnect:\n  max_delay: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "reconnect.max_delay") {
		t.Errorf("bad duration err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bare host", func(c *Config) { c.ServerURL = "10.0.0.2:8000" }, ""},
		{"ftp server", func(c *Config) { c.ServerURL = "ftp://x" }, "server_url"},
		{"ws api", func(c *Config) { c.APIURL = "ws://x" }, "api_url"},
		{"no store", func(c *Config) { c.StorePath = "" }, "store_path"},
		{"zero attempts", func(c *Config) { c.Reconnect.MaxAttempts = 0 }, "max_attempts"},
		{"max below initial", func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond }, "max_delay"},
		{"jitter", func(c *Config) { c.Reconnect.Jitter = 1 }, "jitter"},
		{"port", func(c *Config) { c.Printing.NetworkPort = 70000 }, "network_port"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
