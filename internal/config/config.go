// Package config loads the agent configuration: defaults, then the YAML
// file, then environment overrides. Flags are applied by the caller.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/print-agent/print-agent.yaml"

// Environment overrides.
const (
	EnvServerURL = "PRINT_AGENT_SERVER_URL"
	EnvAPIURL    = "PRINT_AGENT_API_URL"
	EnvStorePath = "PRINT_AGENT_STORE"
	EnvHTTPAddr  = "PRINT_AGENT_HTTP_ADDR"
)

type Reconnect struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Multiplier   float64
	Jitter       float64
	SettleWindow time.Duration
}

type Discovery struct {
	Service      string
	Domain       string
	BrowseWindow time.Duration
	// SerialPorts adds openable serial ports to scans.
	SerialPorts bool
}

type Printing struct {
	NetworkPort    int
	ConnectTimeout time.Duration
	SerialBaud     int
	LogoMaxHeight  int
}

// Config is the resolved agent configuration.
type Config struct {
	ServerURL string
	APIURL    string
	StorePath string
	// HTTPAddr is the local status API listen address; empty disables it.
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	Reconnect Reconnect
	Discovery Discovery
	Printing  Printing
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerURL: "ws://localhost:8000",
		APIURL:    "http://localhost:8000",
		StorePath: "/var/lib/print-agent/state.json",
		HTTPAddr:  "127.0.0.1:8631",
		LogLevel:  "info",
		LogFormat: "console",
		Reconnect: Reconnect{
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			MaxAttempts:  3,
			Multiplier:   2.0,
			Jitter:       0.1,
			SettleWindow: 5 * time.Second,
		},
		Discovery: Discovery{
			Service:      "_printer._tcp",
			Domain:       "local.",
			BrowseWindow: 5 * time.Second,
		},
		Printing: Printing{
			NetworkPort:    9100,
			ConnectTimeout: 5 * time.Second,
			SerialBaud:     9600,
			LogoMaxHeight:  120,
		},
	}
}

// File is the YAML layout. Zero values leave the default in place.
type File struct {
	ServerURL string `yaml:"server_url"`
	APIURL    string `yaml:"api_url"`
	StorePath string `yaml:"store_path"`
	HTTPAddr  string `yaml:"http_addr"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Reconnect struct {
		InitialDelay string  `yaml:"initial_delay"`
		MaxDelay     string  `yaml:"max_delay"`
		MaxAttempts  int     `yaml:"max_attempts"`
		Multiplier   float64 `yaml:"multiplier"`
		Jitter       float64 `yaml:"jitter"`
		SettleWindow string  `yaml:"settle_window"`
	} `yaml:"reconnect"`

	Discovery struct {
		Service      string `yaml:"service"`
		Domain       string `yaml:"domain"`
		BrowseWindow string `yaml:"browse_window"`
		SerialPorts  bool   `yaml:"serial_ports"`
	} `yaml:"discovery"`

	Printing struct {
		NetworkPort    int    `yaml:"network_port"`
		ConnectTimeout string `yaml:"connect_timeout"`
		SerialBaud     int    `yaml:"serial_baud"`
		LogoMaxHeight  int    `yaml:"logo_max_height"`
	} `yaml:"printing"`
}

// Load builds the configuration from path. A missing file is not an error
// when the path is the default one.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
		if err := cfg.apply(&f); err != nil {
			return cfg, err
		}
	case os.IsNotExist(err) && path == DefaultPath:
	default:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) apply(f *File) error {
	setString(&c.ServerURL, f.ServerURL)
	setString(&c.APIURL, f.APIURL)
	setString(&c.StorePath, f.StorePath)
	setString(&c.HTTPAddr, f.HTTPAddr)
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)

	if f.Reconnect.MaxAttempts != 0 {
		c.Reconnect.MaxAttempts = f.Reconnect.MaxAttempts
	}
	if f.Reconnect.Multiplier != 0 {
		c.Reconnect.Multiplier = f.Reconnect.Multiplier
	}
	if f.Reconnect.Jitter != 0 {
		c.Reconnect.Jitter = f.Reconnect.Jitter
	}
	setString(&c.Discovery.Service, f.Discovery.Service)
	setString(&c.Discovery.Domain, f.Discovery.Domain)
	if f.Discovery.SerialPorts {
		c.Discovery.SerialPorts = true
	}
	if f.Printing.NetworkPort != 0 {
		c.Printing.NetworkPort = f.Printing.NetworkPort
	}
	if f.Printing.SerialBaud != 0 {
		c.Printing.SerialBaud = f.Printing.SerialBaud
	}
	if f.Printing.LogoMaxHeight != 0 {
		c.Printing.LogoMaxHeight = f.Printing.LogoMaxHeight
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"reconnect.initial_delay", f.Reconnect.InitialDelay, &c.Reconnect.InitialDelay},
		{"reconnect.max_delay", f.Reconnect.MaxDelay, &c.Reconnect.MaxDelay},
		{"reconnect.settle_window", f.Reconnect.SettleWindow, &c.Reconnect.SettleWindow},
		{"discovery.browse_window", f.Discovery.BrowseWindow, &c.Discovery.BrowseWindow},
		{"printing.connect_timeout", f.Printing.ConnectTimeout, &c.Printing.ConnectTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString(&c.ServerURL, getenv(EnvServerURL))
	setString(&c.APIURL, getenv(EnvAPIURL))
	setString(&c.StorePath, getenv(EnvStorePath))
	setString(&c.HTTPAddr, getenv(EnvHTTPAddr))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if err := checkURL("server_url", c.ServerURL, "ws", "wss", "http", "https"); err != nil {
		return err
	}
	if err := checkURL("api_url", c.APIURL, "http", "https"); err != nil {
		return err
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}

	r := c.Reconnect
	switch {
	case r.InitialDelay <= 0:
		return fmt.Errorf("reconnect.initial_delay must be positive")
	case r.MaxDelay < r.InitialDelay:
		return fmt.Errorf("reconnect.max_delay must be at least initial_delay")
	case r.MaxAttempts <= 0:
		return fmt.Errorf("reconnect.max_attempts must be positive")
	case r.Multiplier < 1:
		return fmt.Errorf("reconnect.multiplier must be >= 1")
	case r.Jitter < 0 || r.Jitter >= 1:
		return fmt.Errorf("reconnect.jitter must be in [0, 1)")
	case r.SettleWindow < 0:
		return fmt.Errorf("reconnect.settle_window must not be negative")
	}

	if c.Discovery.BrowseWindow <= 0 {
		return fmt.Errorf("discovery.browse_window must be positive")
	}
	p := c.Printing
	switch {
	case p.NetworkPort <= 0 || p.NetworkPort > 65535:
		return fmt.Errorf("printing.network_port out of range: %d", p.NetworkPort)
	case p.ConnectTimeout <= 0:
		return fmt.Errorf("printing.connect_timeout must be positive")
	case p.SerialBaud <= 0:
		return fmt.Errorf("printing.serial_baud must be positive")
	case p.LogoMaxHeight <= 0:
		return fmt.Errorf("printing.logo_max_height must be positive")
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	if !strings.Contains(raw, "://") {
		// host[:port] without a scheme is accepted.
		raw = schemes[0] + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", key)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported scheme %q", key, u.Scheme)
}
