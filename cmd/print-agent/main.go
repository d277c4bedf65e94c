package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/thereceipt/print-agent/internal/config"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "print-agent",
	Short:         "Receipt print agent for branch devices.",
	Long:          `Keeps a session with the coordination server, discovers local receipt printers and prints what the server sends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().String("server", "", "websocket server URL (overrides server_url)")
	rootCmd.PersistentFlags().String("api", "", "HTTP API URL used for registration (overrides api_url)")
	rootCmd.PersistentFlags().String("store", "", "path of the local state file (overrides store_path)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json, console")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

// loadConfig resolves the config file, env and flag overrides, in that order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"server", &cfg.ServerURL},
		{"api", &cfg.APIURL},
		{"store", &cfg.StorePath},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"http", &cfg.HTTPAddr},
	}
	for _, o := range overrides {
		f := cmd.Flags().Lookup(o.flag)
		if f == nil || !f.Changed {
			continue
		}
		*o.dst = f.Value.String()
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	if cfg.LogFormat == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
