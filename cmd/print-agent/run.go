package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thereceipt/print-agent/internal/agent"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		a, err := agent.New(cfg, agent.Options{Version: version}, log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		}()

		log.Info().Str("version", version).Str("commit", commit).Str("store", cfg.StorePath).Msg("print agent starting")
		return a.Run(ctx)
	},
}

func init() {
	runCmd.Flags().String("http", "", "status API listen address, empty string disables (overrides http_addr)")
	rootCmd.AddCommand(runCmd)
}
