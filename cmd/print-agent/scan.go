package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thereceipt/print-agent/internal/agent"
	"github.com/thereceipt/print-agent/internal/discovery"
	"github.com/thereceipt/print-agent/internal/registry"
	"github.com/thereceipt/print-agent/internal/store"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover USB and network printers.",
	Long:  `Probes the USB bus and browses mDNS, then lists what was found. With --save the result replaces the local registry the same way a server scan does.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		save, _ := cmd.Flags().GetBool("save")

		scanner := discovery.NewScanner(log, agent.DefaultSources(cfg, log)...)
		found, err := scanner.Scan(context.Background(), nil)
		if err != nil && len(found) == 0 {
			return err
		}

		if save {
			s, err := store.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			found, err = registry.New(s, log).MergeDiscovered(found)
			if err != nil {
				return err
			}
		}

		fmt.Println(printerTable(found))
		fmt.Println(MutedStyle.Render(fmt.Sprintf("%d printer(s) found", len(found))))
		return nil
	},
}

func init() {
	scanCmd.Flags().Bool("save", false, "store the result in the local registry")
	rootCmd.AddCommand(scanCmd)
}
