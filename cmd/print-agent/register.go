package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thereceipt/print-agent/internal/device"
	"github.com/thereceipt/print-agent/internal/store"
)

var registerCmd = &cobra.Command{
	Use:   "register <device-id>",
	Short: "Register this device with the server using its 6-character id.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := device.ValidateID(args[0]); err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		s, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := device.NewClient(device.ClientOptions{
			BaseURL:   cfg.APIURL,
			UserAgent: "print-agent/" + version,
			Log:       log,
		})
		id, err := client.Register(ctx, args[0])
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		if err := device.Save(s, id); err != nil {
			return err
		}

		fmt.Println(SuccessStyle.Render("Setup complete"))
		fmt.Println(keyValue("Device", id.DeviceID+" ("+id.Name+")"))
		fmt.Println(keyValue("Branch", id.Branch.ID))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
