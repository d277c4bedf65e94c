package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/thereceipt/print-agent/internal/preview"
	"github.com/thereceipt/print-agent/internal/printer"
	"github.com/thereceipt/print-agent/internal/protocol"
	"github.com/thereceipt/print-agent/internal/receipt"
	"github.com/thereceipt/print-agent/internal/store"
)

var previewCmd = &cobra.Command{
	Use:   "preview <order.json>",
	Short: "Render an order payload as markup and optionally as a PNG.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profileName, _ := cmd.Flags().GetString("profile")
		pngPath, _ := cmd.Flags().GetString("png")
		useStore, _ := cmd.Flags().GetBool("branch")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		// accept a whole print.command as well as a bare payload
		payload := json.RawMessage(data)
		if msg, err := protocol.Decode(data); err == nil && msg.Type == protocol.TypePrint {
			payload = msg.Payload
		}
		order, err := receipt.ParseOrder(payload)
		if err != nil {
			return err
		}

		profile, ok := printer.LookupProfile(profileName)
		if !ok {
			fmt.Fprintln(os.Stderr, WarningStyle.Render("unknown profile "+profileName+", using "+profile.Name+" (known: "+strings.Join(printer.ProfileNames(), ", ")+")"))
		}

		var header receipt.Header
		if useStore {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			header = receipt.LoadHeader(s, profile, cfg.Printing.LogoMaxHeight, zerolog.Nop())
		}

		markup, err := receipt.Render(order, profile, header)
		if err != nil {
			return err
		}
		fmt.Print(markup)

		if pngPath != "" {
			if err := preview.SavePNG(pngPath, markup, profile); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, SuccessStyle.Render("wrote "+pngPath))
		}
		return nil
	},
}

func init() {
	previewCmd.Flags().String("profile", printer.DefaultProfileName,
		"printer profile: "+strings.Join(printer.ProfileNames(), ", "))
	previewCmd.Flags().String("png", "", "write a PNG preview to this path")
	previewCmd.Flags().Bool("branch", false, "use branch name, address and logo from the local store")
	rootCmd.AddCommand(previewCmd)
}
