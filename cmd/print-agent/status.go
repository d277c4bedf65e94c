package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thereceipt/print-agent/internal/registry"
)

type statusResponse struct {
	State    string    `json:"state"`
	Attempts int       `json:"attempts"`
	Since    time.Time `json:"since"`
	Version  string    `json:"version"`
	Uptime   string    `json:"uptime"`
	Device   struct {
		DeviceID    string `json:"device_id"`
		Name        string `json:"name"`
		Provisioned bool   `json:"provisioned"`
	} `json:"device"`
	Branch struct {
		BranchID string `json:"branch_id"`
		Name     string `json:"name"`
	} `json:"branch"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running agent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.HTTPAddr == "" {
			return fmt.Errorf("status API is disabled (http_addr is empty)")
		}
		base := "http://" + cfg.HTTPAddr
		if strings.Contains(cfg.HTTPAddr, "://") {
			base = cfg.HTTPAddr
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var st statusResponse
		if err := getJSON(ctx, base+"/status", &st); err != nil {
			return fmt.Errorf("agent not reachable at %s: %w", base, err)
		}
		var printers struct {
			Printers []registry.PrinterConfig `json:"printers"`
		}
		if err := getJSON(ctx, base+"/printers", &printers); err != nil {
			return err
		}

		fmt.Println(HeaderStyle.Render("print-agent " + st.Version))
		fmt.Println(keyValue("Session", StatusIcon(st.State)+" "+st.State))
		if st.Attempts > 0 {
			fmt.Println(keyValue("Attempt", fmt.Sprint(st.Attempts)))
		}
		fmt.Println(keyValue("Since", st.Since.Format(time.RFC3339)))
		if st.Device.Provisioned {
			fmt.Println(keyValue("Device", st.Device.DeviceID+" "+MutedStyle.Render(st.Device.Name)))
			fmt.Println(keyValue("Branch", st.Branch.BranchID+" "+MutedStyle.Render(st.Branch.Name)))
		} else {
			fmt.Println(keyValue("Device", WarningStyle.Render("not provisioned")))
		}
		fmt.Println(keyValue("Uptime", st.Uptime))
		fmt.Println()
		fmt.Println(printerTable(printers.Printers))
		return nil
	},
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
	statusCmd.Flags().String("http", "", "status API address of the running agent (overrides http_addr)")
	rootCmd.AddCommand(statusCmd)
}
