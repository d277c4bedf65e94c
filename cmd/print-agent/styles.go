package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thereceipt/print-agent/internal/registry"
)

// Colors
var (
	Primary   = lipgloss.Color("#7C3AED") // Purple
	Secondary = lipgloss.Color("#06B6D4") // Cyan
	Success   = lipgloss.Color("#10B981") // Green
	Warning   = lipgloss.Color("#F59E0B") // Amber
	Error     = lipgloss.Color("#EF4444") // Red
	Muted     = lipgloss.Color("#6B7280") // Gray

	colorTextBright = lipgloss.Color("#F8FAFC") // Slate 50
)

// Styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTextBright).
			Background(Primary).
			Padding(0, 2).
			MarginBottom(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true).
			Width(9)

	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Secondary)

	TableCellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().Foreground(Success)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)

	StatusOnline = lipgloss.NewStyle().
			Foreground(Success).
			SetString("●")

	StatusOffline = lipgloss.NewStyle().
			Foreground(Error).
			SetString("●")

	StatusPending = lipgloss.NewStyle().
			Foreground(Warning).
			SetString("●")
)

func StatusIcon(state string) string {
	switch state {
	case "connected":
		return StatusOnline.String()
	case "disconnected":
		return StatusOffline.String()
	default:
		return StatusPending.String()
	}
}

func keyValue(key, value string) string {
	return LabelStyle.Render(key) + " " + value
}

// printerTable lays printers out in aligned columns.
func printerTable(printers []registry.PrinterConfig) string {
	if len(printers) == 0 {
		return MutedStyle.Render("no printers")
	}

	rows := [][]string{{"", "ID", "TYPE", "TARGET", "PROFILE"}}
	for _, p := range printers {
		mark := ""
		if p.IsDefault {
			mark = "*"
		}
		id := p.PrinterID
		if id == "" {
			id = "-"
		}
		rows = append(rows, []string{mark, id, p.ConnectionType, target(p), p.Profile})
	}

	widths := make([]int, len(rows[0]))
	for _, r := range rows {
		for i, c := range r {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	var b strings.Builder
	for n, r := range rows {
		cells := make([]string, len(r))
		for i, c := range r {
			style := TableCellStyle.Width(widths[i] + 2)
			if n == 0 {
				style = style.Inherit(TableHeaderStyle)
			}
			cells[i] = style.Render(c)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		if n < len(rows)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func target(p registry.PrinterConfig) string {
	switch p.ConnectionType {
	case registry.ConnUSB:
		return p.VendorID + ":" + p.ProductID
	case registry.ConnNetwork:
		return p.IPAddress
	case registry.ConnSerial:
		return p.SerialPort
	}
	return ""
}
