package registry

import (
	"fmt"
	"strings"

	"github.com/thereceipt/print-agent/internal/apperr"
)

// Connection types.
const (
	ConnUSB     = "usb"
	ConnNetwork = "network"
	ConnSerial  = "serial"
)

// DefaultProfile is used when a config names no profile.
const DefaultProfile = "TM-T88III"

// PrinterConfig is the identity and addressing of one physical printer.
type PrinterConfig struct {
	PrinterID      string `json:"printer_id,omitempty"`
	ConnectionType string `json:"connection_type"`
	VendorID       string `json:"vendor_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
	SerialPort     string `json:"serial_port,omitempty"`
	Profile        string `json:"profile"`
	IsDefault      bool   `json:"is_default"`
	Fingerprint    string `json:"fingerprint,omitempty"`
}

// Validate checks that the addressing fields required by the connection type
// are present.
func (c PrinterConfig) Validate() error {
	switch c.ConnectionType {
	case ConnUSB:
		if c.VendorID == "" || c.ProductID == "" {
			return apperr.New(apperr.KindInvalid, "usb printer requires vendor_id and product_id")
		}
	case ConnNetwork:
		if c.IPAddress == "" {
			return apperr.New(apperr.KindInvalid, "network printer requires ip_address")
		}
	case ConnSerial:
		if c.SerialPort == "" {
			return apperr.New(apperr.KindInvalid, "serial printer requires serial_port")
		}
	case "":
		return apperr.New(apperr.KindInvalid, "connection_type is required")
	default:
		return apperr.Newf(apperr.KindInvalid, "unknown connection_type %q", c.ConnectionType)
	}
	return nil
}

// Describe is a short human label, e.g. "usb 04b8:0202".
func (c PrinterConfig) Describe() string {
	switch c.ConnectionType {
	case ConnUSB:
		return fmt.Sprintf("usb %s:%s", c.VendorID, c.ProductID)
	case ConnNetwork:
		return "network " + c.IPAddress
	case ConnSerial:
		return "serial " + c.SerialPort
	default:
		return c.ConnectionType
	}
}

// FormatUSBID renders a bus id the way it is stored: 4 lowercase hex digits.
func FormatUSBID(id uint16) string {
	return fmt.Sprintf("%04x", id)
}

// USBFingerprint is the fallback identity of a bus device without a serial.
func USBFingerprint(serial string, vid, pid uint16) string {
	if s := strings.TrimSpace(serial); s != "" {
		return s
	}
	return FormatUSBID(vid) + ":" + FormatUSBID(pid)
}

// NetworkFingerprint prefers the advertised instance name over the address.
func NetworkFingerprint(instance, addr string) string {
	if s := strings.TrimSpace(instance); s != "" {
		return s
	}
	return addr
}
