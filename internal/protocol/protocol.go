// Package protocol is the JSON message format spoken with the coordination
// server.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/registry"
)

// Inbound message types.
const (
	TypeSubscribed = "subscribed"
	TypeScan       = "scan.command"
	TypePrint      = "print.command"
	TypeDefault    = "default.command"
	TypeRemove     = "remove.command"
	TypeUpdate     = "update.command"
	TypeReset      = "reset.command"
	TypeList       = "list.command"
	TypeTest       = "test.command"
)

// Outbound message types.
const (
	TypeSubscribe         = "subscribe"
	TypeAck               = "ack"
	TypePrinterDiscovered = "printer_discovered"
	TypeScanComplete      = "scan_complete"
)

// Command is a decoded inbound message. Fields are read from the payload
// first and fall back to the top level of the message.
type Command struct {
	Type      string
	Sender    string
	PrinterID string
	ScanID    string
	OrderID   string
	// Config is the printer configuration carried by update.command.
	Config *WireConfig
	// Payload is the unwrapped payload object, or the whole message when
	// there is none.
	Payload json.RawMessage
}

// WireConfig is a printer configuration as sent by the server.
type WireConfig struct {
	ConnectionType string `json:"connection_type"`
	VendorID       USBID  `json:"vendor_id,omitempty"`
	ProductID      USBID  `json:"product_id,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
	SerialPort     string `json:"serial_port,omitempty"`
	Profile        string `json:"profile,omitempty"`
	IsDefault      bool   `json:"is_default,omitempty"`
	Fingerprint    string `json:"fingerprint,omitempty"`
}

// PrinterConfig converts the wire form into a registry entry for id.
func (w WireConfig) PrinterConfig(id string) registry.PrinterConfig {
	return registry.PrinterConfig{
		PrinterID:      id,
		ConnectionType: w.ConnectionType,
		VendorID:       string(w.VendorID),
		ProductID:      string(w.ProductID),
		IPAddress:      w.IPAddress,
		SerialPort:     w.SerialPort,
		Profile:        w.Profile,
		IsDefault:      w.IsDefault,
		Fingerprint:    w.Fingerprint,
	}
}

// Decode parses one inbound message. The payload may be an object or a
// string holding an encoded object; one level of string encoding is
// unwrapped.
func Decode(raw []byte) (*Command, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, apperr.Wrap(apperr.KindProtocol, "decode message", err)
	}

	cmd := &Command{}
	if err := decodeField(top, "type", &cmd.Type); err != nil {
		return nil, err
	}
	if cmd.Type == "" {
		return nil, apperr.New(apperr.KindProtocol, "message has no type")
	}

	payload, err := UnwrapPayload(top["payload"])
	if err != nil {
		return nil, err
	}
	if payload != nil {
		cmd.Payload = payload
	} else {
		cmd.Payload = json.RawMessage(raw)
	}

	var inner map[string]json.RawMessage
	if payload != nil {
		if err := json.Unmarshal(payload, &inner); err != nil {
			return nil, apperr.Wrap(apperr.KindProtocol, "decode payload", err)
		}
	}

	fields := []struct {
		key string
		dst *string
	}{
		{"sender", &cmd.Sender},
		{"printer_id", &cmd.PrinterID},
		{"scan_id", &cmd.ScanID},
		{"order_id", &cmd.OrderID},
	}
	for _, f := range fields {
		var v StringOrNumber
		if err := lookup(inner, top, f.key, &v); err != nil {
			return nil, err
		}
		*f.dst = string(v)
	}

	if cfgRaw, ok := pick(inner, top, "config"); ok && !isNull(cfgRaw) {
		var wc WireConfig
		if err := json.Unmarshal(cfgRaw, &wc); err != nil {
			return nil, apperr.Wrap(apperr.KindProtocol, "decode config", err)
		}
		cmd.Config = &wc
	}
	return cmd, nil
}

// UnwrapPayload returns the payload as a JSON object. nil means there was no
// payload.
func UnwrapPayload(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}

	switch raw[0] {
	case '{':
		return raw, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, apperr.Wrap(apperr.KindProtocol, "decode payload", err)
		}
		inner := bytes.TrimSpace([]byte(s))
		if len(inner) == 0 {
			return nil, nil
		}
		if inner[0] != '{' || !json.Valid(inner) {
			return nil, apperr.New(apperr.KindProtocol, "payload string is not a JSON object")
		}
		return json.RawMessage(inner), nil
	default:
		return nil, apperr.Newf(apperr.KindProtocol, "payload must be an object, got %s", shorten(raw))
	}
}

func lookup(inner, top map[string]json.RawMessage, key string, dst any) error {
	raw, ok := pick(inner, top, key)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Wrap(apperr.KindProtocol, "decode "+key, err)
	}
	return nil
}

func pick(inner, top map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if v, ok := inner[key]; ok && !isNull(v) {
		return v, true
	}
	v, ok := top[key]
	return v, ok
}

func decodeField(m map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Wrap(apperr.KindProtocol, "decode "+key, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func shorten(b []byte) string {
	if len(b) > 32 {
		return string(b[:32]) + "..."
	}
	return string(b)
}

// Ack is the acknowledgement envelope.
type Ack struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	Sender    string `json:"sender,omitempty"`
	Status    string `json:"status"`
	PrinterID string `json:"printer_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewAck builds an ack whose status and error text follow err.
func NewAck(command, sender, printerID string, err error) *Ack {
	a := &Ack{
		Type:      TypeAck,
		Command:   command,
		Sender:    sender,
		Status:    apperr.Status(err),
		PrinterID: printerID,
	}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// ListAck answers list.command with the registry contents.
type ListAck struct {
	Ack
	Printers []registry.PrinterConfig `json:"printers"`
}

// Subscribe binds the session to the device's branch.
type Subscribe struct {
	Type     string `json:"type"`
	BranchID string `json:"branch_id"`
}

// NewSubscribe builds the post-handshake subscription.
func NewSubscribe(branchID string) Subscribe {
	return Subscribe{Type: TypeSubscribe, BranchID: branchID}
}

// PrinterDiscovered streams one discovery candidate.
type PrinterDiscovered struct {
	Type   string                 `json:"type"`
	ScanID string                 `json:"scan_id"`
	Sender string                 `json:"sender,omitempty"`
	Config registry.PrinterConfig `json:"config"`
}

// ScanComplete summarises a scan.
type ScanComplete struct {
	Type     string                   `json:"type"`
	BranchID string                   `json:"branch_id,omitempty"`
	ScanID   string                   `json:"scan_id"`
	Sender   string                   `json:"sender,omitempty"`
	Count    int                      `json:"count"`
	Printers []registry.PrinterConfig `json:"printers"`
}

// Encode marshals an outbound message.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}
