package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/registry"
)

func TestDecodePayloadForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"object", `{"type":"print.command","payload":{"order_id":77,"printer_id":"p1","sender":"u1"}}`},
		{"string encoded", `{"type":"print.command","payload":"{\"order_id\":77,\"printer_id\":\"p1\",\"sender\":\"u1\"}"}`},
		{"top level", `{"type":"print.command","order_id":"77","printer_id":"p1","sender":"u1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if cmd.Type != TypePrint || cmd.OrderID != "77" || cmd.PrinterID != "p1" || cmd.Sender != "u1" {
				t.Errorf("unexpected command %+v", cmd)
			}
			var p map[string]any
			if err := json.Unmarshal(cmd.Payload, &p); err != nil {
				t.Fatalf("payload is not an object: %v", err)
			}
		})
	}
}

func TestDecodePayloadWinsOverTopLevel(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"scan.command","sender":"outer","payload":{"scan_id":"s-1","sender":"inner"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Sender != "inner" || cmd.ScanID != "s-1" {
		t.Errorf("got %+v", cmd)
	}
}

func TestDecodeUpdateConfig(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"update.command","printer_id":12,"sender":"u","config":{"connection_type":"usb","vendor_id":1208,"product_id":"0E15","is_default":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.PrinterID != "12" || cmd.Config == nil {
		t.Fatalf("got %+v", cmd)
	}
	got := cmd.Config.PrinterConfig(cmd.PrinterID)
	want := registry.PrinterConfig{PrinterID: "12", ConnectionType: "usb", VendorID: "04b8", ProductID: "0e15", IsDefault: true}
	if got != want {
		t.Errorf("config = %+v, want %+v", got, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"sender":"x"}`,
		`{"type":"print.command","payload":42}`,
		`{"type":"print.command","payload":"[1,2]"}`,
		`{"type":"print.command","payload":"{broken"}`,
		`{"type":"update.command","config":{"vendor_id":"zz"}}`,
	} {
		_, err := Decode([]byte(raw))
		if !apperr.Is(err, apperr.KindProtocol) {
			t.Errorf("Decode(%s) error = %v, want protocol error", raw, err)
		}
	}
}

func TestDecimal(t *testing.T) {
	var v struct {
		A Decimal `json:"a"`
		B Decimal `json:"b"`
		C Decimal `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":5.5,"b":"2.00","c":null}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != 5.5 || v.B != 2 || v.C != 0 {
		t.Errorf("got %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a":"five"}`), &v); err == nil {
		t.Error("expected error")
	}
}

func TestAckEncoding(t *testing.T) {
	b, err := Encode(NewAck("default", "u1", "p9", registry.ErrNotFound))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	_ = json.Unmarshal(b, &got)
	if got["type"] != "ack" || got["status"] != "error" || got["error"] != "Printer not found" || got["printer_id"] != "p9" {
		t.Errorf("ack = %s", b)
	}

	b, _ = Encode(NewAck("remove", "u1", "p9", nil))
	if strings.Contains(string(b), `"error"`) {
		t.Errorf("success ack should omit error: %s", b)
	}

	b, _ = Encode(ListAck{Ack: *NewAck("list", "u1", "", nil)})
	if !strings.Contains(string(b), `"printers":null`) && !strings.Contains(string(b), `"printers":[]`) {
		t.Errorf("list ack must carry printers: %s", b)
	}
}
