package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/google/gousb"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/registry"
)

type staticSource struct {
	name    string
	configs []registry.PrinterConfig
	err     error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Discover(_ context.Context, emit func(registry.PrinterConfig)) error {
	for _, c := range s.configs {
		emit(c)
	}
	return s.err
}

func netCandidate(fp, ip string) registry.PrinterConfig {
	return registry.PrinterConfig{ConnectionType: registry.ConnNetwork, IPAddress: ip, Fingerprint: fp}
}

func TestScanOrderDedupeAndDefault(t *testing.T) {
	usb := staticSource{name: "usb", configs: []registry.PrinterConfig{
		USBCandidate(0x04b8, 0x0202, "SN1"),
		USBCandidate(0x04b8, 0x0202, "SN1"),
		USBCandidate(0x0416, 0x5011, ""),
	}}
	mdns := staticSource{name: "mdns", configs: []registry.PrinterConfig{
		netCandidate("Kitchen", "10.0.0.5"),
		netCandidate("SN1", "10.0.0.6"),
	}}

	sc := NewScanner(zerolog.Nop(), usb, mdns)
	found := make(chan registry.PrinterConfig, 10)
	got, err := sc.Scan(context.Background(), found)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := []string{"SN1", "0416:5011", "Kitchen"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i, fp := range want {
		if got[i].Fingerprint != fp {
			t.Errorf("candidate %d = %q, want %q", i, got[i].Fingerprint, fp)
		}
		if got[i].Profile != registry.DefaultProfile {
			t.Errorf("candidate %d has no profile", i)
		}
	}
	if !got[0].IsDefault || got[1].IsDefault || got[2].IsDefault {
		t.Errorf("first candidate should be the only default: %+v", got)
	}

	var streamed []string
	for c := range found {
		streamed = append(streamed, c.Fingerprint)
	}
	if len(streamed) != 3 || streamed[0] != "SN1" || streamed[2] != "Kitchen" {
		t.Errorf("streamed = %v", streamed)
	}
}

func TestScanIsStableAcrossRuns(t *testing.T) {
	src := staticSource{name: "usb", configs: []registry.PrinterConfig{
		USBCandidate(1, 2, "A"),
		USBCandidate(3, 4, "B"),
	}}
	sc := NewScanner(zerolog.Nop(), src)

	first, _ := sc.Scan(context.Background(), nil)
	second, _ := sc.Scan(context.Background(), nil)
	if len(first) != len(second) {
		t.Fatalf("size changed %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("candidate %d changed: %+v -> %+v", i, first[i], second[i])
		}
	}
}

func TestScanSourceFailure(t *testing.T) {
	bad := staticSource{name: "usb", err: errors.New("libusb missing")}
	good := staticSource{name: "mdns", configs: []registry.PrinterConfig{netCandidate("Bar", "10.0.0.9")}}

	got, err := NewScanner(zerolog.Nop(), bad, good).Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("one failing source should not fail the scan: %v", err)
	}
	if len(got) != 1 || !got[0].IsDefault {
		t.Errorf("got %+v", got)
	}

	if _, err := NewScanner(zerolog.Nop(), bad).Scan(context.Background(), nil); err == nil {
		t.Error("expected error when every source fails")
	}
}

type panicSource struct{}

func (panicSource) Name() string { return "usb" }

func (panicSource) Discover(context.Context, func(registry.PrinterConfig)) error {
	panic("libusb: init failed")
}

func TestScanSourcePanic(t *testing.T) {
	good := staticSource{name: "mdns", configs: []registry.PrinterConfig{netCandidate("Bar", "10.0.0.9")}}

	got, err := NewScanner(zerolog.Nop(), panicSource{}, good).Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("a panicking source should not fail the scan: %v", err)
	}
	if len(got) != 1 || got[0].Fingerprint != "Bar" || !got[0].IsDefault {
		t.Errorf("got %+v", got)
	}

	if _, err := NewScanner(zerolog.Nop(), panicSource{}).Scan(context.Background(), nil); err == nil {
		t.Error("expected the panic to surface as the source error")
	}
}

func TestNetworkCandidate(t *testing.T) {
	e := zeroconf.NewServiceEntry("Kitchen Printer", "_printer._tcp", "local.")
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.40")}
	e.Text = []string{"ty=TM-T20", "UUID=cfe92100-67c4-11d4-a45f-f8d027761a95"}

	c, ok := NetworkCandidate(e)
	if !ok {
		t.Fatal("expected candidate")
	}
	if c.IPAddress != "192.168.1.40" || c.Fingerprint != "cfe92100-67c4-11d4-a45f-f8d027761a95" {
		t.Errorf("got %+v", c)
	}

	e.Text = nil
	if c, _ := NetworkCandidate(e); c.Fingerprint != "Kitchen Printer" {
		t.Errorf("fingerprint = %q, want instance name", c.Fingerprint)
	}

	e.AddrIPv4 = nil
	if _, ok := NetworkCandidate(e); ok {
		t.Error("entry without address should be dropped")
	}
}

func TestIsPrinterClass(t *testing.T) {
	byDevice := &gousb.DeviceDesc{Class: gousb.ClassPrinter}
	byInterface := &gousb.DeviceDesc{
		Class: gousb.ClassPerInterface,
		Configs: map[int]gousb.ConfigDesc{
			1: {Interfaces: []gousb.InterfaceDesc{{AltSettings: []gousb.InterfaceSetting{{Class: gousb.ClassPrinter}}}}},
		},
	}
	hid := &gousb.DeviceDesc{Class: gousb.ClassHID}

	if !IsPrinterClass(byDevice) || !IsPrinterClass(byInterface) || IsPrinterClass(hid) {
		t.Error("printer class detection wrong")
	}
}

func TestSerialSource(t *testing.T) {
	s := NewSerialSource(0, zerolog.Nop())
	s.ports = func() []string { return []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyACM0"} }
	s.probe = func(port string) error {
		if port == "/dev/ttyUSB1" {
			return errors.New("permission denied")
		}
		return nil
	}

	var got []registry.PrinterConfig
	if err := s.Discover(context.Background(), func(c registry.PrinterConfig) { got = append(got, c) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].SerialPort != "/dev/ttyUSB0" || got[0].Fingerprint != "serial:/dev/ttyUSB0" || got[0].ConnectionType != registry.ConnSerial {
		t.Errorf("candidate = %+v", got[0])
	}
	if err := got[1].Validate(); err != nil {
		t.Errorf("candidate invalid: %v", err)
	}
}
