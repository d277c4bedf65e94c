package discovery

import (
	"context"
	"fmt"

	"github.com/google/gousb"
	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/registry"
)

// USBSource enumerates bus devices of the printer class.
type USBSource struct {
	log zerolog.Logger
}

func NewUSBSource(log zerolog.Logger) *USBSource {
	return &USBSource{log: log.With().Str("source", "usb").Logger()}
}

func (s *USBSource) Name() string { return "usb" }

func (s *USBSource) Discover(ctx context.Context, emit func(registry.PrinterConfig)) error {
	usb := gousb.NewContext()
	defer usb.Close()

	var descs []*gousb.DeviceDesc
	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if !IsPrinterClass(desc) {
			return false
		}
		descs = append(descs, desc)
		return true
	})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	// Devices we lack permission to open still show up in descs.
	if err != nil {
		s.log.Debug().Err(err).Msg("some usb devices could not be opened")
	}

	opened := make(map[string]*gousb.Device, len(devs))
	for _, d := range devs {
		opened[busKey(d.Desc)] = d
	}

	for _, desc := range descs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var serial string
		if d, ok := opened[busKey(desc)]; ok {
			if sn, err := d.SerialNumber(); err == nil {
				serial = sn
			}
		}
		emit(USBCandidate(uint16(desc.Vendor), uint16(desc.Product), serial))
	}
	return nil
}

// USBCandidate builds the config of a bus printer.
func USBCandidate(vid, pid uint16, serial string) registry.PrinterConfig {
	return registry.PrinterConfig{
		ConnectionType: registry.ConnUSB,
		VendorID:       registry.FormatUSBID(vid),
		ProductID:      registry.FormatUSBID(pid),
		Profile:        registry.DefaultProfile,
		Fingerprint:    registry.USBFingerprint(serial, vid, pid),
	}
}

// IsPrinterClass reports whether the device or any of its interfaces is of
// the printer class.
func IsPrinterClass(desc *gousb.DeviceDesc) bool {
	if desc.Class == gousb.ClassPrinter {
		return true
	}
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.ClassPrinter {
					return true
				}
			}
		}
	}
	return false
}

func busKey(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("%d.%d", desc.Bus, desc.Address)
}
