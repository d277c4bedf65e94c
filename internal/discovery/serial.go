package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"

	"github.com/thereceipt/print-agent/internal/registry"
)

// SerialSource lists serial ports that can be opened. It cannot tell a
// printer from any other serial device, so it is off unless configured.
type SerialSource struct {
	baud  int
	ports func() []string
	probe func(port string) error
	log   zerolog.Logger
}

func NewSerialSource(baud int, log zerolog.Logger) *SerialSource {
	if baud <= 0 {
		baud = 9600
	}
	s := &SerialSource{
		baud:  baud,
		ports: platformPorts,
		log:   log.With().Str("source", "serial").Logger(),
	}
	s.probe = s.open
	return s
}

func (s *SerialSource) Name() string { return "serial" }

func (s *SerialSource) Discover(ctx context.Context, emit func(registry.PrinterConfig)) error {
	for _, port := range s.ports() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.probe(port); err != nil {
			s.log.Debug().Err(err).Str("port", port).Msg("skipping port")
			continue
		}
		emit(SerialCandidate(port))
	}
	return nil
}

func (s *SerialSource) open(port string) error {
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: s.baud})
	if err != nil {
		return err
	}
	return p.Close()
}

// SerialCandidate builds the config of a serial printer.
func SerialCandidate(port string) registry.PrinterConfig {
	return registry.PrinterConfig{
		ConnectionType: registry.ConnSerial,
		SerialPort:     port,
		Profile:        registry.DefaultProfile,
		Fingerprint:    "serial:" + port,
	}
}

func platformPorts() []string {
	switch runtime.GOOS {
	case "darwin":
		return globPorts([]string{"/dev/cu.*"}, "Bluetooth", "debug-console", "KeySerial")
	case "windows":
		ports := make([]string, 0, 32)
		for i := 1; i <= 32; i++ {
			ports = append(ports, fmt.Sprintf("COM%d", i))
		}
		return ports
	default:
		return globPorts([]string{"/dev/ttyUSB*", "/dev/ttyACM*"})
	}
}

func globPorts(patterns []string, skip ...string) []string {
	var ports []string
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
	match:
		for _, m := range matches {
			for _, s := range skip {
				if strings.Contains(m, s) {
					continue match
				}
			}
			ports = append(ports, m)
		}
	}
	sort.Strings(ports)
	return ports
}
