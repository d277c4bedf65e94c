package printer

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/registry"
)

// Conn is an open link to one physical printer. Close is idempotent.
type Conn interface {
	io.Writer
	Close() error
}

// Opener opens a Conn for a configured printer.
type Opener interface {
	Open(ctx context.Context, cfg registry.PrinterConfig) (Conn, error)
}

// DeviceOpener opens real USB, network and serial links.
type DeviceOpener struct {
	NetworkPort    int
	ConnectTimeout time.Duration
	SerialBaud     int
}

// NewDeviceOpener returns an opener with the stock raw printing port.
func NewDeviceOpener() *DeviceOpener {
	return &DeviceOpener{
		NetworkPort:    9100,
		ConnectTimeout: 5 * time.Second,
		SerialBaud:     9600,
	}
}

// Open resolves the target named by cfg. USB devices are looked up by vendor
// and product id at this point, so an unplugged printer fails here.
func (o *DeviceOpener) Open(ctx context.Context, cfg registry.PrinterConfig) (Conn, error) {
	var (
		c   Conn
		err error
	)
	switch cfg.ConnectionType {
	case registry.ConnUSB:
		var vid, pid uint16
		if vid, err = ParseUSBID(cfg.VendorID); err != nil {
			return nil, apperr.Wrap(apperr.KindInvalid, "vendor_id", err)
		}
		if pid, err = ParseUSBID(cfg.ProductID); err != nil {
			return nil, apperr.Wrap(apperr.KindInvalid, "product_id", err)
		}
		c, err = openUSB(vid, pid)
	case registry.ConnNetwork:
		c, err = openNetwork(ctx, cfg.IPAddress, o.NetworkPort, o.ConnectTimeout)
	case registry.ConnSerial:
		c, err = openSerial(cfg.SerialPort, o.SerialBaud)
	default:
		return nil, apperr.New(apperr.KindInvalid, "Unsupported connection type")
	}
	if err != nil {
		if apperr.KindOf(err) != apperr.KindUnknown {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindDevice, "open "+cfg.Describe(), err)
	}
	return c, nil
}

// ParseUSBID parses a stored bus id ("04b8", "0x04B8").
func ParseUSBID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if s == "" {
		return 0, fmt.Errorf("empty usb id")
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid usb id %q", s)
	}
	return uint16(v), nil
}

// WithConnection opens cfg, runs fn and always closes the link, even when fn
// fails. The first error wins.
func WithConnection(ctx context.Context, o Opener, cfg registry.PrinterConfig, fn func(Conn) error) (err error) {
	conn, err := o.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = apperr.Wrap(apperr.KindDevice, "close", cerr)
		}
	}()
	return fn(conn)
}

// WriteAll writes data completely.
func WriteAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return apperr.Wrap(apperr.KindDevice, "write", err)
		}
		if n == 0 {
			return apperr.Wrap(apperr.KindDevice, "write", io.ErrShortWrite)
		}
		data = data[n:]
	}
	return nil
}

// closer makes Close idempotent.
type closer struct {
	once sync.Once
	err  error
}

func (c *closer) close(fn func() error) error {
	c.once.Do(func() { c.err = fn() })
	return c.err
}
