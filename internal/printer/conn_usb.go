package printer

import (
	"fmt"
	"sync"

	"github.com/google/gousb"

	"github.com/thereceipt/print-agent/internal/apperr"
)

type usbConn struct {
	ctx      *gousb.Context
	device   *gousb.Device
	release  func()
	endpoint *gousb.OutEndpoint
	mu       sync.Mutex
	closer
}

// openUSB claims the default interface of the device and its first bulk OUT
// endpoint.
func openUSB(vid, pid uint16) (*usbConn, error) {
	ctx, err := newUSBContext()
	if err != nil {
		return nil, err
	}

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, apperr.New(apperr.KindDevice, "USB printer not found")
	}

	// The kernel usblp driver usually holds the interface.
	_ = dev.SetAutoDetach(true)

	iface, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim interface: %w", err)
	}

	for _, desc := range iface.Setting.Endpoints {
		if desc.Direction != gousb.EndpointDirectionOut {
			continue
		}
		ep, err := iface.OutEndpoint(desc.Number)
		if err != nil {
			continue
		}
		return &usbConn{ctx: ctx, device: dev, release: done, endpoint: ep}, nil
	}

	done()
	dev.Close()
	ctx.Close()
	return nil, fmt.Errorf("no OUT endpoint on USB printer %04x:%04x", vid, pid)
}

func (c *usbConn) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.Write(data)
}

func (c *usbConn) Close() error {
	return c.close(func() error {
		c.release()
		err := c.device.Close()
		if cerr := c.ctx.Close(); err == nil {
			err = cerr
		}
		return err
	})
}

// gousbContext is replaced in tests.
var gousbContext = gousb.NewContext

// newUSBContext wraps gousb.NewContext, which panics when libusb fails to
// initialise.
func newUSBContext() (ctx *gousb.Context, err error) {
	defer func() {
		if p := recover(); p != nil {
			ctx = nil
			err = apperr.Newf(apperr.KindDevice, "libusb unavailable: %v", p)
		}
	}()
	return gousbContext(), nil
}
