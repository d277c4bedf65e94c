package printer

import (
	"fmt"
	"sync"

	"github.com/tarm/serial"
)

type serialConn struct {
	port *serial.Port
	mu   sync.Mutex
	closer
}

func openSerial(device string, baud int) (*serialConn, error) {
	if baud == 0 {
		baud = 9600
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return &serialConn{port: port}, nil
}

func (c *serialConn) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port.Write(data)
}

func (c *serialConn) Close() error {
	return c.close(c.port.Close)
}
