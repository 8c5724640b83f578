package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	cfg  *Config
}

// Open opens a native serial port and discards anything left in its buffers
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial config cannot be nil")
	}
	if cfg.Device == "" {
		return nil, errors.New("serial device not set")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}

	p := &NativePort{port: port, cfg: cfg}
	if err := p.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush serial port %s: %w", cfg.Device, err)
	}
	return p, nil
}

func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port
func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards unread input and unsent output
func (p *NativePort) Flush() error {
	return p.port.Flush()
}

// Device returns the path the port was opened on
func (p *NativePort) Device() string {
	return p.cfg.Device
}
