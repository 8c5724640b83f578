package serial

import (
	"io"
)

// Port is a serial link to the firmware.
// The native implementation wraps github.com/tarm/serial; tests use pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data buffered by the driver but not yet read
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC ignores it
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultBaud is used when neither the config file nor the flags set one
const DefaultBaud = 250000

// DefaultConfig returns the configuration for device with default timing
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}
