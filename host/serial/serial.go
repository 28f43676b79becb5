package serial

import (
	"io"
)

// Port represents a serial port interface. This abstraction allows for
// different implementations:
// - Native serial (using github.com/tarm/serial)
// - Mock serial (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate. SDS011 sensors are fixed at 9600 8N1.
	Baud int

	// Read timeout in milliseconds. Kept short (not 0/blocking) so the
	// Adapter can poll for available bytes without stalling Process.
	ReadTimeout int
}

// DefaultConfig returns a default configuration for an SDS011 sensor.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        9600, // SDS011 fixed baud rate
		ReadTimeout: 20,   // 20ms poll interval for the Adapter
	}
}
