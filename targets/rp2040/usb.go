//go:build rp2040

package main

import (
	"machine"
)

// InitUSB configures machine.Serial, which TinyGo maps to USB CDC-ACM on the RP2040
func InitUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of buffered bytes
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes data and returns how much was accepted
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
