package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// NewRealSerialMux opens the serial port at path, typically the USB UART of
// the host-side HM-10, and wraps it in a SerialMux.
func NewRealSerialMux(path string, portOpts PortOptions, opts Options) (*SerialMux[serial.Port], error) {
	mode, err := portOpts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	return NewSerialMux[serial.Port](port, opts), nil
}
