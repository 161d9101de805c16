package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenPort opens a real serial port at path using go.bug.st/serial.
func OpenPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return NewSerialMuxWithOpener(path, opts, OpenPort)
}

// NewSerialMuxWithOpener opens path through opener and wraps the result.
func NewSerialMuxWithOpener(path string, opts PortOptions, opener SerialPortOpener) (*SerialMux[SerialPorter], error) {
	port, err := opener(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux[SerialPorter](port), nil
}
