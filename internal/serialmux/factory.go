package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealPortFactory opens hardware ports through go.bug.st/serial.
type RealPortFactory struct{}

func (RealPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// OpenSerialMux opens path with factory and wraps the port in a SerialMux.
// A non-zero read timeout is applied when the port supports one.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	if d := opts.ReadTimeout(); d > 0 {
		if tp, ok := port.(TimeoutSerialPorter); ok {
			if err := tp.SetReadTimeout(d); err != nil {
				_ = port.Close()
				return nil, fmt.Errorf("set read timeout: %w", err)
			}
		}
	}
	return NewSerialMux[SerialPorter](port), nil
}

// NewRealSerialMux creates a SerialMux backed by the serial device at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(RealPortFactory{}, path, opts)
}

// ListPorts returns the serial device names present on this host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
