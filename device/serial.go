package device

import (
	"fmt"

	"go.bug.st/serial"
)

// serialDevice is a native serial port. DTR and RTS drive the real line
// signals; Drain blocks until the output buffer reaches the wire.
type serialDevice struct {
	port serial.Port
	path string
}

func openSerial(spec Spec) (Device, error) {
	mode := &serial.Mode{
		BaudRate: spec.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(spec.Path, mode)
	if err != nil {
		if portErr, ok := err.(*serial.PortError); ok && portErr.Code() == serial.InvalidSerialPort {
			return nil, fmt.Errorf("%w: %s: %v", ErrMisconfigured, spec.Path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, spec.Path, err)
	}
	return &serialDevice{port: port, path: spec.Path}, nil
}

func (d *serialDevice) Read(p []byte) (int, error)  { return d.port.Read(p) }
func (d *serialDevice) Write(p []byte) (int, error) { return d.port.Write(p) }
func (d *serialDevice) Close() error                { return d.port.Close() }
func (d *serialDevice) Name() string                { return d.path }

func (d *serialDevice) SetDTR(on bool) error { return d.port.SetDTR(on) }
func (d *serialDevice) SetRTS(on bool) error { return d.port.SetRTS(on) }
func (d *serialDevice) Drain() error         { return d.port.Drain() }
