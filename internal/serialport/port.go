// internal/serialport/port.go
package serialport

import (
	"fmt"
	"io"

	"go.bug.st/serial"

	"serial-bridge/internal/model"
)

// Port is the open handle to a physical serial interface. Read and Write
// may run in different goroutines; Close interrupts both even while they
// are blocked, which is what the bridge relies on for unconditional pump
// cancellation.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a serial port for a given configuration.
type Opener interface {
	Open(cfg model.PortConfig) (Port, error)
}

// SystemOpener opens real serial devices on the host.
type SystemOpener struct{}

// Open opens the named port with the requested framing.
func (SystemOpener) Open(cfg model.PortConfig) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: dataBits(cfg.DataBits),
		StopBits: stopBits(cfg.StopBits),
		Parity:   parity(cfg.Parity),
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	return port, nil
}

func dataBits(bits int) int {
	switch bits {
	case 5, 6, 7:
		return bits
	default:
		return 8
	}
}

func stopBits(bits int) serial.StopBits {
	switch bits {
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

func parity(p string) serial.Parity {
	switch p {
	case model.ParityOdd:
		return serial.OddParity
	case model.ParityEven:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}
