package telemetry

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

const DefaultBaudRate = 115200

// CSV writes one line per sample, measured value then target, followed by the
// velocity when the sample carries one.  The format suits serial plotters.
type CSV struct {
	w io.Writer
}

func NewCSV(w io.Writer) *CSV {
	return &CSV{w: w}
}

func (c *CSV) Emit(_ context.Context, s Sample) error {
	var err error
	if s.HasVelocity {
		_, err = fmt.Fprintf(c.w, "%.2f,%.2f,%.2f\n", s.Measured, s.Target, s.Velocity)
	} else {
		_, err = fmt.Fprintf(c.w, "%.2f,%.2f\n", s.Measured, s.Target)
	}
	return err
}

func (c *CSV) Close() error {
	if closer, ok := c.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// OpenSerial returns a CSV sink writing to a UART.
func OpenSerial(device string, baud int) (*CSV, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", device)
	}
	return NewCSV(port), nil
}
