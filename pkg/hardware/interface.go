package hardware

import (
	"context"

	"github.com/pkg/errors"
)

// Motor identifies one of the two drive wheels.
type Motor int

const (
	MotorLeft Motor = iota
	MotorRight

	NumMotors = 2
)

func (m Motor) String() string {
	switch m {
	case MotorLeft:
		return "left"
	case MotorRight:
		return "right"
	}
	return "unknown"
}

// Channel identifies a hardware encoder counter.
type Channel int

var (
	ErrUnknownChannel = errors.New("unknown encoder channel")
	ErrUnknownMotor   = errors.New("unknown motor")
)

// CounterReader gives access to the raw, wrapping, encoder counter registers.
type CounterReader interface {
	ReadCounter(ctx context.Context, ch Channel) (uint32, error)
	ResetCounter(ctx context.Context, ch Channel) error
}

// MotorDriver accepts signed duty commands.  The sign selects the direction and
// the magnitude the PWM duty.
type MotorDriver interface {
	// Start enables the PWM outputs of both motors.
	Start(ctx context.Context) error
	// Stop disables the PWM outputs and zeroes the duty.
	Stop(ctx context.Context) error
	// Enable switches the PWM output of a single motor, used when one wheel
	// is to be driven by hand.
	Enable(ctx context.Context, m Motor, on bool) error
	SetDuty(ctx context.Context, m Motor, duty int16) error
}

// DirectionSensor is optionally implemented by counter readers that can
// report the hardware counting direction.
type DirectionSensor interface {
	CountingDown(ctx context.Context, ch Channel) (bool, error)
}

// Reading is one named health value from a backend.
type Reading struct {
	Name  string
	Value string
}

// HealthReporter is optionally implemented by backends that can report more
// than counts, such as supply voltage or decoder faults.
type HealthReporter interface {
	Health(ctx context.Context) ([]Reading, error)
}
