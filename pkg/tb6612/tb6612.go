// Package tb6612 drives two DC motors through a TB6612FNG dual H-bridge wired to
// GPIO pins: two direction inputs and one PWM input per motor, plus the shared
// standby pin.
package tb6612

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
)

// MaxDuty is the full-scale duty command, matching a timer period of 2000
// counts.
const MaxDuty = 2000

const DefaultFrequency = 10 * physic.KiloHertz

// OutPin is the part of gpio.PinOut the driver needs.
type OutPin interface {
	Out(l gpio.Level) error
	PWM(duty gpio.Duty, f physic.Frequency) error
}

// Channel holds the pins of one H-bridge channel.
type Channel struct {
	In1, In2 OutPin
	PWM      OutPin
}

// PinNames names the pins of one channel in the host's GPIO registry.
type PinNames struct {
	In1 string `yaml:"in1"`
	In2 string `yaml:"in2"`
	PWM string `yaml:"pwm"`
}

type Driver struct {
	channels  [hardware.NumMotors]Channel
	standby   OutPin
	frequency physic.Frequency
	logger    *zap.SugaredLogger

	lock    sync.Mutex
	running bool
	enabled [hardware.NumMotors]bool
	duty    [hardware.NumMotors]int16
}

var _ hardware.MotorDriver = (*Driver)(nil)

// New returns a driver for the given channels.  standby may be nil when the
// standby pin is tied high.
func New(left, right Channel, standby OutPin, frequency physic.Frequency, logger *zap.SugaredLogger) *Driver {
	if frequency == 0 {
		frequency = DefaultFrequency
	}
	return &Driver{
		channels:  [hardware.NumMotors]Channel{left, right},
		standby:   standby,
		frequency: frequency,
		logger:    logger,
		enabled:   [hardware.NumMotors]bool{true, true},
	}
}

// Open looks the pins up by name.  host.Init must have been called.
func Open(left, right PinNames, standby string, frequency physic.Frequency, logger *zap.SugaredLogger) (*Driver, error) {
	lookup := func(name string) (OutPin, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, errors.Errorf("no GPIO pin named %q", name)
		}
		return p, nil
	}
	var chans [hardware.NumMotors]Channel
	for m, names := range []PinNames{left, right} {
		var err error
		if chans[m].In1, err = lookup(names.In1); err != nil {
			return nil, err
		}
		if chans[m].In2, err = lookup(names.In2); err != nil {
			return nil, err
		}
		if chans[m].PWM, err = lookup(names.PWM); err != nil {
			return nil, err
		}
	}
	var stby OutPin
	if standby != "" {
		var err error
		if stby, err = lookup(standby); err != nil {
			return nil, err
		}
	}
	return New(chans[0], chans[1], stby, frequency, logger), nil
}

func (d *Driver) Start(ctx context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.running = true
	if d.standby != nil {
		if err := d.standby.Out(gpio.High); err != nil {
			return errors.Wrap(err, "failed to leave standby")
		}
	}
	var err error
	for m := range d.channels {
		err = multierr.Append(err, d.apply(hardware.Motor(m)))
	}
	return err
}

func (d *Driver) Stop(ctx context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.running = false
	var err error
	for m := range d.channels {
		d.duty[m] = 0
		err = multierr.Append(err, d.apply(hardware.Motor(m)))
	}
	if d.standby != nil {
		err = multierr.Append(err, d.standby.Out(gpio.Low))
	}
	return err
}

func (d *Driver) Enable(ctx context.Context, m hardware.Motor, on bool) error {
	if m < 0 || m >= hardware.NumMotors {
		return errors.Wrapf(hardware.ErrUnknownMotor, "motor %d", m)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.enabled[m] = on
	return d.apply(m)
}

func (d *Driver) SetDuty(ctx context.Context, m hardware.Motor, duty int16) error {
	if m < 0 || m >= hardware.NumMotors {
		return errors.Wrapf(hardware.ErrUnknownMotor, "motor %d", m)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.duty[m] = duty
	return d.apply(m)
}

// Duty returns the last commanded duty of a motor.
func (d *Driver) Duty(m hardware.Motor) int16 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.duty[m]
}

// apply drives the pins of motor m from the stored state.  Positive duty sets
// IN1 high, negative sets IN2 high and zero releases both.
func (d *Driver) apply(m hardware.Motor) error {
	c := d.channels[m]
	duty := int(d.duty[m])
	if !d.running || !d.enabled[m] {
		duty = 0
	}
	in1, in2 := gpio.Low, gpio.Low
	switch {
	case duty > 0:
		in1 = gpio.High
	case duty < 0:
		in2 = gpio.High
		duty = -duty
	}
	if duty > MaxDuty {
		duty = MaxDuty
	}

	if err := c.In1.Out(in1); err != nil {
		return errors.Wrapf(err, "%v motor IN1", m)
	}
	if err := c.In2.Out(in2); err != nil {
		return errors.Wrapf(err, "%v motor IN2", m)
	}
	pwm := gpio.Duty(int64(duty) * int64(gpio.DutyMax) / MaxDuty)
	if err := c.PWM.PWM(pwm, d.frequency); err != nil {
		return errors.Wrapf(err, "%v motor PWM", m)
	}
	return nil
}
