package tb6612

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.viam.com/test"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
)

type fakePin struct {
	level gpio.Level
	duty  gpio.Duty
	freq  physic.Frequency
}

func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	return nil
}

func (p *fakePin) PWM(duty gpio.Duty, f physic.Frequency) error {
	p.duty = duty
	p.freq = f
	return nil
}

func newChannel() (Channel, *fakePin, *fakePin, *fakePin) {
	in1, in2, pwm := &fakePin{}, &fakePin{}, &fakePin{}
	return Channel{In1: in1, In2: in2, PWM: pwm}, in1, in2, pwm
}

func TestDirectionAndDuty(t *testing.T) {
	left, in1, in2, pwm := newChannel()
	right, _, rin2, rpwm := newChannel()
	stby := &fakePin{}
	d := New(left, right, stby, 0, zap.NewNop().Sugar())
	ctx := context.Background()

	test.That(t, d.Start(ctx), test.ShouldBeNil)
	test.That(t, stby.level, test.ShouldEqual, gpio.High)

	test.That(t, d.SetDuty(ctx, hardware.MotorLeft, 1000), test.ShouldBeNil)
	test.That(t, in1.level, test.ShouldEqual, gpio.High)
	test.That(t, in2.level, test.ShouldEqual, gpio.Low)
	test.That(t, pwm.duty, test.ShouldEqual, gpio.DutyMax/2)
	test.That(t, pwm.freq, test.ShouldEqual, DefaultFrequency)

	test.That(t, d.SetDuty(ctx, hardware.MotorRight, -5000), test.ShouldBeNil)
	test.That(t, rin2.level, test.ShouldEqual, gpio.High)
	test.That(t, rpwm.duty, test.ShouldEqual, gpio.DutyMax)
	test.That(t, d.Duty(hardware.MotorRight), test.ShouldEqual, -5000)

	test.That(t, d.SetDuty(ctx, hardware.MotorLeft, 0), test.ShouldBeNil)
	test.That(t, in1.level, test.ShouldEqual, gpio.Low)
	test.That(t, in2.level, test.ShouldEqual, gpio.Low)
	test.That(t, pwm.duty, test.ShouldEqual, 0)
}

func TestEnableAndStop(t *testing.T) {
	left, _, _, pwm := newChannel()
	right, _, _, rpwm := newChannel()
	d := New(left, right, nil, physic.KiloHertz, zap.NewNop().Sugar())
	ctx := context.Background()

	// Duty is held at zero until started.
	test.That(t, d.SetDuty(ctx, hardware.MotorLeft, 2000), test.ShouldBeNil)
	test.That(t, pwm.duty, test.ShouldEqual, 0)
	test.That(t, d.Start(ctx), test.ShouldBeNil)
	test.That(t, pwm.duty, test.ShouldEqual, gpio.DutyMax)

	test.That(t, d.Enable(ctx, hardware.MotorLeft, false), test.ShouldBeNil)
	test.That(t, pwm.duty, test.ShouldEqual, 0)
	test.That(t, d.Enable(ctx, hardware.MotorLeft, true), test.ShouldBeNil)
	test.That(t, pwm.duty, test.ShouldEqual, gpio.DutyMax)

	test.That(t, d.SetDuty(ctx, hardware.MotorRight, 500), test.ShouldBeNil)
	test.That(t, d.Stop(ctx), test.ShouldBeNil)
	test.That(t, pwm.duty, test.ShouldEqual, 0)
	test.That(t, rpwm.duty, test.ShouldEqual, 0)
	test.That(t, d.Duty(hardware.MotorRight), test.ShouldEqual, 0)

	err := d.SetDuty(ctx, hardware.Motor(-1), 1)
	test.That(t, errors.Is(err, hardware.ErrUnknownMotor), test.ShouldBeTrue)
}
