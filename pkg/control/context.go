// Package control runs the wheel control loops.  A Context owns the encoders,
// PID controllers and trajectory curves of both wheels; the active mode's
// Strategy is stepped once per control period by Tick, and the UI changes
// modes and targets through the Context's methods from its own goroutine.
package control

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/curve"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/pid"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/telemetry"
)

// Status is a snapshot for displays and the command line.
type Status struct {
	Mode    Mode
	Running bool

	Left, Right encoder.State
	// Targets of the speed and angle loops, indexed by motor.
	SpeedTarget [hardware.NumMotors]float64
	AngleTarget [hardware.NumMotors]float64
	Duty        [hardware.NumMotors]int16

	CurveActive bool
	Ticks       int64
	TickErrors  int64
}

type Context struct {
	cfg    Config
	wheels Wheels
	motors hardware.MotorDriver
	sink   telemetry.Sink
	clk    clock.Clock
	logger *zap.SugaredLogger

	// lock serialises Tick with changes of mode, targets and curves.
	lock     sync.Mutex
	loops    loops
	strategy Strategy
	duty     [hardware.NumMotors]int16

	mode       atomic.Int32
	running    atomic.Bool
	ticks      atomic.Int64
	tickErrors atomic.Int64
}

func NewContext(
	cfg Config,
	wheels Wheels,
	motors hardware.MotorDriver,
	sink telemetry.Sink,
	clk clock.Clock,
	logger *zap.SugaredLogger,
) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid control config")
	}
	if wheels.Left == nil || wheels.Right == nil {
		return nil, errors.New("both wheel encoders are required")
	}
	if sink == nil {
		sink = telemetry.Discard{}
	}
	c := &Context{
		cfg:      cfg,
		wheels:   wheels,
		motors:   motors,
		sink:     sink,
		clk:      clk,
		logger:   logger,
		strategy: idleStrategy{},
	}
	for m := 0; m < hardware.NumMotors; m++ {
		var err error
		if c.loops.speed[m], err = pid.New(cfg.Limits); err != nil {
			return nil, err
		}
		if c.loops.angle[m], err = pid.New(cfg.Limits); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Context) Config() Config {
	return c.cfg
}

func (c *Context) Mode() Mode {
	return Mode(c.mode.Load())
}

func (c *Context) Running() bool {
	return c.running.Load()
}

// SetMode re-initialises every loop, loads the mode's gains and selects its
// strategy for subsequent ticks.
func (c *Context) SetMode(ctx context.Context, m Mode) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	s, err := newStrategy(m, &c.loops, c.cfg)
	if err != nil {
		return errors.Wrapf(err, "mode %d", m)
	}
	c.resetLoops()
	for loop, g := range c.cfg.Gains[m] {
		if ctrl := c.loops.controller(loop); ctrl != nil {
			if err := ctrl.SetGains(g); err != nil {
				return errors.Wrapf(err, "%v gains for %v", loop, m)
			}
		}
	}
	c.strategy = s
	c.mode.Store(int32(m))
	c.logger.Infow("Control mode selected", "mode", m)

	if c.running.Load() {
		return c.applyEnables(ctx)
	}
	return nil
}

func (c *Context) resetLoops() {
	for m := 0; m < hardware.NumMotors; m++ {
		c.loops.speed[m].Reset()
		c.loops.speed[m].SetGains(pid.Gains{})
		c.loops.angle[m].Reset()
		c.loops.angle[m].SetGains(pid.Gains{})
	}
	c.loops.velocityCurve = curve.Velocity{}
	c.loops.positionCurve = curve.Position{}
}

// applyEnables disables the master wheel's output in follow modes and
// enables both otherwise.
func (c *Context) applyEnables(ctx context.Context) error {
	master, follow := masterOf(c.strategy.Mode())
	var err error
	for m := hardware.Motor(0); m < hardware.NumMotors; m++ {
		err = multierr.Append(err, c.motors.Enable(ctx, m, !follow || m != master))
	}
	return err
}

// SetSpeedTarget sets the left speed loop's target, in rpm.
func (c *Context) SetSpeedTarget(rpm float64) error {
	return c.loops.speed[hardware.MotorLeft].SetTarget(rpm)
}

// SetAngleTarget sets the left angle loop's target, in degrees.
func (c *Context) SetAngleTarget(deg float64) error {
	return c.loops.angle[hardware.MotorLeft].SetTarget(deg)
}

// SetSpeedCurve starts a velocity profile from the left wheel's measured speed
// to target rpm, changing by at most accel rpm per period.
func (c *Context) SetSpeedCurve(target, accel float64) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	start := c.wheels.Left.Velocity().Angular
	if err := c.loops.velocityCurve.SetProfile(start, target, accel, c.cfg.VelocityCurveMax); err != nil {
		return err
	}
	c.logger.Debugw("Speed curve set", "start", start, "target", target, "acceleration", accel)
	return nil
}

// SetPositionCurve starts a position profile from the left wheel's measured
// angle to target degrees, cruising at rate degrees per period.
func (c *Context) SetPositionCurve(target, rate float64) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	start := c.wheels.Left.Position().Angle
	if err := c.loops.positionCurve.SetProfile(start, target, rate); err != nil {
		return err
	}
	c.logger.Debugw("Position curve set", "start", start, "target", target, "rate", rate)
	return nil
}

func (c *Context) SetGains(loop Loop, g pid.Gains) error {
	ctrl := c.loops.controller(loop)
	if ctrl == nil {
		return errors.Wrapf(ErrUnknownLoop, "loop %d", loop)
	}
	return ctrl.SetGains(g)
}

func (c *Context) Gains(loop Loop) (pid.Gains, error) {
	ctrl := c.loops.controller(loop)
	if ctrl == nil {
		return pid.Gains{}, errors.Wrapf(ErrUnknownLoop, "loop %d", loop)
	}
	return ctrl.Gains(), nil
}

// Start zeroes the encoders and starts the motor outputs.  Ticks have no
// effect until Start is called.
func (c *Context) Start(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.resetEncoders(ctx); err != nil {
		return err
	}
	if err := c.motors.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start motors")
	}
	if err := c.applyEnables(ctx); err != nil {
		return errors.Wrap(err, "failed to enable motors")
	}
	c.running.Store(true)
	c.logger.Infow("Control started", "mode", c.strategy.Mode())
	return nil
}

// Stop halts ticking, zeroes the encoders, abandons any curve and stops the
// motor outputs.
func (c *Context) Stop(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.running.Store(false)
	c.loops.velocityCurve.Reset(0)
	c.loops.positionCurve.Reset(0)
	c.duty = [hardware.NumMotors]int16{}
	err := c.resetEncoders(ctx)
	err = multierr.Append(err, c.motors.Stop(ctx))
	c.logger.Infow("Control stopped")
	return err
}

func (c *Context) resetEncoders(ctx context.Context) error {
	return multierr.Append(c.wheels.Left.Reset(ctx), c.wheels.Right.Reset(ctx))
}

// Tick runs one control period: both encoders are sampled, the active
// strategy is stepped and its commands applied, and the sample is emitted.
func (c *Context) Tick(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.running.Load() {
		return nil
	}
	c.ticks.Add(1)

	err := c.tick(ctx)
	if err != nil {
		c.tickErrors.Add(1)
	}
	return err
}

func (c *Context) tick(ctx context.Context) error {
	if err := c.wheels.Left.Update(ctx, c.cfg.Period); err != nil {
		return err
	}
	if err := c.wheels.Right.Update(ctx, c.cfg.Period); err != nil {
		return err
	}

	cmds, smp, err := c.strategy.Step(ctx, &c.wheels)
	if err != nil {
		return errors.Wrapf(err, "%v step", c.strategy.Mode())
	}
	for m := hardware.Motor(0); m < hardware.NumMotors; m++ {
		if !cmds.Drive[m] {
			continue
		}
		if err := c.motors.SetDuty(ctx, m, cmds.Duty[m]); err != nil {
			return errors.Wrapf(err, "failed to drive %v motor", m)
		}
		c.duty[m] = cmds.Duty[m]
	}

	if smp.ModeID == uint8(ModeIdle) {
		return nil
	}
	smp.Time = c.clk.Now()
	if err := c.sink.Emit(ctx, smp); err != nil {
		return errors.Wrap(err, "telemetry")
	}
	return nil
}

func (c *Context) Status() Status {
	c.lock.Lock()
	defer c.lock.Unlock()

	s := Status{
		Mode:        c.strategy.Mode(),
		Running:     c.running.Load(),
		Left:        c.wheels.Left.Snapshot(),
		Right:       c.wheels.Right.Snapshot(),
		Duty:        c.duty,
		CurveActive: c.loops.velocityCurve.Active() || c.loops.positionCurve.Active(),
		Ticks:       c.ticks.Load(),
		TickErrors:  c.tickErrors.Load(),
	}
	for m := 0; m < hardware.NumMotors; m++ {
		s.SpeedTarget[m] = c.loops.speed[m].Target()
		s.AngleTarget[m] = c.loops.angle[m].Target()
	}
	return s
}
