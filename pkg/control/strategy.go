package control

import (
	"context"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/curve"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/filter"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/pid"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/telemetry"
)

// Wheels are the two wheel encoders, already updated for this period.
type Wheels struct {
	Left, Right *encoder.Encoder
}

func (w *Wheels) get(m hardware.Motor) *encoder.Encoder {
	if m == hardware.MotorRight {
		return w.Right
	}
	return w.Left
}

// Commands are the duties a strategy wants applied this period.  Motors not
// marked in Drive are left alone.
type Commands struct {
	Duty  [hardware.NumMotors]int16
	Drive [hardware.NumMotors]bool
}

// set converts a PID output to a duty, truncating toward zero.
func (c *Commands) set(m hardware.Motor, output float64) {
	c.Duty[m] = int16(output)
	c.Drive[m] = true
}

// Strategy is the per-tick behaviour of one mode.
type Strategy interface {
	Mode() Mode
	Step(ctx context.Context, w *Wheels) (Commands, telemetry.Sample, error)
}

// loops is the controller state shared by all strategies.
type loops struct {
	speed [hardware.NumMotors]*pid.Controller
	angle [hardware.NumMotors]*pid.Controller

	velocityCurve curve.Velocity
	positionCurve curve.Position
}

func (l *loops) controller(loop Loop) *pid.Controller {
	switch loop {
	case LoopSpeedLeft:
		return l.speed[hardware.MotorLeft]
	case LoopSpeedRight:
		return l.speed[hardware.MotorRight]
	case LoopAngleLeft:
		return l.angle[hardware.MotorLeft]
	case LoopAngleRight:
		return l.angle[hardware.MotorRight]
	}
	return nil
}

func sample(m Mode) telemetry.Sample {
	return telemetry.Sample{Mode: m.String(), ModeID: uint8(m)}
}

type idleStrategy struct{}

func (idleStrategy) Mode() Mode { return ModeIdle }

func (idleStrategy) Step(context.Context, *Wheels) (Commands, telemetry.Sample, error) {
	return Commands{}, sample(ModeIdle), nil
}

// speedStrategy runs the left wheel's incremental speed loop on a filtered
// velocity.  It serves speed, speed follow and speed curve modes; the latter
// takes its target from the velocity curve.
type speedStrategy struct {
	mode   Mode
	loops  *loops
	filter filter.Filter
	curved bool
}

func (s *speedStrategy) Mode() Mode { return s.mode }

func (s *speedStrategy) Step(_ context.Context, w *Wheels) (Commands, telemetry.Sample, error) {
	speed := s.loops.speed[hardware.MotorLeft]
	if s.curved {
		if err := speed.SetTarget(s.loops.velocityCurve.Step()); err != nil {
			return Commands{}, telemetry.Sample{}, err
		}
	}
	measured := w.Left.Velocity().Angular
	out := speed.UpdateSpeed(s.filter.Next(measured))

	var cmds Commands
	cmds.set(hardware.MotorLeft, out)
	smp := sample(s.mode)
	smp.Target = speed.Target()
	smp.Measured = measured
	return cmds, smp, nil
}

// positionStrategy is the cascade: the angle loop's output, clamped, is the
// speed loop's target.
type positionStrategy struct {
	loops *loops
	limit float64
}

func (s *positionStrategy) Mode() Mode { return ModePosition }

func (s *positionStrategy) Step(_ context.Context, w *Wheels) (Commands, telemetry.Sample, error) {
	angle := s.loops.angle[hardware.MotorLeft]
	speed := s.loops.speed[hardware.MotorLeft]
	st := w.Left.Snapshot()

	if err := speed.SetTarget(pid.Clamp(angle.UpdatePosition(st.Position.Angle), s.limit)); err != nil {
		return Commands{}, telemetry.Sample{}, err
	}
	out := speed.UpdateSpeed(st.Velocity.Angular)

	var cmds Commands
	cmds.set(hardware.MotorLeft, out)
	smp := sample(ModePosition)
	smp.Target = angle.Target()
	smp.Measured = st.Position.Angle
	smp.Velocity = st.Velocity.Angular
	smp.HasVelocity = true
	return cmds, smp, nil
}

// followStrategy drives the follower wheel's angle loop to the master wheel's
// angle.  The master wheel's output is disabled so it can be turned by hand.
type followStrategy struct {
	mode             Mode
	loops            *loops
	master, follower hardware.Motor
}

func (s *followStrategy) Mode() Mode { return s.mode }

func (s *followStrategy) Step(_ context.Context, w *Wheels) (Commands, telemetry.Sample, error) {
	angle := s.loops.angle[s.follower]
	masterAngle := w.get(s.master).Position().Angle
	followerAngle := w.get(s.follower).Position().Angle

	if err := angle.SetTarget(masterAngle); err != nil {
		return Commands{}, telemetry.Sample{}, err
	}
	out := angle.UpdatePosition(followerAngle)

	var cmds Commands
	cmds.set(s.follower, out)
	smp := sample(s.mode)
	smp.Target = masterAngle
	smp.Measured = followerAngle
	return cmds, smp, nil
}

// positionCurveStrategy feeds the position curve into the left angle loop,
// which drives the motor directly.
type positionCurveStrategy struct {
	loops *loops
}

func (s *positionCurveStrategy) Mode() Mode { return ModePositionCurve }

func (s *positionCurveStrategy) Step(_ context.Context, w *Wheels) (Commands, telemetry.Sample, error) {
	angle := s.loops.angle[hardware.MotorLeft]
	st := w.Left.Snapshot()

	if err := angle.SetTarget(s.loops.positionCurve.Step()); err != nil {
		return Commands{}, telemetry.Sample{}, err
	}
	out := angle.UpdatePosition(st.Position.Angle)

	var cmds Commands
	cmds.set(hardware.MotorLeft, out)
	smp := sample(ModePositionCurve)
	smp.Target = angle.Target()
	smp.Measured = st.Position.Angle
	smp.Velocity = st.Velocity.Angular
	smp.HasVelocity = true
	return cmds, smp, nil
}

// masterOf returns the hand-driven wheel of a follow mode.
func masterOf(m Mode) (hardware.Motor, bool) {
	switch m {
	case ModePositionFollowLeft:
		return hardware.MotorLeft, true
	case ModePositionFollowRight:
		return hardware.MotorRight, true
	}
	return 0, false
}

func newStrategy(m Mode, l *loops, cfg Config) (Strategy, error) {
	switch m {
	case ModeIdle:
		return idleStrategy{}, nil
	case ModeSpeed:
		f, err := cfg.SpeedFilter.Build()
		if err != nil {
			return nil, err
		}
		return &speedStrategy{mode: m, loops: l, filter: f}, nil
	case ModeSpeedFollow, ModeSpeedCurve:
		f, err := cfg.SmoothFilter.Build()
		if err != nil {
			return nil, err
		}
		return &speedStrategy{mode: m, loops: l, filter: f, curved: m == ModeSpeedCurve}, nil
	case ModePosition:
		return &positionStrategy{loops: l, limit: cfg.CascadeVelocityLimit}, nil
	case ModePositionFollowLeft:
		return &followStrategy{mode: m, loops: l, master: hardware.MotorLeft, follower: hardware.MotorRight}, nil
	case ModePositionFollowRight:
		return &followStrategy{mode: m, loops: l, master: hardware.MotorRight, follower: hardware.MotorLeft}, nil
	case ModePositionCurve:
		return &positionCurveStrategy{loops: l}, nil
	}
	return nil, ErrUnknownMode
}
