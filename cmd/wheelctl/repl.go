package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/control"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/pid"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/tunable"
)

// Quit ends the command prompt.
var Quit = errors.New("quit")

// session is what prompt commands act on.
type session struct {
	ctx      context.Context
	ctrl     *control.Context
	hw       *hardware.Bundle
	tunables *tunable.Tunables
	out      io.Writer
}

type PromptCLI struct {
	Mode       ModeCmd       `cmd:"" help:"Select a control mode."`
	On         OnCmd         `cmd:"" help:"Start the motors."`
	Off        OffCmd        `cmd:"" help:"Stop the motors."`
	Speed      SpeedCmd      `cmd:"" help:"Set the speed target, in rpm."`
	Angle      AngleCmd      `cmd:"" help:"Set the angle target, in degrees."`
	CurveSpeed CurveSpeedCmd `cmd:"" name:"curve-speed" help:"Ramp the speed to a target along an S curve."`
	CurveAngle CurveAngleCmd `cmd:"" name:"curve-angle" help:"Move to an angle along an S curve."`
	Gains      GainsCmd      `cmd:"" help:"Show or set a loop's gains."`
	Status     StatusCmd     `cmd:"" help:"Show the controller status."`
	Select     SelectCmd     `cmd:"" help:"Select a tunable by name, or the next or previous one."`
	Adjust     AdjustCmd     `cmd:"" help:"Move the selected tunable by a number of steps."`
	Quit       QuitCmd       `cmd:"" help:"Quit."`
}

type ModeCmd struct {
	Mode string `arg:"" help:"One of idle, speed, position, speed-follow, follow-left, follow-right, speed-curve, position-curve."`
}

func (c *ModeCmd) Run(s *session) error {
	m, err := control.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	if err := s.ctrl.SetMode(s.ctx, m); err != nil {
		return err
	}
	syncTunables(s.ctrl, s.tunables)
	return nil
}

type OnCmd struct{}

func (c *OnCmd) Run(s *session) error {
	return s.ctrl.Start(s.ctx)
}

type OffCmd struct{}

func (c *OffCmd) Run(s *session) error {
	return s.ctrl.Stop(s.ctx)
}

type SpeedCmd struct {
	RPM float64 `arg:"" name:"rpm"`
}

func (c *SpeedCmd) Run(s *session) error {
	if err := s.ctrl.SetSpeedTarget(c.RPM); err != nil {
		return err
	}
	setTunable(s.tunables, tunableSpeed, c.RPM)
	return nil
}

type AngleCmd struct {
	Degrees float64 `arg:"" name:"degrees"`
}

func (c *AngleCmd) Run(s *session) error {
	if err := s.ctrl.SetAngleTarget(c.Degrees); err != nil {
		return err
	}
	setTunable(s.tunables, tunableAngle, c.Degrees)
	return nil
}

type CurveSpeedCmd struct {
	RPM   float64 `arg:"" name:"rpm"`
	Accel float64 `help:"Largest change of speed per control period, in rpm." default:"5"`
}

func (c *CurveSpeedCmd) Run(s *session) error {
	return s.ctrl.SetSpeedCurve(c.RPM, c.Accel)
}

type CurveAngleCmd struct {
	Degrees float64 `arg:"" name:"degrees"`
	Rate    float64 `help:"Cruise rate, in degrees per control period." default:"6"`
}

func (c *CurveAngleCmd) Run(s *session) error {
	return s.ctrl.SetPositionCurve(c.Degrees, c.Rate)
}

type GainsCmd struct {
	Loop string `arg:"" help:"One of speed-left, speed-right, angle-left, angle-right."`

	// Gains left as NaN are unchanged.
	Kp float64 `help:"Proportional gain." default:"NaN"`
	Ki float64 `help:"Integral gain." default:"NaN"`
	Kd float64 `help:"Derivative gain." default:"NaN"`
}

func (c *GainsCmd) Run(s *session) error {
	loop, err := control.ParseLoop(c.Loop)
	if err != nil {
		return err
	}
	g, err := s.ctrl.Gains(loop)
	if err != nil {
		return err
	}
	if !math.IsNaN(c.Kp) {
		g.Kp = c.Kp
	}
	if !math.IsNaN(c.Ki) {
		g.Ki = c.Ki
	}
	if !math.IsNaN(c.Kd) {
		g.Kd = c.Kd
	}
	if err := s.ctrl.SetGains(loop, g); err != nil {
		return err
	}
	syncTunables(s.ctrl, s.tunables)
	fmt.Fprintf(s.out, "%v: kp=%g ki=%g kd=%g\n", loop, g.Kp, g.Ki, g.Kd)
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(s *session) error {
	st := s.ctrl.Status()
	fmt.Fprintf(s.out, "mode=%v running=%v ticks=%d errors=%d curve=%v\n",
		st.Mode, st.Running, st.Ticks, st.TickErrors, st.CurveActive)
	for m, e := range []encoder.State{st.Left, st.Right} {
		fmt.Fprintf(s.out, "%-5v %7.2f rpm %9.2f deg %8.3f m duty=%5d speed-target=%.2f angle-target=%.2f\n",
			hardware.Motor(m), e.Velocity.Angular, e.Position.Angle, e.Position.Distance, st.Duty[m],
			st.SpeedTarget[m], st.AngleTarget[m])
	}
	if s.hw == nil {
		return nil
	}
	readings, err := s.hw.Health(s.ctx)
	if len(readings) > 0 {
		parts := make([]string, 0, len(readings))
		for _, r := range readings {
			parts = append(parts, r.Name+"="+r.Value)
		}
		fmt.Fprintln(s.out, "health", strings.Join(parts, " "))
	}
	return errors.Wrap(err, "reading hardware health")
}

type SelectCmd struct {
	Name string `arg:"" optional:"" help:"Tunable name, or next or prev."`
}

func (c *SelectCmd) Run(s *session) error {
	var t *tunable.Tunable
	switch c.Name {
	case "", "next":
		t = s.tunables.SelectNext()
	case "prev":
		t = s.tunables.SelectPrev()
	default:
		if s.tunables.Find(c.Name) == nil {
			return errors.Errorf("no tunable called %q", c.Name)
		}
		// Walk the selection round to it so next and prev carry on from there.
		for t = s.tunables.Current(); t.Name != c.Name; {
			t = s.tunables.SelectNext()
		}
	}
	if t != nil {
		fmt.Fprintf(s.out, "%s=%g\n", t.Name, t.Get())
	}
	return nil
}

type AdjustCmd struct {
	Steps int `arg:"" help:"Number of steps; use -- before a negative number."`
}

func (c *AdjustCmd) Run(s *session) error {
	t := s.tunables.Current()
	if t == nil {
		return errors.New("no tunables")
	}
	fmt.Fprintf(s.out, "%s=%g\n", t.Name, t.Add(c.Steps))
	return nil
}

type QuitCmd struct{}

func (q *QuitCmd) Run(s *session) error {
	return Quit
}

// prompt reads commands from in until it is exhausted or a quit command.
// Command errors are reported and the prompt carries on.
func prompt(in io.Reader, s *session) error {
	var cli PromptCLI
	k, err := kong.New(&cli,
		kong.Writers(s.out, s.out),
		kong.Exit(func(int) {}),
	)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintln(s.out, "Enter a command:")
		if !scanner.Scan() {
			return scanner.Err()
		}
		command := strings.Fields(scanner.Text())
		if len(command) == 0 {
			continue
		}
		parsed, err := k.Parse(command)
		if err != nil {
			fmt.Fprintln(s.out, "parse error:", err)
			continue
		}
		err = parsed.Run(s)
		if err == Quit {
			return nil
		} else if err != nil {
			fmt.Fprintln(s.out, "ERROR:", err)
			continue
		}
	}
}

const (
	tunableSpeed = "speed"
	tunableAngle = "angle"
)

// registerTunables exposes the targets and every loop's gains for step-wise
// adjustment.
func registerTunables(ctrl *control.Context, t *tunable.Tunables) {
	t.Create(tunableSpeed, 0, 10, warnOnError(t, tunableSpeed, ctrl.SetSpeedTarget))
	t.Create(tunableAngle, 0, 45, warnOnError(t, tunableAngle, ctrl.SetAngleTarget))
	for _, loop := range []control.Loop{
		control.LoopSpeedLeft, control.LoopSpeedRight, control.LoopAngleLeft, control.LoopAngleRight,
	} {
		loop := loop
		g, _ := ctrl.Gains(loop)
		for _, term := range []struct {
			name  string
			value float64
			step  float64
			set   func(*pid.Gains, float64)
		}{
			{"kp", g.Kp, 0.1, func(g *pid.Gains, v float64) { g.Kp = v }},
			{"ki", g.Ki, 0.05, func(g *pid.Gains, v float64) { g.Ki = v }},
			{"kd", g.Kd, 0.1, func(g *pid.Gains, v float64) { g.Kd = v }},
		} {
			set := term.set
			name := loop.String() + "." + term.name
			t.Create(name, term.value, term.step, warnOnError(t, name, func(v float64) error {
				g, err := ctrl.Gains(loop)
				if err != nil {
					return err
				}
				set(&g, v)
				return ctrl.SetGains(loop, g)
			}))
		}
	}
}

// warnOnError adapts a fallible setter to a tunable's change callback.
func warnOnError(t *tunable.Tunables, name string, set func(float64) error) func(float64) {
	return func(v float64) {
		if err := set(v); err != nil {
			t.Logger.Warnw("Tunable rejected", "name", name, "value", v, "error", err)
		}
	}
}

// syncTunables reloads the tunables from the controller after a mode change
// or a direct gain edit.
func syncTunables(ctrl *control.Context, t *tunable.Tunables) {
	st := ctrl.Status()
	setTunable(t, tunableSpeed, st.SpeedTarget[hardware.MotorLeft])
	setTunable(t, tunableAngle, st.AngleTarget[hardware.MotorLeft])
	for _, tu := range t.All() {
		parts := strings.SplitN(tu.Name, ".", 2)
		if len(parts) != 2 {
			continue
		}
		loop, err := control.ParseLoop(parts[0])
		if err != nil {
			continue
		}
		g, _ := ctrl.Gains(loop)
		switch parts[1] {
		case "kp":
			tu.Set(g.Kp)
		case "ki":
			tu.Set(g.Ki)
		case "kd":
			tu.Set(g.Kd)
		}
	}
}

func setTunable(t *tunable.Tunables, name string, v float64) {
	if tu := t.Find(name); tu != nil {
		tu.Set(v)
	}
}
