package main

import (
	"context"
	"fmt"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/config"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/control"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
)

// SimCmd runs against the simulated plant on a mock clock, so it runs as fast
// as it can compute.
type SimCmd struct {
	Mode   string  `arg:"" optional:"" help:"Control mode." default:"speed"`
	Target float64 `help:"Speed (rpm) or angle (degrees) target." default:"200"`
	Rate   float64 `help:"Curve acceleration (rpm) or cruise rate (degrees) per period." default:"5"`
	Ticks  int     `help:"Number of control periods to run." default:"300"`
	Turn   float64 `help:"Speed, in rpm, at which to turn the master wheel in follow modes." default:"60"`
}

func (c *SimCmd) Run(g *Globals, logger *zap.SugaredLogger) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	cfg.Backend = config.BackendSim
	mode, err := control.ParseMode(c.Mode)
	if err != nil {
		return err
	}

	ctx := context.Background()
	clk := clock.NewMock()
	sim := hardware.NewSim(cfg.Sim.Hardware(), clk, logger.Named("sim"))
	hw := hardware.NewBundle(sim, sim, logger.Named("hw"))

	sink, err := openTelemetry(ctx, cfg.Telemetry, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctrl, err := newController(cfg, hw, sink, clk, logger)
	if err != nil {
		return err
	}
	turn := cfg.Sim.CountsPerRev * c.Turn * cfg.Period.Minutes()
	if err := simulate(ctx, ctrl, sim, clk, mode, c, turn); err != nil {
		return err
	}

	st := ctrl.Status()
	logger.Infow("Simulation finished",
		"mode", st.Mode,
		"ticks", st.Ticks,
		"left_rpm", fmt.Sprintf("%.2f", st.Left.Velocity.Angular),
		"left_deg", fmt.Sprintf("%.2f", st.Left.Position.Angle),
		"right_rpm", fmt.Sprintf("%.2f", st.Right.Velocity.Angular),
		"right_deg", fmt.Sprintf("%.2f", st.Right.Position.Angle),
	)
	return hw.Shutdown(ctx)
}

// simulate runs c.Ticks control periods.  In the position follow modes the
// master wheel is turned by turn counts each period.
func simulate(
	ctx context.Context,
	ctrl *control.Context,
	sim *hardware.Sim,
	clk *clock.Mock,
	mode control.Mode,
	c *SimCmd,
	turn float64,
) error {
	if err := ctrl.SetMode(ctx, mode); err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	switch mode {
	case control.ModeSpeed, control.ModeSpeedFollow:
		if err := ctrl.SetSpeedTarget(c.Target); err != nil {
			return err
		}
	case control.ModePosition:
		if err := ctrl.SetAngleTarget(c.Target); err != nil {
			return err
		}
	case control.ModeSpeedCurve:
		if err := ctrl.SetSpeedCurve(c.Target, c.Rate); err != nil {
			return err
		}
	case control.ModePositionCurve:
		if err := ctrl.SetPositionCurve(c.Target, c.Rate); err != nil {
			return err
		}
	}

	period := ctrl.Config().Period
	for i := 0; i < c.Ticks; i++ {
		switch mode {
		case control.ModePositionFollowLeft:
			sim.Turn(hardware.MotorLeft, turn)
		case control.ModePositionFollowRight:
			sim.Turn(hardware.MotorRight, turn)
		}
		clk.Add(period)
		if err := ctrl.Tick(ctx); err != nil {
			return errors.Wrapf(err, "tick %d", i)
		}
	}
	return nil
}
