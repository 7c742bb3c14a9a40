package control

import (
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/filter"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/pid"
)

const (
	DefaultPeriod = 10 * time.Millisecond

	DefaultMaxOutput   = 2000
	DefaultMaxIntegral = 4000

	// DefaultCascadeVelocityLimit bounds the speed target, in rpm, that the
	// position loop hands to the speed loop.
	DefaultCascadeVelocityLimit = 200

	// DefaultVelocityCurveMax bounds velocity curve targets, in rpm.
	DefaultVelocityCurveMax = 380
)

// GainTable gives the gains each mode loads into its loops when selected.
type GainTable map[Mode]map[Loop]pid.Gains

// DefaultGains returns the tuned gains for the MG513 drive train.
func DefaultGains() GainTable {
	return GainTable{
		ModeSpeed: {
			LoopSpeedLeft: {Kp: 5, Ki: 0.8, Kd: 6},
		},
		ModePosition: {
			LoopSpeedLeft: {Kp: 4.95, Ki: 0.8, Kd: 5},
			LoopAngleLeft: {Kp: 0.5},
		},
		ModeSpeedFollow: {
			LoopSpeedLeft: {Kp: 10, Ki: 0.5},
		},
		ModePositionFollowLeft: {
			LoopAngleRight: {Kp: 80, Kd: 50},
		},
		ModePositionFollowRight: {
			LoopAngleLeft: {Kp: 60},
		},
		ModeSpeedCurve: {
			LoopSpeedLeft: {Kp: 10, Ki: 1.5},
		},
		ModePositionCurve: {
			LoopAngleLeft: {Kp: 10, Ki: 0.2, Kd: 0.1},
		},
	}
}

// FilterSpec describes a measurement pre-filter.
type FilterSpec struct {
	Kind  filter.Kind `yaml:"kind"`
	Alpha float64     `yaml:"alpha,omitempty"`
	Size  int         `yaml:"size,omitempty"`
}

func (f FilterSpec) Build() (filter.Filter, error) {
	return filter.New(f.Kind, f.Alpha, f.Size)
}

// Config holds the tuning of the control core.
type Config struct {
	Period time.Duration
	Limits pid.Limits
	Gains  GainTable

	CascadeVelocityLimit float64
	VelocityCurveMax     float64

	// SpeedFilter smooths the measured speed in speed mode; SmoothFilter in
	// the speed follow and speed curve modes.
	SpeedFilter  FilterSpec
	SmoothFilter FilterSpec
}

func DefaultConfig() Config {
	return Config{
		Period:               DefaultPeriod,
		Limits:               pid.Limits{MaxOutput: DefaultMaxOutput, MaxIntegral: DefaultMaxIntegral},
		Gains:                DefaultGains(),
		CascadeVelocityLimit: DefaultCascadeVelocityLimit,
		VelocityCurveMax:     DefaultVelocityCurveMax,
		SpeedFilter:          FilterSpec{Kind: filter.KindMovingAverage, Size: filter.DefaultSize},
		SmoothFilter:         FilterSpec{Kind: filter.KindLowPass, Alpha: filter.DefaultAlpha},
	}
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return errors.Errorf("control period %v must be positive", c.Period)
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	// Commands are carried as int16 duties.
	if c.Limits.MaxOutput > 32767 {
		return errors.Wrapf(pid.ErrInvalidLimits, "max_output=%v exceeds the duty range", c.Limits.MaxOutput)
	}
	if !(c.CascadeVelocityLimit > 0) {
		return errors.Errorf("cascade velocity limit %v must be positive", c.CascadeVelocityLimit)
	}
	if !(c.VelocityCurveMax > 0) {
		return errors.Errorf("velocity curve max %v must be positive", c.VelocityCurveMax)
	}
	for _, f := range []FilterSpec{c.SpeedFilter, c.SmoothFilter} {
		if _, err := f.Build(); err != nil {
			return errors.Wrap(err, "bad filter")
		}
	}
	for m, loops := range c.Gains {
		if m < 0 || m >= numModes {
			return errors.Wrapf(ErrUnknownMode, "gains for mode %d", m)
		}
		for l, g := range loops {
			if err := g.Validate(); err != nil {
				return errors.Wrapf(err, "%v gains for %v", l, m)
			}
		}
	}
	return nil
}
