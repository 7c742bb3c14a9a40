// Package pid implements the two discrete PID update rules used by the wheel
// control loops: an incremental form for speed loops and a positional form,
// with integral clamping, for position loops.  Both are stepped once per fixed
// control period so neither takes a time delta.
package pid

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrInvalidLimits = errors.New("pid limits must be positive")
	ErrNotFinite     = errors.New("pid value must be finite")
)

type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

func (g Gains) Validate() error {
	if !finite(g.Kp) || !finite(g.Ki) || !finite(g.Kd) {
		return errors.Wrapf(ErrNotFinite, "kp=%v ki=%v kd=%v", g.Kp, g.Ki, g.Kd)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Limits are symmetric saturation bounds.
type Limits struct {
	MaxOutput   float64 `yaml:"max_output"`
	MaxIntegral float64 `yaml:"max_integral"`
}

func (l Limits) Validate() error {
	if !(l.MaxOutput > 0) || !(l.MaxIntegral > 0) {
		return errors.Wrapf(ErrInvalidLimits, "max_output=%v max_integral=%v", l.MaxOutput, l.MaxIntegral)
	}
	return nil
}

// ErrorState holds the three most recent error samples and the running sum.
type ErrorState struct {
	Now, Last, Pre float64
	Integral       float64
}

// Clamp saturates v to [-limit, +limit].  NaN maps to zero.
func Clamp(v, limit float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Controller is safe for concurrent use: gains and target are typically
// written by the UI while the control tick runs the updates.
type Controller struct {
	lock sync.Mutex

	gains  Gains
	limits Limits

	target, input      float64
	output, outputLast float64

	err ErrorState
}

func New(limits Limits) (*Controller, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Controller{limits: limits}, nil
}

// SetGains rejects non-finite gains, keeping the previous ones.
func (c *Controller) SetGains(g Gains) error {
	if err := g.Validate(); err != nil {
		return err
	}
	c.lock.Lock()
	c.gains = g
	c.lock.Unlock()
	return nil
}

func (c *Controller) Gains() Gains {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.gains
}

func (c *Controller) Limits() Limits {
	return c.limits
}

// SetTarget rejects a non-finite target, keeping the previous one.
func (c *Controller) SetTarget(target float64) error {
	if !finite(target) {
		return errors.Wrapf(ErrNotFinite, "target=%v", target)
	}
	c.lock.Lock()
	c.target = target
	c.lock.Unlock()
	return nil
}

func (c *Controller) Target() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.target
}

func (c *Controller) Input() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.input
}

func (c *Controller) Output() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.output
}

func (c *Controller) Errors() ErrorState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

// Reset clears the working state.  Gains and limits are kept.
func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.target, c.input = 0, 0
	c.output, c.outputLast = 0, 0
	c.err = ErrorState{}
}

// UpdateSpeed runs one step of the incremental form:
//
//	out = out_last + kp*(e - e_last) + ki*e + kd*(e - 2*e_last + e_pre)
func (c *Controller) UpdateSpeed(input float64) float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.input = input
	e := &c.err
	e.Now = c.target - input

	out := c.outputLast +
		c.gains.Kp*(e.Now-e.Last) +
		c.gains.Ki*e.Now +
		c.gains.Kd*(e.Now-2*e.Last+e.Pre)
	c.output = Clamp(out, c.limits.MaxOutput)

	e.Pre = e.Last
	e.Last = e.Now
	c.outputLast = c.output
	return c.output
}

// UpdatePosition runs one step of the positional form:
//
//	out = kp*e + ki*sum(e) + kd*(e - e_last)
//
// with the error sum clamped to MaxIntegral.
func (c *Controller) UpdatePosition(input float64) float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.input = input
	e := &c.err
	e.Now = c.target - input
	e.Integral = Clamp(e.Integral+e.Now, c.limits.MaxIntegral)

	out := c.gains.Kp*e.Now +
		c.gains.Ki*e.Integral +
		c.gains.Kd*(e.Now-e.Last)
	c.output = Clamp(out, c.limits.MaxOutput)

	e.Last = e.Now
	return c.output
}
