package curve

import (
	"math"

	"github.com/pkg/errors"
)

// Position shapes a move into accelerate, cruise and decelerate phases.  The
// move is split in quarters: the first and last halves of a logistic curve of
// amplitude A=(target-start)/4 cover A/2 each, and the cruise between them
// covers the remaining 3A at Rate per step.
type Position struct {
	profile
	rate float64
}

// SetProfile configures a move from start to target with the given cruise
// rate, in position units per step.  The move starts on the next Step,
// replacing any move in progress.
func (p *Position) SetProfile(start, target, rate float64) error {
	if err := checkEndpoints(start, target); err != nil {
		return err
	}
	if !positive(rate) {
		return errors.Wrapf(ErrInvalidRate, "cruise rate=%v", rate)
	}
	p.rate = rate
	p.restart(start, target)
	return nil
}

// Step advances one control period and returns the new setpoint.
func (p *Position) Step() float64 {
	if p.rate == 0 {
		return p.current
	}
	if p.maxTimes == 0 {
		if p.current == p.target {
			return p.current
		}
		p.begin()
		if p.maxTimes == 0 {
			p.current = p.target
			return p.current
		}
	}

	if p.aTimes < p.maxTimes {
		p.current = p.at(float64(p.aTimes))
		p.aTimes++
		if p.aTimes == p.maxTimes {
			p.current = p.target
		}
		return p.current
	}

	p.current = p.target
	p.aTimes = 0
	p.maxTimes = 0
	return p.current
}

func (p *Position) begin() {
	a := (p.target - p.start) / 4
	absA := math.Abs(a)
	p.coef = Coefficients{A: a, D: p.start}
	if absA > 0 {
		p.coef.B = 4 * p.rate / absA
	}
	if absA > 2*Anchor {
		// C is both the logistic offset and the length of the accelerate phase.
		p.coef.C = math.Log((absA-Anchor)/Anchor) / p.coef.B
	}
	p.maxTimes = stepsFor(3*absA/p.rate + 2*p.coef.C)
	p.aTimes = 0
}

func (p *Position) at(t float64) float64 {
	c := p.coef
	total := float64(p.maxTimes)
	switch {
	case t <= c.C:
		return logistic(c.A, c.B, t-c.C) + c.D
	case t >= total-c.C:
		return logistic(c.A, c.B, t-(total-c.C)) + p.target - c.A
	default:
		// Cruise, stretched over the whole-step phase length.
		return c.D + c.A/2 + (t-c.C)/(total-2*c.C)*3*c.A
	}
}
