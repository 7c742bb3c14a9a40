package curve

import (
	"math"

	"github.com/pkg/errors"
)

// Velocity shapes a change of speed into a single logistic ramp, limited by an
// acceleration per step and clamped to ±MaxRate.
type Velocity struct {
	profile
	acceleration float64
	maxRate      float64
}

// SetProfile configures a ramp from start to target.  The ramp starts on the
// next Step, replacing any ramp in progress.
func (v *Velocity) SetProfile(start, target, acceleration, maxRate float64) error {
	if err := checkEndpoints(start, target); err != nil {
		return err
	}
	if !positive(acceleration) {
		return errors.Wrapf(ErrInvalidAcceleration, "acceleration=%v", acceleration)
	}
	if !positive(maxRate) {
		return errors.Wrapf(ErrInvalidRate, "max rate=%v", maxRate)
	}
	v.acceleration = acceleration
	v.maxRate = maxRate
	v.restart(start, target)
	return nil
}

// Step advances one control period and returns the new setpoint.
func (v *Velocity) Step() float64 {
	if v.maxRate == 0 {
		// Never configured.
		return v.current
	}
	if v.target > v.maxRate {
		v.target = v.maxRate
	} else if v.target < -v.maxRate {
		v.target = -v.maxRate
	}

	if v.maxTimes == 0 {
		if v.current == v.target {
			return v.current
		}
		v.begin()
	}

	if v.aTimes < v.maxTimes {
		x := float64(v.aTimes) - float64(v.maxTimes)/2
		v.current = logistic(v.coef.A, v.coef.B, x) + v.coef.C
		v.aTimes++
		if v.aTimes == v.maxTimes {
			v.current = v.target
		}
		return v.current
	}

	v.current = v.target
	v.aTimes = 0
	v.maxTimes = 0
	return v.current
}

func (v *Velocity) begin() {
	span := math.Abs(v.target - v.start)
	v.maxTimes = stepsFor(span/v.acceleration) + 1
	v.aTimes = 0

	v.coef = Coefficients{A: v.target - v.start, C: v.start}
	// Below 2*Anchor the fitted slope would be negative; such a move is
	// stepped flat and snapped at the end.
	if a := math.Abs(v.coef.A); a > 2*Anchor {
		v.coef.B = 2 / float64(v.maxTimes) * math.Log((a-Anchor)/Anchor)
	}
}
