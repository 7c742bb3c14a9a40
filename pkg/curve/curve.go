// Package curve generates S-shaped setpoint trajectories.  Each profile is a
// logistic function fitted so that it leaves its start value and arrives at its
// target within a whole number of control periods; Step is called once per
// period and returns the setpoint for that period.
package curve

import (
	"math"

	"github.com/pkg/errors"
)

// Anchor is how far from its asymptotes the fitted logistic curve starts and
// ends.  Moves smaller than Anchor are not shaped.
const Anchor = 0.01

var (
	ErrInvalidAcceleration = errors.New("curve acceleration must be positive")
	ErrInvalidRate         = errors.New("curve rate must be positive")
	ErrInvalidEndpoint     = errors.New("curve start and target must be finite")
)

// Coefficients of the fitted logistic curve(s).
type Coefficients struct {
	A, B, C, D float64
}

type profile struct {
	start, current, target float64

	aTimes, maxTimes uint32
	coef             Coefficients
}

func (p *profile) Current() float64 {
	return p.current
}

func (p *profile) Target() float64 {
	return p.target
}

// Active reports whether a profile is in progress.
func (p *profile) Active() bool {
	return p.maxTimes != 0
}

// Steps returns how many steps of the active profile have run, and its length.
func (p *profile) Steps() (done, total uint32) {
	return p.aTimes, p.maxTimes
}

func (p *profile) Coefficients() Coefficients {
	return p.coef
}

// Reset abandons any profile and holds value.
func (p *profile) Reset(value float64) {
	*p = profile{start: value, current: value, target: value}
}

func (p *profile) restart(start, target float64) {
	p.start = start
	p.target = target
	p.aTimes = 0
	p.maxTimes = 0
}

func checkEndpoints(start, target float64) error {
	if math.IsNaN(start) || math.IsInf(start, 0) || math.IsNaN(target) || math.IsInf(target, 0) {
		return errors.Wrapf(ErrInvalidEndpoint, "start=%v target=%v", start, target)
	}
	return nil
}

// positive reports whether v is a finite value above zero.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func logistic(a, b, x float64) float64 {
	return a / (1 + math.Exp(-b*x))
}

func stepsFor(f float64) uint32 {
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	if f >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(math.Ceil(f))
}
