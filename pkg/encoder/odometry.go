package encoder

import (
	"math"
	"time"
)

// Velocity of a wheel over the last period.
type Velocity struct {
	// Angular is in revolutions per minute of the output shaft.
	Angular float64
	// Linear is in wheel-radius units per second.
	Linear float64
	// Acceleration is the angular velocity divided by the period in
	// milliseconds.
	Acceleration float64
}

// Position of a wheel relative to the last reset.
type Position struct {
	Rotations float64
	// Angle is in degrees, unbounded.
	Angle    float64
	Distance float64
}

// Odometry converts a period's count increment and the running total into
// physical units.  p must have passed Validate and period must be positive.
func Odometry(p Params, increment, total int64, period time.Duration) (Velocity, Position) {
	countsPerRev := p.CountsPerRev()
	periodMS := float64(period) / float64(time.Millisecond)
	circumference := 2 * math.Pi * p.WheelRadius

	var pos Position
	pos.Rotations = float64(total) / countsPerRev
	pos.Angle = pos.Rotations * 360
	if p.LegacyDistance {
		pos.Distance = pos.Rotations / 60 * circumference
	} else {
		pos.Distance = pos.Rotations * circumference
	}

	var vel Velocity
	vel.Angular = float64(increment) / countsPerRev * (1000 / periodMS) * 60
	vel.Acceleration = vel.Angular / periodMS
	vel.Linear = vel.Angular / 60 * circumference
	return vel, pos
}
