package encoder

import (
	"github.com/pkg/errors"
)

// Width is the bit width of the hardware counter register.
type Width int

const (
	Width16 Width = 16
	Width32 Width = 32
)

// Modulus returns the number of distinct register values, 2^width.
func (w Width) Modulus() int64 {
	return int64(1) << uint(w)
}

func (w Width) Valid() bool {
	return w == Width16 || w == Width32
}

// DefaultJumpThreshold separates a register wrap from a legitimate, large,
// per-period delta on a 16-bit timer.
const DefaultJumpThreshold = 30000

var (
	ErrZeroCountsPerRev = errors.New("encoder counts per revolution is zero")
	ErrBadWidth         = errors.New("encoder register width must be 16 or 32")
	ErrBadThreshold     = errors.New("encoder jump threshold out of range")
	ErrBadRadius        = errors.New("wheel radius must be positive")
)

// Params is the fixed description of one wheel's encoder and drive train.
type Params struct {
	// Multiple is the number of counts per encoder line (x1, x2 or x4 decoding).
	Multiple       float64 `yaml:"multiple"`
	ReductionRatio float64 `yaml:"reduction_ratio"`
	PPR            float64 `yaml:"ppr"`
	// WheelRadius is in metres; distances and linear speeds use the same unit.
	WheelRadius float64 `yaml:"wheel_radius"`

	Width         Width `yaml:"width"`
	JumpThreshold int64 `yaml:"jump_threshold"`

	// LegacyDistance reproduces the legacy distance calculation, which divides
	// the rotation count by 60.
	LegacyDistance bool `yaml:"legacy_distance"`
}

// MG513Params returns the parameters of the stock MG513 gear motor on a
// 16-bit encoder timer.
func MG513Params() Params {
	return Params{
		Multiple:       4,
		ReductionRatio: 13,
		PPR:            28,
		WheelRadius:    0.065,
		Width:          Width16,
		JumpThreshold:  DefaultJumpThreshold,
	}
}

// CountsPerRev is the number of counts per output shaft revolution.
func (p Params) CountsPerRev() float64 {
	return p.Multiple * p.ReductionRatio * p.PPR
}

func (p Params) Validate() error {
	if p.CountsPerRev() == 0 {
		return errors.Wrapf(ErrZeroCountsPerRev, "multiple=%v reduction_ratio=%v ppr=%v",
			p.Multiple, p.ReductionRatio, p.PPR)
	}
	if p.WheelRadius <= 0 {
		return errors.Wrapf(ErrBadRadius, "wheel_radius=%v", p.WheelRadius)
	}
	if !p.Width.Valid() {
		return errors.Wrapf(ErrBadWidth, "width=%d", p.Width)
	}
	if p.JumpThreshold <= 0 || p.JumpThreshold >= p.Width.Modulus()/2 {
		return errors.Wrapf(ErrBadThreshold, "jump_threshold=%d for %d-bit register", p.JumpThreshold, p.Width)
	}
	return nil
}
