package control

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode selects the control strategy run on every tick.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSpeed
	ModePosition
	ModeSpeedFollow
	// ModePositionFollowLeft makes the right wheel follow the hand-turned left
	// wheel.
	ModePositionFollowLeft
	// ModePositionFollowRight makes the left wheel follow the right.
	ModePositionFollowRight
	ModeSpeedCurve
	ModePositionCurve

	numModes
)

var modeNames = [numModes]string{
	ModeIdle:                "idle",
	ModeSpeed:               "speed",
	ModePosition:            "position",
	ModeSpeedFollow:         "speed-follow",
	ModePositionFollowLeft:  "follow-left",
	ModePositionFollowRight: "follow-right",
	ModeSpeedCurve:          "speed-curve",
	ModePositionCurve:       "position-curve",
}

func (m Mode) String() string {
	if m < 0 || m >= numModes {
		return "unknown"
	}
	return modeNames[m]
}

// Modes lists every mode in menu order.
func Modes() []Mode {
	all := make([]Mode, numModes)
	for i := range all {
		all[i] = Mode(i)
	}
	return all
}

var ErrUnknownMode = errors.New("unknown control mode")

func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return Mode(m), nil
		}
	}
	return ModeIdle, errors.Wrapf(ErrUnknownMode, "%q", s)
}

// Loop names one of the four PID controllers.
type Loop int

const (
	LoopSpeedLeft Loop = iota
	LoopSpeedRight
	LoopAngleLeft
	LoopAngleRight

	numLoops
)

var loopNames = [numLoops]string{
	LoopSpeedLeft:  "speed-left",
	LoopSpeedRight: "speed-right",
	LoopAngleLeft:  "angle-left",
	LoopAngleRight: "angle-right",
}

func (l Loop) String() string {
	if l < 0 || l >= numLoops {
		return "unknown"
	}
	return loopNames[l]
}

var ErrUnknownLoop = errors.New("unknown control loop")

func ParseLoop(s string) (Loop, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range loopNames {
		if name == s {
			return Loop(l), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownLoop, "%q", s)
}
