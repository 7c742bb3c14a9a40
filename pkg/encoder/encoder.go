package encoder

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
)

type Direction int

const (
	DirectionInit Direction = iota
	DirectionForward
	DirectionReverse
)

func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionReverse:
		return "reverse"
	}
	return "init"
}

var ErrBadPeriod = errors.New("encoder update period must be positive")

// State is a consistent copy of an encoder's readings.
type State struct {
	Counter   Counter
	Direction Direction
	Velocity  Velocity
	Position  Position
}

// Encoder tracks one wheel.  Update is called once per control period; the
// other methods may be called from any goroutine.
type Encoder struct {
	params  Params
	source  hardware.CounterReader
	channel hardware.Channel

	lock  sync.Mutex
	state State
}

func New(params Params, source hardware.CounterReader, channel hardware.Channel) (*Encoder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{
		params:  params,
		source:  source,
		channel: channel,
	}
	e.state.Counter = NewCounter(params.Width, params.JumpThreshold)
	return e, nil
}

func (e *Encoder) Params() Params {
	return e.params
}

// Update samples the hardware counter and recomputes velocity and position.
func (e *Encoder) Update(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return errors.Wrapf(ErrBadPeriod, "period=%v", period)
	}
	raw, err := e.source.ReadCounter(ctx, e.channel)
	if err != nil {
		return errors.Wrapf(err, "reading encoder channel %d", e.channel)
	}

	var countingDown, haveDirection bool
	if ds, ok := e.source.(hardware.DirectionSensor); ok {
		countingDown, err = ds.CountingDown(ctx, e.channel)
		haveDirection = err == nil
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	c := &e.state.Counter
	c.Update(raw)
	switch {
	case haveDirection && countingDown:
		e.state.Direction = DirectionReverse
	case haveDirection:
		e.state.Direction = DirectionForward
	case c.Increment > 0:
		e.state.Direction = DirectionForward
	case c.Increment < 0:
		e.state.Direction = DirectionReverse
	}
	e.state.Velocity, e.state.Position = Odometry(e.params, c.Increment, c.Total, period)
	return nil
}

// Reset zeroes the hardware register and all accumulated state.  If the
// register cannot be zeroed, its current value becomes the reference instead.
// State is left untouched when neither works.
func (e *Encoder) Reset(ctx context.Context) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	fresh := State{Counter: NewCounter(e.params.Width, e.params.JumpThreshold)}
	resetErr := e.source.ResetCounter(ctx, e.channel)
	if resetErr == nil {
		e.state = fresh
		return nil
	}
	raw, readErr := e.source.ReadCounter(ctx, e.channel)
	if readErr != nil {
		return errors.Wrapf(multierr.Combine(resetErr, readErr), "resetting encoder channel %d", e.channel)
	}
	fresh.Counter.Prime(raw)
	e.state = fresh
	return nil
}

func (e *Encoder) Snapshot() State {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.state
}

func (e *Encoder) Velocity() Velocity {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.state.Velocity
}

func (e *Encoder) Position() Position {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.state.Position
}
