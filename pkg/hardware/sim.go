package hardware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SimConfig describes the simulated plant.  The defaults model an MG513 gear
// motor (13:1, 28 PPR, x4 decoding) on a 16-bit timer.
type SimConfig struct {
	CountsPerRev float64
	// RPMPerDuty is the steady-state shaft speed for one unit of duty.
	RPMPerDuty   float64
	TimeConstant time.Duration
	// Modulus is one more than the largest register value.
	Modulus uint64
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		CountsPerRev: 4 * 13 * 28,
		RPMPerDuty:   0.2,
		TimeConstant: 80 * time.Millisecond,
		Modulus:      1 << 16,
	}
}

const simStep = time.Millisecond

type simWheel struct {
	enabled  bool
	duty     int16
	rpm      float64
	position float64 // counts, unbounded
	offset   float64 // position at the last register reset
}

// Sim is a two-wheel plant that implements both CounterReader and MotorDriver.
// Time is taken from the supplied clock so tests can drive it with a mock.
type Sim struct {
	cfg    SimConfig
	clk    clock.Clock
	logger *zap.SugaredLogger

	lock    sync.Mutex
	started bool
	last    time.Time
	wheels  [NumMotors]simWheel
}

var (
	_ CounterReader   = (*Sim)(nil)
	_ MotorDriver     = (*Sim)(nil)
	_ DirectionSensor = (*Sim)(nil)
)

func NewSim(cfg SimConfig, clk clock.Clock, logger *zap.SugaredLogger) *Sim {
	s := &Sim{
		cfg:    cfg,
		clk:    clk,
		logger: logger,
		last:   clk.Now(),
	}
	for i := range s.wheels {
		s.wheels[i].enabled = true
	}
	return s
}

func (s *Sim) ReadCounter(ctx context.Context, ch Channel) (uint32, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	w, err := s.wheel(ch)
	if err != nil {
		return 0, err
	}
	s.advance()
	return s.register(w), nil
}

func (s *Sim) ResetCounter(ctx context.Context, ch Channel) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	w, err := s.wheel(ch)
	if err != nil {
		return err
	}
	s.advance()
	w.offset = w.position
	return nil
}

func (s *Sim) CountingDown(ctx context.Context, ch Channel) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	w, err := s.wheel(ch)
	if err != nil {
		return false, err
	}
	return w.rpm < 0, nil
}

func (s *Sim) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.advance()
	s.logger.Debug("SIM: Start")
	s.started = true
	for i := range s.wheels {
		s.wheels[i].enabled = true
	}
	return nil
}

func (s *Sim) Stop(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.advance()
	s.logger.Debug("SIM: Stop")
	s.started = false
	for i := range s.wheels {
		s.wheels[i].duty = 0
	}
	return nil
}

func (s *Sim) Enable(ctx context.Context, m Motor, on bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if m < 0 || m >= NumMotors {
		return errors.Wrapf(ErrUnknownMotor, "motor %d", m)
	}
	s.advance()
	s.wheels[m].enabled = on
	return nil
}

func (s *Sim) SetDuty(ctx context.Context, m Motor, duty int16) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if m < 0 || m >= NumMotors {
		return errors.Wrapf(ErrUnknownMotor, "motor %d", m)
	}
	s.advance()
	s.wheels[m].duty = duty
	return nil
}

// Turn moves a wheel by hand, as when it is the master of a follow mode.
func (s *Sim) Turn(m Motor, counts float64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.advance()
	s.wheels[m].position += counts
}

// RPM returns the true shaft speed of a wheel.
func (s *Sim) RPM(m Motor) float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.advance()
	return s.wheels[m].rpm
}

// Counts returns the true unbounded position of a wheel, in counts since the
// last register reset.
func (s *Sim) Counts(m Motor) float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.advance()
	w := &s.wheels[m]
	return w.position - w.offset
}

func (s *Sim) wheel(ch Channel) (*simWheel, error) {
	if ch < 0 || int(ch) >= NumMotors {
		return nil, errors.Wrapf(ErrUnknownChannel, "channel %d", ch)
	}
	return &s.wheels[ch], nil
}

func (s *Sim) register(w *simWheel) uint32 {
	counts := int64(math.Floor(w.position - w.offset))
	mod := int64(s.cfg.Modulus)
	v := counts % mod
	if v < 0 {
		v += mod
	}
	return uint32(v)
}

// advance integrates the first-order motor model up to the current clock time.
func (s *Sim) advance() {
	now := s.clk.Now()
	elapsed := now.Sub(s.last)
	if elapsed <= 0 {
		return
	}
	s.last = now

	tau := s.cfg.TimeConstant.Seconds()
	for elapsed > 0 {
		dt := simStep
		if elapsed < dt {
			dt = elapsed
		}
		elapsed -= dt
		secs := dt.Seconds()
		for i := range s.wheels {
			w := &s.wheels[i]
			var target float64
			if s.started && w.enabled {
				target = float64(w.duty) * s.cfg.RPMPerDuty
			}
			if tau > 0 {
				w.rpm += (target - w.rpm) * secs / tau
			} else {
				w.rpm = target
			}
			w.position += w.rpm / 60 * s.cfg.CountsPerRev * secs
		}
	}
}
