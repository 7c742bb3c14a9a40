package control

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/curve"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/pid"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/telemetry"
)

type rig struct {
	ctrl *Context
	sim  *hardware.Sim
	clk  *clock.Mock
	rec  *telemetry.Recorder
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := zap.NewNop().Sugar()
	clk := clock.NewMock()
	sim := hardware.NewSim(hardware.DefaultSimConfig(), clk, logger)

	left, err := encoder.New(encoder.MG513Params(), sim, hardware.Channel(hardware.MotorLeft))
	test.That(t, err, test.ShouldBeNil)
	right, err := encoder.New(encoder.MG513Params(), sim, hardware.Channel(hardware.MotorRight))
	test.That(t, err, test.ShouldBeNil)

	rec := telemetry.NewRecorder(0)
	ctrl, err := NewContext(DefaultConfig(), Wheels{Left: left, Right: right}, sim, rec, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	return &rig{ctrl: ctrl, sim: sim, clk: clk, rec: rec}
}

func (r *rig) run(t *testing.T, ticks int, each func(i int)) {
	t.Helper()
	for i := 0; i < ticks; i++ {
		r.clk.Add(DefaultPeriod)
		test.That(t, r.ctrl.Tick(context.Background()), test.ShouldBeNil)
		if each != nil {
			each(i)
		}
	}
}

func (r *rig) start(t *testing.T, m Mode) {
	t.Helper()
	ctx := context.Background()
	test.That(t, r.ctrl.SetMode(ctx, m), test.ShouldBeNil)
	test.That(t, r.ctrl.Start(ctx), test.ShouldBeNil)
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes() {
		parsed, err := ParseMode(m.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, m)
	}
	_, err := ParseMode("turbo")
	test.That(t, errors.Is(err, ErrUnknownMode), test.ShouldBeTrue)

	l, err := ParseLoop(" Angle-Right ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, LoopAngleRight)
	_, err = ParseLoop("yaw")
	test.That(t, errors.Is(err, ErrUnknownLoop), test.ShouldBeTrue)
}

func TestSpeedMode(t *testing.T) {
	r := newRig(t)
	r.start(t, ModeSpeed)
	test.That(t, r.ctrl.SetSpeedTarget(200), test.ShouldBeNil)
	r.run(t, 300, nil)

	test.That(t, r.sim.RPM(hardware.MotorLeft), test.ShouldAlmostEqual, 200, 5)
	test.That(t, r.sim.RPM(hardware.MotorRight), test.ShouldEqual, 0)

	samples := r.rec.Samples()
	test.That(t, len(samples), test.ShouldEqual, 300)
	last := samples[len(samples)-1]
	test.That(t, last.Mode, test.ShouldEqual, "speed")
	test.That(t, last.ModeID, test.ShouldEqual, uint8(ModeSpeed))
	test.That(t, last.Target, test.ShouldEqual, 200)
	test.That(t, last.HasVelocity, test.ShouldBeFalse)
	test.That(t, last.Time, test.ShouldEqual, r.clk.Now())

	st := r.ctrl.Status()
	test.That(t, st.Mode, test.ShouldEqual, ModeSpeed)
	test.That(t, st.Running, test.ShouldBeTrue)
	test.That(t, st.Ticks, test.ShouldEqual, 300)
	test.That(t, math.Abs(float64(st.Duty[hardware.MotorLeft])), test.ShouldBeLessThanOrEqualTo, DefaultMaxOutput)
	test.That(t, st.Duty[hardware.MotorRight], test.ShouldEqual, 0)
}

func TestSpeedFollowMode(t *testing.T) {
	r := newRig(t)
	r.start(t, ModeSpeedFollow)
	test.That(t, r.ctrl.SetSpeedTarget(-150), test.ShouldBeNil)
	r.run(t, 300, nil)
	test.That(t, r.sim.RPM(hardware.MotorLeft), test.ShouldAlmostEqual, -150, 5)
	st := r.ctrl.Status()
	test.That(t, st.Left.Direction, test.ShouldEqual, encoder.DirectionReverse)
}

func TestPositionCascade(t *testing.T) {
	r := newRig(t)
	r.start(t, ModePosition)
	test.That(t, r.ctrl.SetAngleTarget(360), test.ShouldBeNil)
	r.run(t, 400, func(int) {
		st := r.ctrl.Status()
		test.That(t, math.Abs(st.SpeedTarget[hardware.MotorLeft]), test.ShouldBeLessThanOrEqualTo, DefaultCascadeVelocityLimit)
	})

	st := r.ctrl.Status()
	test.That(t, st.Left.Position.Angle, test.ShouldAlmostEqual, 360, 1)
	test.That(t, st.AngleTarget[hardware.MotorLeft], test.ShouldEqual, 360)

	last, ok := r.rec.Last()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last.HasVelocity, test.ShouldBeTrue)
	test.That(t, last.Measured, test.ShouldAlmostEqual, 360, 1)
}

func TestPositionFollow(t *testing.T) {
	for _, tc := range []struct {
		mode             Mode
		master, follower hardware.Motor
	}{
		{ModePositionFollowLeft, hardware.MotorLeft, hardware.MotorRight},
		{ModePositionFollowRight, hardware.MotorRight, hardware.MotorLeft},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			r := newRig(t)
			r.start(t, tc.mode)
			countsPerRev := encoder.MG513Params().CountsPerRev()

			// One revolution by hand over a second, then let the follower settle.
			r.run(t, 300, func(i int) {
				if i < 100 {
					r.sim.Turn(tc.master, countsPerRev/100)
				}
			})

			st := r.ctrl.Status()
			angles := map[hardware.Motor]float64{
				hardware.MotorLeft:  st.Left.Position.Angle,
				hardware.MotorRight: st.Right.Position.Angle,
			}
			test.That(t, angles[tc.master], test.ShouldAlmostEqual, 360, 1)
			test.That(t, angles[tc.follower], test.ShouldAlmostEqual, angles[tc.master], 2)
			test.That(t, st.Duty[tc.master], test.ShouldEqual, 0)

			last, _ := r.rec.Last()
			test.That(t, last.Target, test.ShouldEqual, angles[tc.master])
			test.That(t, last.Measured, test.ShouldEqual, angles[tc.follower])
		})
	}
}

func TestSpeedCurveMode(t *testing.T) {
	r := newRig(t)
	r.start(t, ModeSpeedCurve)
	test.That(t, r.ctrl.SetSpeedCurve(300, 5), test.ShouldBeNil)

	prev := 0.0
	r.run(t, 300, func(i int) {
		last, _ := r.rec.Last()
		test.That(t, last.Target, test.ShouldBeGreaterThanOrEqualTo, prev)
		test.That(t, last.Target, test.ShouldBeLessThanOrEqualTo, 300)
		prev = last.Target
	})
	test.That(t, prev, test.ShouldEqual, 300)
	test.That(t, r.sim.RPM(hardware.MotorLeft), test.ShouldAlmostEqual, 300, 6)
	test.That(t, r.ctrl.Status().CurveActive, test.ShouldBeFalse)

	// Targets above the curve maximum are clamped.
	test.That(t, r.ctrl.SetSpeedCurve(1000, 10), test.ShouldBeNil)
	r.run(t, 100, nil)
	last, _ := r.rec.Last()
	test.That(t, last.Target, test.ShouldEqual, DefaultVelocityCurveMax)
}

func TestPositionCurveMode(t *testing.T) {
	r := newRig(t)
	r.start(t, ModePositionCurve)
	test.That(t, r.ctrl.SetPositionCurve(360, 6), test.ShouldBeNil)
	r.run(t, 1, nil)
	test.That(t, r.ctrl.Status().CurveActive, test.ShouldBeTrue)

	r.run(t, 400, nil)
	st := r.ctrl.Status()
	test.That(t, st.CurveActive, test.ShouldBeFalse)
	test.That(t, st.AngleTarget[hardware.MotorLeft], test.ShouldEqual, 360)
	test.That(t, st.Left.Position.Angle, test.ShouldAlmostEqual, 360, 1)
}

func TestCurveParamsRejected(t *testing.T) {
	r := newRig(t)
	err := r.ctrl.SetSpeedCurve(100, 0)
	test.That(t, errors.Is(err, curve.ErrInvalidAcceleration), test.ShouldBeTrue)
	err = r.ctrl.SetPositionCurve(100, -2)
	test.That(t, errors.Is(err, curve.ErrInvalidRate), test.ShouldBeTrue)
}

func TestIdleAndStop(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// Not started: ticks do nothing.
	test.That(t, r.ctrl.Tick(ctx), test.ShouldBeNil)
	test.That(t, r.ctrl.Status().Ticks, test.ShouldEqual, 0)

	test.That(t, r.ctrl.Start(ctx), test.ShouldBeNil)
	r.run(t, 5, nil)
	test.That(t, len(r.rec.Samples()), test.ShouldEqual, 0)

	test.That(t, r.ctrl.SetMode(ctx, ModeSpeed), test.ShouldBeNil)
	test.That(t, r.ctrl.SetSpeedTarget(100), test.ShouldBeNil)
	r.run(t, 50, nil)
	test.That(t, r.ctrl.Status().Left.Counter.Total, test.ShouldBeGreaterThan, 0)

	test.That(t, r.ctrl.Stop(ctx), test.ShouldBeNil)
	st := r.ctrl.Status()
	test.That(t, st.Running, test.ShouldBeFalse)
	test.That(t, st.Left.Counter.Total, test.ShouldEqual, 0)
	test.That(t, st.Left.Velocity, test.ShouldResemble, encoder.Velocity{})
	test.That(t, st.Left.Position, test.ShouldResemble, encoder.Position{})
	test.That(t, st.Duty, test.ShouldResemble, [hardware.NumMotors]int16{})

	ticks := st.Ticks
	r.clk.Add(DefaultPeriod)
	test.That(t, r.ctrl.Tick(ctx), test.ShouldBeNil)
	test.That(t, r.ctrl.Status().Ticks, test.ShouldEqual, ticks)
}

func TestSetModeLoadsGains(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	test.That(t, r.ctrl.SetGains(LoopAngleRight, pid.Gains{Kp: 1}), test.ShouldBeNil)

	test.That(t, r.ctrl.SetMode(ctx, ModePosition), test.ShouldBeNil)
	g, err := r.ctrl.Gains(LoopSpeedLeft)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g, test.ShouldResemble, pid.Gains{Kp: 4.95, Ki: 0.8, Kd: 5})
	g, err = r.ctrl.Gains(LoopAngleLeft)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g, test.ShouldResemble, pid.Gains{Kp: 0.5})
	g, err = r.ctrl.Gains(LoopAngleRight)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g, test.ShouldResemble, pid.Gains{})

	test.That(t, r.ctrl.Mode(), test.ShouldEqual, ModePosition)
	err = r.ctrl.SetMode(ctx, Mode(42))
	test.That(t, errors.Is(err, ErrUnknownMode), test.ShouldBeTrue)
	test.That(t, r.ctrl.Mode(), test.ShouldEqual, ModePosition)

	err = r.ctrl.SetGains(Loop(9), pid.Gains{})
	test.That(t, errors.Is(err, ErrUnknownLoop), test.ShouldBeTrue)
}

type brokenCounter struct{}

func (brokenCounter) ReadCounter(context.Context, hardware.Channel) (uint32, error) {
	return 0, errors.New("bus error")
}

func (brokenCounter) ResetCounter(context.Context, hardware.Channel) error { return nil }

func TestTickErrorsCounted(t *testing.T) {
	logger := zap.NewNop().Sugar()
	clk := clock.NewMock()
	sim := hardware.NewSim(hardware.DefaultSimConfig(), clk, logger)
	left, err := encoder.New(encoder.MG513Params(), brokenCounter{}, 0)
	test.That(t, err, test.ShouldBeNil)
	right, err := encoder.New(encoder.MG513Params(), sim, 1)
	test.That(t, err, test.ShouldBeNil)
	ctrl, err := NewContext(DefaultConfig(), Wheels{Left: left, Right: right}, sim, nil, clk, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	test.That(t, ctrl.SetMode(ctx, ModeSpeed), test.ShouldBeNil)
	test.That(t, ctrl.Start(ctx), test.ShouldBeNil)
	test.That(t, ctrl.Tick(ctx), test.ShouldNotBeNil)
	test.That(t, ctrl.Status().TickErrors, test.ShouldEqual, 1)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)

	cfg := DefaultConfig()
	cfg.Period = 0
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.Limits.MaxOutput = 40000
	test.That(t, errors.Is(cfg.Validate(), pid.ErrInvalidLimits), test.ShouldBeTrue)

	cfg = DefaultConfig()
	cfg.SpeedFilter.Size = 0
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.Gains[ModeSpeed][LoopSpeedLeft] = pid.Gains{Kp: math.Inf(1)}
	test.That(t, errors.Is(cfg.Validate(), pid.ErrNotFinite), test.ShouldBeTrue)
}

func TestRejectsNonFiniteTargetsAndGains(t *testing.T) {
	r := newRig(t)
	r.start(t, ModeSpeed)
	test.That(t, r.ctrl.SetSpeedTarget(120), test.ShouldBeNil)

	test.That(t, errors.Is(r.ctrl.SetSpeedTarget(math.NaN()), pid.ErrNotFinite), test.ShouldBeTrue)
	test.That(t, errors.Is(r.ctrl.SetAngleTarget(math.Inf(-1)), pid.ErrNotFinite), test.ShouldBeTrue)
	test.That(t, r.ctrl.Status().SpeedTarget[hardware.MotorLeft], test.ShouldEqual, 120)

	before, err := r.ctrl.Gains(LoopSpeedLeft)
	test.That(t, err, test.ShouldBeNil)
	err = r.ctrl.SetGains(LoopSpeedLeft, pid.Gains{Kp: math.Inf(1)})
	test.That(t, errors.Is(err, pid.ErrNotFinite), test.ShouldBeTrue)
	g, err := r.ctrl.Gains(LoopSpeedLeft)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g, test.ShouldResemble, before)

	r.run(t, 20, nil)
	rpm := r.sim.RPM(hardware.MotorLeft)
	test.That(t, math.IsNaN(rpm), test.ShouldBeFalse)
	test.That(t, rpm, test.ShouldBeGreaterThan, 0)
}

func TestTickerLoop(t *testing.T) {
	r := newRig(t)
	r.start(t, ModeSpeed)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go NewTicker(r.ctrl, r.clk, zap.NewNop().Sugar()).Loop(ctx, &wg)

	// Give the loop a chance to create its ticker before time moves.
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 10; i++ {
		r.clk.Add(DefaultPeriod)
	}
	deadline := time.Now().Add(time.Second)
	for r.ctrl.Status().Ticks == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()

	ticks := r.ctrl.Status().Ticks
	test.That(t, ticks, test.ShouldBeGreaterThan, 0)
	test.That(t, ticks, test.ShouldBeLessThanOrEqualTo, 10)
}
