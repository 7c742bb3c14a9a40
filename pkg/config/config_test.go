package config

import (
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/control"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/filter"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/pid"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/tb6612"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wheelctl.yaml")
	test.That(t, ioutil.WriteFile(path, []byte(body), 0666), test.ShouldBeNil)
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	ctl, err := cfg.Control()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ctl.Period, test.ShouldEqual, control.DefaultPeriod)
	test.That(t, ctl.Gains, test.ShouldResemble, control.DefaultGains())
	test.That(t, cfg.StartMode(), test.ShouldEqual, control.ModeIdle)
	test.That(t, cfg.GPIO.PWMFrequency(), test.ShouldEqual, tb6612.DefaultFrequency)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
backend: sim
period: 5ms
mode: position-curve
left:
  encoder:
    multiple: 4
    reduction_ratio: 30
    ppr: 11
    wheel_radius: 0.03
    width: 16
    jump_threshold: 30000
  channel: 0
speed_filter:
  kind: median
  size: 3
gains:
  speed:
    speed-left: {kp: 1, ki: 2, kd: 3}
telemetry:
  csv: false
  log: true
`)
	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Period, test.ShouldEqual, 5*time.Millisecond)
	test.That(t, cfg.StartMode(), test.ShouldEqual, control.ModePositionCurve)
	test.That(t, cfg.Left.Encoder.CountsPerRev(), test.ShouldEqual, 4*30*11)
	test.That(t, cfg.Right.Encoder, test.ShouldResemble, encoder.MG513Params())
	test.That(t, cfg.Telemetry.CSV, test.ShouldBeFalse)
	test.That(t, cfg.Telemetry.Log, test.ShouldBeTrue)

	ctl, err := cfg.Control()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ctl.SpeedFilter, test.ShouldResemble, control.FilterSpec{Kind: filter.KindMedian, Size: 3})
	// A gain table in the file replaces the defaults.
	test.That(t, ctl.Gains, test.ShouldResemble, control.GainTable{
		control.ModeSpeed: {control.LoopSpeedLeft: pid.Gains{Kp: 1, Ki: 2, Kd: 3}},
	})
}

func TestLoadRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
	}{
		{"unknown field", "bogus: 1\n"},
		{"unknown backend", "backend: serial\n"},
		{"unknown mode", "mode: turbo\n"},
		{"unknown gain mode", "gains:\n  turbo:\n    speed-left: {kp: 1}\n"},
		{"unknown gain loop", "gains:\n  speed:\n    speed-middle: {kp: 1}\n"},
		{"zero counts", "left:\n  encoder:\n    multiple: 0\n"},
		{"shared channel", "right:\n  channel: 0\n"},
		{"bad period", "period: -1ms\n"},
		{"bad filter", "smooth_filter:\n  kind: lowpass\n  alpha: 2\n"},
		{"sim modulus", "sim:\n  modulus: 4294967296\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.body))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendPico
	cfg.Mode = control.ModeSpeedFollow.String()
	cfg.Telemetry.CAN = "can0"

	path := filepath.Join(t.TempDir(), "in-use.yaml")
	test.That(t, cfg.Write(path), test.ShouldBeNil)

	loaded, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded, test.ShouldResemble, cfg)
}

func TestValidateGPIO(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendGPIO
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	cfg.GPIO.Encoders = cfg.GPIO.Encoders[:1]
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = Default()
	cfg.Backend = BackendGPIO
	cfg.GPIO.Width = 32
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = Default()
	cfg.Backend = "can"
	test.That(t, errors.Is(cfg.Validate(), ErrUnknownBackend), test.ShouldBeTrue)
}
