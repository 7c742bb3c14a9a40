// Package config loads the wheelctl YAML configuration.  Fields missing from
// the file keep their defaults.
package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
	"periph.io/x/periph/conn/physic"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/control"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/picobridge"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/pid"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/quadrature"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/screen"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/tb6612"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/telemetry"
)

type Backend string

const (
	BackendSim  Backend = "sim"
	BackendPico Backend = "pico"
	BackendGPIO Backend = "gpio"
)

var ErrUnknownBackend = errors.New("unknown hardware backend")

type Wheel struct {
	Encoder encoder.Params   `yaml:"encoder"`
	Channel hardware.Channel `yaml:"channel"`
}

type Sim struct {
	CountsPerRev float64       `yaml:"counts_per_rev"`
	RPMPerDuty   float64       `yaml:"rpm_per_duty"`
	TimeConstant time.Duration `yaml:"time_constant"`
	Modulus      uint64        `yaml:"modulus"`
}

func (s Sim) Hardware() hardware.SimConfig {
	return hardware.SimConfig{
		CountsPerRev: s.CountsPerRev,
		RPMPerDuty:   s.RPMPerDuty,
		TimeConstant: s.TimeConstant,
		Modulus:      s.Modulus,
	}
}

type Pico struct {
	Bus  string `yaml:"bus"`
	Addr int    `yaml:"addr"`

	// Watchdog stops the motors if the bridge hears nothing for this long.
	// Zero disables it.
	Watchdog time.Duration `yaml:"watchdog"`
}

type GPIO struct {
	Left      tb6612.PinNames `yaml:"left"`
	Right     tb6612.PinNames `yaml:"right"`
	Standby   string          `yaml:"standby"`
	Frequency int64           `yaml:"frequency_hz"`

	// Encoders are indexed by channel.
	Encoders []quadrature.PinNames `yaml:"encoders"`
	Width    uint                  `yaml:"width"`
}

func (g GPIO) PWMFrequency() physic.Frequency {
	return physic.Frequency(g.Frequency) * physic.Hertz
}

type Telemetry struct {
	// CSV writes samples to stdout.
	CSV    bool   `yaml:"csv"`
	Serial string `yaml:"serial,omitempty"`
	Baud   int    `yaml:"baud"`
	CAN    string `yaml:"can,omitempty"`
	BaseID uint32 `yaml:"can_base_id"`
	Log    bool   `yaml:"log"`
}

type Screen struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
}

type Config struct {
	Backend Backend       `yaml:"backend"`
	Period  time.Duration `yaml:"period"`
	Mode    string        `yaml:"mode"`

	Left  Wheel `yaml:"left"`
	Right Wheel `yaml:"right"`

	Limits               pid.Limits         `yaml:"limits"`
	CascadeVelocityLimit float64            `yaml:"cascade_velocity_limit"`
	VelocityCurveMax     float64            `yaml:"velocity_curve_max"`
	SpeedFilter          control.FilterSpec `yaml:"speed_filter"`
	SmoothFilter         control.FilterSpec `yaml:"smooth_filter"`

	// Gains are keyed by mode name and then loop name.
	Gains map[string]map[string]pid.Gains `yaml:"gains"`

	Sim       Sim       `yaml:"sim"`
	Pico      Pico      `yaml:"pico"`
	GPIO      GPIO      `yaml:"gpio"`
	Telemetry Telemetry `yaml:"telemetry"`
	Screen    Screen    `yaml:"screen"`
}

func Default() Config {
	ctl := control.DefaultConfig()
	sim := hardware.DefaultSimConfig()
	mg513 := encoder.MG513Params()
	return Config{
		Backend: BackendSim,
		Period:  ctl.Period,
		Mode:    control.ModeIdle.String(),
		Left:    Wheel{Encoder: mg513, Channel: 0},
		Right:   Wheel{Encoder: mg513, Channel: 1},

		Limits:               ctl.Limits,
		CascadeVelocityLimit: ctl.CascadeVelocityLimit,
		VelocityCurveMax:     ctl.VelocityCurveMax,
		SpeedFilter:          ctl.SpeedFilter,
		SmoothFilter:         ctl.SmoothFilter,
		Gains:                gainsByName(ctl.Gains),

		Sim: Sim{
			CountsPerRev: sim.CountsPerRev,
			RPMPerDuty:   sim.RPMPerDuty,
			TimeConstant: sim.TimeConstant,
			Modulus:      sim.Modulus,
		},
		Pico: Pico{
			Bus:      picobridge.DefaultBus,
			Addr:     picobridge.DefaultAddr,
			Watchdog: 200 * time.Millisecond,
		},
		GPIO: GPIO{
			Left:      tb6612.PinNames{In1: "GPIO5", In2: "GPIO6", PWM: "GPIO12"},
			Right:     tb6612.PinNames{In1: "GPIO20", In2: "GPIO21", PWM: "GPIO13"},
			Standby:   "GPIO26",
			Frequency: int64(tb6612.DefaultFrequency / physic.Hertz),
			Encoders: []quadrature.PinNames{
				{A: "GPIO17", B: "GPIO27"},
				{A: "GPIO23", B: "GPIO24"},
			},
			Width: 16,
		},
		Telemetry: Telemetry{
			CSV:    true,
			Baud:   telemetry.DefaultBaudRate,
			BaseID: telemetry.DefaultCANBaseID,
		},
		Screen: Screen{
			Device: screen.DefaultDevice,
		},
	}
}

func gainsByName(table control.GainTable) map[string]map[string]pid.Gains {
	out := map[string]map[string]pid.Gains{}
	for m, loops := range table {
		named := map[string]pid.Gains{}
		for l, g := range loops {
			named[l.String()] = g
		}
		out[m.String()] = named
	}
	return out
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}
	// The file replaces the default gain table rather than merging into it.
	cfg.Gains = nil
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse %s", path)
	}
	if cfg.Gains == nil {
		cfg.Gains = Default().Gains
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Write saves the config, typically as a record of the one in use.
func (c Config) Write(path string) error {
	raw, err := c.Marshal()
	if err != nil {
		return err
	}
	return errors.Wrap(ioutil.WriteFile(path, raw, 0666), "failed to write config")
}

func (c Config) Marshal() ([]byte, error) {
	raw, err := yaml.Marshal(&c)
	return raw, errors.Wrap(err, "failed to marshal config")
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendSim, BackendPico, BackendGPIO:
	default:
		return errors.Wrapf(ErrUnknownBackend, "backend %q", c.Backend)
	}
	if _, err := control.ParseMode(c.Mode); err != nil {
		return err
	}
	if err := c.Left.Encoder.Validate(); err != nil {
		return errors.Wrap(err, "left encoder")
	}
	if err := c.Right.Encoder.Validate(); err != nil {
		return errors.Wrap(err, "right encoder")
	}
	if c.Left.Channel == c.Right.Channel {
		return errors.Errorf("both wheels use encoder channel %d", c.Left.Channel)
	}
	if c.Backend == BackendGPIO {
		if len(c.GPIO.Encoders) <= int(c.Left.Channel) || len(c.GPIO.Encoders) <= int(c.Right.Channel) {
			return errors.Errorf("gpio backend has %d encoders, channels %d and %d are needed",
				len(c.GPIO.Encoders), c.Left.Channel, c.Right.Channel)
		}
		if c.GPIO.Width != uint(c.Left.Encoder.Width) || c.GPIO.Width != uint(c.Right.Encoder.Width) {
			return errors.Errorf("gpio counter width %d does not match the encoder width", c.GPIO.Width)
		}
	}
	if c.Backend == BackendSim && c.Sim.Modulus != uint64(c.Left.Encoder.Width.Modulus()) {
		return errors.Errorf("sim modulus %d does not match a %d-bit encoder", c.Sim.Modulus, c.Left.Encoder.Width)
	}
	_, err := c.Control()
	return err
}

// Control converts the control section to the form the control core takes.
func (c Config) Control() (control.Config, error) {
	gains := control.GainTable{}
	for modeName, loops := range c.Gains {
		m, err := control.ParseMode(modeName)
		if err != nil {
			return control.Config{}, err
		}
		gains[m] = map[control.Loop]pid.Gains{}
		for loopName, g := range loops {
			l, err := control.ParseLoop(loopName)
			if err != nil {
				return control.Config{}, errors.Wrapf(err, "gains for %s", modeName)
			}
			gains[m][l] = g
		}
	}
	ctl := control.Config{
		Period:               c.Period,
		Limits:               c.Limits,
		Gains:                gains,
		CascadeVelocityLimit: c.CascadeVelocityLimit,
		VelocityCurveMax:     c.VelocityCurveMax,
		SpeedFilter:          c.SpeedFilter,
		SmoothFilter:         c.SmoothFilter,
	}
	return ctl, ctl.Validate()
}

// StartMode is the mode selected at start up.
func (c Config) StartMode() control.Mode {
	m, err := control.ParseMode(c.Mode)
	if err != nil {
		return control.ModeIdle
	}
	return m
}
