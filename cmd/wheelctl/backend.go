package main

import (
	"context"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/periph/host"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/config"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/control"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/picobridge"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/quadrature"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/tb6612"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/telemetry"
)

// openHardware brings up the configured backend.  Background goroutines it
// starts stop when ctx is cancelled.
func openHardware(ctx context.Context, cfg config.Config, clk clock.Clock, logger *zap.SugaredLogger) (*hardware.Bundle, error) {
	switch cfg.Backend {
	case config.BackendSim:
		sim := hardware.NewSim(cfg.Sim.Hardware(), clk, logger.Named("sim"))
		return hardware.NewBundle(sim, sim, logger), nil

	case config.BackendPico:
		bridge, err := picobridge.New(picobridge.DevfsOpener(cfg.Pico.Bus, cfg.Pico.Addr), clk, logger.Named("pico"))
		if err != nil {
			return nil, err
		}
		if cfg.Pico.Watchdog > 0 {
			if err := bridge.SetWatchdog(ctx, cfg.Pico.Watchdog); err != nil {
				return nil, multierr.Append(err, bridge.Close())
			}
		}
		return hardware.NewBundle(bridge, bridge, logger, bridge), nil

	case config.BackendGPIO:
		if _, err := host.Init(); err != nil {
			return nil, errors.Wrap(err, "failed to initialise periph")
		}
		motors, err := tb6612.Open(cfg.GPIO.Left, cfg.GPIO.Right, cfg.GPIO.Standby, cfg.GPIO.PWMFrequency(), logger.Named("tb6612"))
		if err != nil {
			return nil, err
		}
		dec, err := quadrature.Open(cfg.GPIO.Width, cfg.GPIO.Encoders, logger.Named("quadrature"))
		if err != nil {
			return nil, err
		}
		dec.Run(ctx)
		return hardware.NewBundle(dec, motors, logger, dec), nil
	}
	return nil, errors.Wrapf(config.ErrUnknownBackend, "%q", cfg.Backend)
}

// stdoutWriter hides Close so the CSV sink leaves stdout open.
type stdoutWriter struct {
	io.Writer
}

func openTelemetry(ctx context.Context, cfg config.Telemetry, stdout io.Writer, logger *zap.SugaredLogger) (telemetry.Multi, error) {
	var sinks telemetry.Multi
	if cfg.CSV {
		sinks = append(sinks, telemetry.NewCSV(stdoutWriter{stdout}))
	}
	if cfg.Serial != "" {
		s, err := telemetry.OpenSerial(cfg.Serial, cfg.Baud)
		if err != nil {
			return nil, multierr.Append(err, sinks.Close())
		}
		sinks = append(sinks, s)
	}
	if cfg.CAN != "" {
		c, err := telemetry.DialCAN(ctx, cfg.CAN, cfg.BaseID)
		if err != nil {
			return nil, multierr.Append(err, sinks.Close())
		}
		sinks = append(sinks, c)
	}
	if cfg.Log {
		sinks = append(sinks, telemetry.NewLog(logger.Named("telemetry")))
	}
	return sinks, nil
}

func newController(
	cfg config.Config,
	hw *hardware.Bundle,
	sink telemetry.Sink,
	clk clock.Clock,
	logger *zap.SugaredLogger,
) (*control.Context, error) {
	ctlCfg, err := cfg.Control()
	if err != nil {
		return nil, err
	}
	left, err := encoder.New(cfg.Left.Encoder, hw.Counters, cfg.Left.Channel)
	if err != nil {
		return nil, errors.Wrap(err, "left encoder")
	}
	right, err := encoder.New(cfg.Right.Encoder, hw.Counters, cfg.Right.Channel)
	if err != nil {
		return nil, errors.Wrap(err, "right encoder")
	}
	return control.NewContext(ctlCfg, control.Wheels{Left: left, Right: right}, hw.Motors, sink, clk, logger.Named("control"))
}
