package main

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/control"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/screen"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/tunable"
)

type RunCmd struct {
	InUse string `help:"Write the config in use to this file." name:"in-use" type:"path"`
}

func (r *RunCmd) Run(g *Globals, logger *zap.SugaredLogger) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if r.InUse != "" {
		if err := cfg.Write(r.InUse); err != nil {
			logger.Warnw("Failed to record config in use", "error", err)
		}
	}

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registerSignalHandlers(cancel, logger)

	clk := clock.New()
	hw, err := openHardware(ctx, cfg, clk, logger.Named("hw"))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hw.Shutdown(shutdownCtx)
	}()

	sink, err := openTelemetry(ctx, cfg.Telemetry, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warnw("Failed to close telemetry", "error", err)
		}
	}()

	ctrl, err := newController(cfg, hw, sink, clk, logger)
	if err != nil {
		return err
	}
	if err := ctrl.SetMode(ctx, cfg.StartMode()); err != nil {
		return err
	}
	tunables := &tunable.Tunables{Logger: logger.Named("tunables")}
	registerTunables(ctrl, tunables)

	var wg sync.WaitGroup
	wg.Add(1)
	go control.NewTicker(ctrl, clk, logger.Named("loop")).Loop(ctx, &wg)
	if cfg.Screen.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			screen.Loop(ctx, cfg.Screen.Device, func() screen.Info {
				return screen.Info{Status: ctrl.Status(), Selected: tunables.Current()}
			}, logger.Named("screen"))
		}()
	}

	err = runPrompt(ctx, os.Stdin, &session{ctx: ctx, ctrl: ctrl, hw: hw, tunables: tunables, out: os.Stdout})
	cancel()
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if stopErr := ctrl.Stop(stopCtx); stopErr != nil {
		logger.Warnw("Failed to stop control", "error", stopErr)
	}
	return err
}

// runPrompt returns when the prompt ends or ctx is cancelled, whichever is
// first.  A prompt blocked on stdin is abandoned.
func runPrompt(ctx context.Context, in io.Reader, s *session) error {
	done := make(chan error, 1)
	go func() {
		done <- prompt(in, s)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
