package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/config"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/logging"
)

type Globals struct {
	Config string `help:"YAML config file.  Built in defaults are used if unset." short:"c" type:"existingfile"`
	Debug  bool   `help:"Log at debug level."`
}

func (g *Globals) load() (config.Config, error) {
	if g.Config == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(g.Config)
}

type CLI struct {
	Globals

	Run  RunCmd  `cmd:"" default:"1" help:"Run the wheel controller with a command prompt on stdin."`
	Sim  SimCmd  `cmd:"" help:"Run one mode against the simulated plant and print its telemetry."`
	Dump DumpCmd `cmd:"" name:"config" help:"Print the effective config as YAML."`
}

type DumpCmd struct{}

func (d *DumpCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	raw, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(raw)
	return err
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("wheelctl"),
		kong.Description("Two wheel motor controller."),
		kong.UsageOnError(),
	)

	logger, err := logging.NewLogger("wheelctl", cli.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Infow("---- wheelctl ----", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	err = kctx.Run(&cli.Globals, logger)
	kctx.FatalIfErrorf(err)
}

func registerSignalHandlers(cancelFunc context.CancelFunc, logger *zap.SugaredLogger) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		logger.Infow("Signal received, shutting down", "signal", s)
		cancelFunc()
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()
}
