package control

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// errorLogInterval rate limits tick error logging.
const errorLogInterval = time.Second

// Ticker calls Context.Tick once per control period.
type Ticker struct {
	ctrl   *Context
	clk    clock.Clock
	logger *zap.SugaredLogger
}

func NewTicker(ctrl *Context, clk clock.Clock, logger *zap.SugaredLogger) *Ticker {
	return &Ticker{ctrl: ctrl, clk: clk, logger: logger}
}

// Loop ticks until ctx is cancelled.  Tick errors are logged and counted but
// do not stop the loop.
func (t *Ticker) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer t.logger.Info("Control loop exited")

	ticker := t.clk.Ticker(t.ctrl.cfg.Period)
	defer ticker.Stop()

	var lastLogged time.Time
	var suppressed int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := t.ctrl.Tick(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		now := t.clk.Now()
		if now.Sub(lastLogged) < errorLogInterval {
			suppressed++
			continue
		}
		t.logger.Warnw("Control tick failed", "error", err, "suppressed", suppressed)
		lastLogged = now
		suppressed = 0
	}
}
