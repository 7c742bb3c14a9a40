package hardware

import (
	"context"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Bundle is the set of hardware collaborators the control core runs against.
type Bundle struct {
	Counters CounterReader
	Motors   MotorDriver

	closers []io.Closer
	logger  *zap.SugaredLogger
}

func NewBundle(counters CounterReader, motors MotorDriver, logger *zap.SugaredLogger, closers ...io.Closer) *Bundle {
	return &Bundle{
		Counters: counters,
		Motors:   motors,
		closers:  closers,
		logger:   logger,
	}
}

// Shutdown zeroes and stops the motors and then releases the devices.
func (b *Bundle) Shutdown(ctx context.Context) error {
	b.logger.Info("HW: zeroing motors for shut down")
	var err error
	for m := Motor(0); m < NumMotors; m++ {
		err = multierr.Append(err, b.Motors.SetDuty(ctx, m, 0))
	}
	err = multierr.Append(err, b.Motors.Stop(ctx))
	for _, c := range b.closers {
		err = multierr.Append(err, c.Close())
	}
	if err != nil {
		b.logger.Warnw("HW: shut down incomplete", "error", err)
	}
	return err
}

// Health gathers the readings of every collaborator that reports any.  A
// device serving as both counters and motors is asked once.
func (b *Bundle) Health(ctx context.Context) ([]Reading, error) {
	var reporters []HealthReporter
	if r, ok := b.Counters.(HealthReporter); ok {
		reporters = append(reporters, r)
	}
	if r, ok := b.Motors.(HealthReporter); ok && (len(reporters) == 0 || reporters[0] != r) {
		reporters = append(reporters, r)
	}

	var readings []Reading
	var err error
	for _, r := range reporters {
		rs, rerr := r.Health(ctx)
		readings = append(readings, rs...)
		err = multierr.Append(err, rerr)
	}
	return readings, err
}
