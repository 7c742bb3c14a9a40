package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// Log writes samples to a structured logger at debug level.
type Log struct {
	logger *zap.SugaredLogger
}

func NewLog(logger *zap.SugaredLogger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Emit(_ context.Context, s Sample) error {
	if s.HasVelocity {
		l.logger.Debugw("tick", "mode", s.Mode, "target", s.Target, "measured", s.Measured, "velocity", s.Velocity)
		return nil
	}
	l.logger.Debugw("tick", "mode", s.Mode, "target", s.Target, "measured", s.Measured)
	return nil
}

func (l *Log) Close() error {
	_ = l.logger.Sync()
	return nil
}
