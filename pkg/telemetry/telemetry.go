// Package telemetry carries per-tick control samples out of the control loop.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Sample is one control period's worth of output.  Target and Measured are in
// the units of the active loop (rpm or degrees).
type Sample struct {
	Time   time.Time
	Mode   string
	ModeID uint8

	Target   float64
	Measured float64
	// Velocity is set by position modes.
	Velocity    float64
	HasVelocity bool
}

type Sink interface {
	Emit(ctx context.Context, s Sample) error
	Close() error
}

// Discard drops every sample.
type Discard struct{}

func (Discard) Emit(context.Context, Sample) error { return nil }
func (Discard) Close() error                       { return nil }

// Multi fans samples out to several sinks.  A failing sink does not stop the
// others.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, s Sample) error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.Emit(ctx, s))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.Close())
	}
	return err
}

// Recorder keeps the most recent samples in memory.
type Recorder struct {
	lock    sync.Mutex
	limit   int
	samples []Sample
}

// NewRecorder returns a recorder holding up to limit samples; zero means no
// limit.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Emit(_ context.Context, s Sample) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.samples = append(r.samples, s)
	if r.limit > 0 && len(r.samples) > r.limit {
		r.samples = append(r.samples[:0], r.samples[len(r.samples)-r.limit:]...)
	}
	return nil
}

func (r *Recorder) Close() error {
	return nil
}

func (r *Recorder) Samples() []Sample {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Last returns the newest sample.
func (r *Recorder) Last() (Sample, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.samples) == 0 {
		return Sample{}, false
	}
	return r.samples[len(r.samples)-1], true
}
