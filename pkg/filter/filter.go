// Package filter provides the measurement pre-filters applied to wheel
// velocities before they reach a PID loop.
package filter

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultAlpha = 0.5
	DefaultSize  = 5
)

var ErrBadSize = errors.New("filter window size must be positive")

type Filter interface {
	// Next feeds one sample and returns the filtered value.
	Next(v float64) float64
	Reset()
}

// LowPass is a first-order exponential smoother.
type LowPass struct {
	Alpha float64

	value float64
}

func NewLowPass(alpha float64) (*LowPass, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, errors.Errorf("low-pass alpha %v out of range (0, 1]", alpha)
	}
	return &LowPass{Alpha: alpha}, nil
}

func (l *LowPass) Next(v float64) float64 {
	l.value = l.Alpha*v + (1-l.Alpha)*l.value
	return l.value
}

func (l *LowPass) Reset() {
	l.value = 0
}

// window is a fixed-size ring of the most recent samples, zero filled.
type window struct {
	buf  []float64
	next int
}

func newWindow(size int) (window, error) {
	if size <= 0 {
		return window{}, errors.Wrapf(ErrBadSize, "size=%d", size)
	}
	return window{buf: make([]float64, size)}, nil
}

// push stores v and returns the value it replaced.
func (w *window) push(v float64) float64 {
	old := w.buf[w.next]
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	return old
}

func (w *window) reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.next = 0
}

// MovingAverage averages the last Size samples.  Until the window has filled
// the missing samples count as zero.
type MovingAverage struct {
	w   window
	sum float64
}

func NewMovingAverage(size int) (*MovingAverage, error) {
	w, err := newWindow(size)
	if err != nil {
		return nil, err
	}
	return &MovingAverage{w: w}, nil
}

func (m *MovingAverage) Next(v float64) float64 {
	m.sum += v - m.w.push(v)
	return m.sum / float64(len(m.w.buf))
}

func (m *MovingAverage) Reset() {
	m.w.reset()
	m.sum = 0
}

// Median returns the median of the last Size samples (the lower one for even
// sizes).
type Median struct {
	w      window
	sorted []float64
}

func NewMedian(size int) (*Median, error) {
	w, err := newWindow(size)
	if err != nil {
		return nil, err
	}
	return &Median{w: w, sorted: make([]float64, size)}, nil
}

func (m *Median) Next(v float64) float64 {
	m.w.push(v)
	copy(m.sorted, m.w.buf)
	sort.Float64s(m.sorted)
	return stat.Quantile(0.5, stat.Empirical, m.sorted, nil)
}

func (m *Median) Reset() {
	m.w.reset()
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

func (Passthrough) Next(v float64) float64 { return v }
func (Passthrough) Reset()                 {}

// Kind names a filter in configuration.
type Kind string

const (
	KindNone          Kind = "none"
	KindLowPass       Kind = "lowpass"
	KindMovingAverage Kind = "average"
	KindMedian        Kind = "median"
)

// New builds a filter of the given kind.  alpha applies to low-pass filters
// and size to windowed ones.
func New(kind Kind, alpha float64, size int) (Filter, error) {
	switch kind {
	case KindNone, "":
		return Passthrough{}, nil
	case KindLowPass:
		return NewLowPass(alpha)
	case KindMovingAverage:
		return NewMovingAverage(size)
	case KindMedian:
		return NewMedian(size)
	}
	return nil, errors.Errorf("unknown filter kind %q", kind)
}
