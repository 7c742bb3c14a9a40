package tunable

import (
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Tunable is a value edited from the UI and read by the control loop.
type Tunable struct {
	Name string
	// Step is the amount one knob detent changes the value by.
	Step float64

	bits     uint64
	onChange func(float64)
}

func (t *Tunable) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&t.bits))
}

func (t *Tunable) Set(v float64) {
	atomic.StoreUint64(&t.bits, math.Float64bits(v))
	if t.onChange != nil {
		t.onChange(v)
	}
}

// Add moves the value by detents steps.
func (t *Tunable) Add(detents int) float64 {
	for {
		old := atomic.LoadUint64(&t.bits)
		v := math.Float64frombits(old) + float64(detents)*t.Step
		if atomic.CompareAndSwapUint64(&t.bits, old, math.Float64bits(v)) {
			if t.onChange != nil {
				t.onChange(v)
			}
			return v
		}
	}
}

type Tunables struct {
	Logger *zap.SugaredLogger

	lock     sync.Mutex
	all      []*Tunable
	selected int
}

// Create adds a tunable.  onChange, if not nil, is called with every new
// value.
func (t *Tunables) Create(name string, value, step float64, onChange func(float64)) *Tunable {
	newTunable := &Tunable{
		Name:     name,
		Step:     step,
		bits:     math.Float64bits(value),
		onChange: onChange,
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.all = append(t.all, newTunable)
	return newTunable
}

func (t *Tunables) All() []*Tunable {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]*Tunable(nil), t.all...)
}

// Find returns the tunable with the given name, or nil.
func (t *Tunables) Find(name string) *Tunable {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, tu := range t.all {
		if tu.Name == name {
			return tu
		}
	}
	return nil
}

func (t *Tunables) SelectNext() *Tunable {
	return t.move(1)
}

func (t *Tunables) SelectPrev() *Tunable {
	return t.move(-1)
}

func (t *Tunables) move(delta int) *Tunable {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return nil
	}
	t.selected = (t.selected + delta + len(t.all)) % len(t.all)
	cur := t.all[t.selected]
	if t.Logger != nil {
		t.Logger.Infow("Tunable selected", "name", cur.Name, "value", cur.Get())
	}
	return cur
}

// Current returns the selected tunable, or nil if there are none.
func (t *Tunables) Current() *Tunable {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.all) == 0 {
		return nil
	}
	return t.all[t.selected]
}
