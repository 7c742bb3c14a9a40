// Package quadrature counts A/B quadrature encoder edges in software, for
// boards where the encoders are wired to plain GPIO inputs rather than a timer
// in encoder mode.  B leading A counts up.  Every valid transition counts, so
// a channel counts four times per encoder line like a hardware x4 decoder.
package quadrature

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
)

// InPin is the part of gpio.PinIn the decoder needs.
type InPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// PinNames names an encoder's phase inputs in the host's GPIO registry.
type PinNames struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// edgePoll bounds how long a watcher blocks before checking for shut down.
const edgePoll = 100 * time.Millisecond

// step gives the count change for a (previous<<2 | next) state pair, where a
// state is A | B<<1.  Same-state and double-step transitions count zero.
var step = [16]int8{
	0b0001: -1, 0b0111: -1, 0b1000: -1, 0b1110: -1,
	0b0010: +1, 0b0100: +1, 0b1011: +1, 0b1101: +1,
}

type channel struct {
	a, b InPin

	lock   sync.Mutex
	state  uint8
	count  uint32 // wraps at the decoder's register width
	down   bool
	errors int64
}

func phase(a, b gpio.Level) uint8 {
	var s uint8
	if a {
		s |= 1
	}
	if b {
		s |= 2
	}
	return s
}

func (c *channel) apply(a, b gpio.Level) {
	next := phase(a, b)
	c.lock.Lock()
	defer c.lock.Unlock()
	if next == c.state {
		return
	}
	switch step[c.state<<2|next] {
	case 1:
		c.count++
		c.down = false
	case -1:
		c.count--
		c.down = true
	default:
		// Both phases changed; an edge was missed.
		atomic.AddInt64(&c.errors, 1)
	}
	c.state = next
}

// Decoder implements hardware.CounterReader and hardware.DirectionSensor.
// Channel n reads encoder n.
type Decoder struct {
	mask     uint32
	channels []*channel
	logger   *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ hardware.CounterReader   = (*Decoder)(nil)
	_ hardware.DirectionSensor = (*Decoder)(nil)
)

// New returns a decoder whose counters wrap like a register of the given width
// in bits.  pins holds an A and a B input per encoder.
func New(width uint, pins [][2]InPin, logger *zap.SugaredLogger) (*Decoder, error) {
	if width == 0 || width > 32 {
		return nil, errors.Errorf("invalid counter width %d", width)
	}
	d := &Decoder{
		mask:   uint32(uint64(1)<<width - 1),
		logger: logger,
	}
	for i, p := range pins {
		for _, pin := range p {
			if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
				return nil, errors.Wrapf(err, "failed to configure encoder %d input", i)
			}
		}
		c := &channel{a: p[0], b: p[1], state: phase(p[0].Read(), p[1].Read())}
		d.channels = append(d.channels, c)
	}
	return d, nil
}

// Open looks the encoder pins up by name.  host.Init must have been called.
func Open(width uint, names []PinNames, logger *zap.SugaredLogger) (*Decoder, error) {
	var pins [][2]InPin
	for _, n := range names {
		a, b := gpioreg.ByName(n.A), gpioreg.ByName(n.B)
		if a == nil || b == nil {
			return nil, errors.Errorf("no GPIO pins named %q/%q", n.A, n.B)
		}
		pins = append(pins, [2]InPin{a, b})
	}
	return New(width, pins, logger)
}

// Run starts one edge watcher per input.  The watchers stop when ctx is
// cancelled or Close is called.
func (d *Decoder) Run(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i, c := range d.channels {
		for _, pin := range []InPin{c.a, c.b} {
			d.wg.Add(1)
			go d.watch(ctx, i, c, pin)
		}
	}
}

func (d *Decoder) watch(ctx context.Context, i int, c *channel, pin InPin) {
	defer d.wg.Done()
	d.logger.Debugw("Quadrature: watching encoder input", "channel", i)
	for ctx.Err() == nil {
		if !pin.WaitForEdge(edgePoll) {
			continue
		}
		c.apply(c.a.Read(), c.b.Read())
	}
}

func (d *Decoder) channel(ch hardware.Channel) (*channel, error) {
	if ch < 0 || int(ch) >= len(d.channels) {
		return nil, errors.Wrapf(hardware.ErrUnknownChannel, "channel %d", ch)
	}
	return d.channels[ch], nil
}

func (d *Decoder) ReadCounter(ctx context.Context, ch hardware.Channel) (uint32, error) {
	c, err := d.channel(ch)
	if err != nil {
		return 0, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.count & d.mask, nil
}

func (d *Decoder) ResetCounter(ctx context.Context, ch hardware.Channel) error {
	c, err := d.channel(ch)
	if err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.count = 0
	return nil
}

func (d *Decoder) CountingDown(ctx context.Context, ch hardware.Channel) (bool, error) {
	c, err := d.channel(ch)
	if err != nil {
		return false, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.down, nil
}

// MissedEdges returns how many impossible transitions a channel has seen.
func (d *Decoder) MissedEdges(ch hardware.Channel) int64 {
	c, err := d.channel(ch)
	if err != nil {
		return 0
	}
	return atomic.LoadInt64(&c.errors)
}

var _ hardware.HealthReporter = (*Decoder)(nil)

// Health reports each channel's count of invalid transitions.
func (d *Decoder) Health(ctx context.Context) ([]hardware.Reading, error) {
	readings := make([]hardware.Reading, 0, len(d.channels))
	for i := range d.channels {
		readings = append(readings, hardware.Reading{
			Name:  fmt.Sprintf("missed-edges.%d", i),
			Value: strconv.FormatInt(d.MissedEdges(hardware.Channel(i)), 10),
		})
	}
	return readings, nil
}

func (d *Decoder) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	return nil
}
