package telemetry

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"go.einride.tech/can"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
)

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	c := NewCSV(&buf)
	ctx := context.Background()
	test.That(t, c.Emit(ctx, Sample{Target: 100, Measured: 98.456}), test.ShouldBeNil)
	test.That(t, c.Emit(ctx, Sample{Target: 90, Measured: 89.5, Velocity: -12.345, HasVelocity: true}), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual, "98.46,100.00\n89.50,90.00,-12.35\n")
	test.That(t, c.Close(), test.ShouldBeNil)
}

type captureTx struct {
	frames []can.Frame
	err    error
}

func (c *captureTx) TransmitFrame(_ context.Context, f can.Frame) error {
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func float32At(d can.Data, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(d[i : i+4]))
}

func TestCAN(t *testing.T) {
	tx := &captureTx{}
	c := NewCAN(tx, DefaultCANBaseID)
	ctx := context.Background()

	test.That(t, c.Emit(ctx, Sample{ModeID: 1, Target: 200, Measured: 150.5}), test.ShouldBeNil)
	test.That(t, len(tx.frames), test.ShouldEqual, 1)
	f := tx.frames[0]
	test.That(t, f.ID, test.ShouldEqual, uint32(0x301))
	test.That(t, f.Length, test.ShouldEqual, uint8(8))
	test.That(t, float32At(f.Data, 0), test.ShouldEqual, float32(200))
	test.That(t, float32At(f.Data, 4), test.ShouldEqual, float32(150.5))

	test.That(t, c.Emit(ctx, Sample{ModeID: 2, Target: 90, Measured: 45, Velocity: 30, HasVelocity: true}), test.ShouldBeNil)
	test.That(t, len(tx.frames), test.ShouldEqual, 3)
	test.That(t, tx.frames[2].ID, test.ShouldEqual, uint32(0x312))
	test.That(t, float32At(tx.frames[2].Data, 0), test.ShouldEqual, float32(30))

	// Standard frame IDs are 11 bits.
	c.BaseID = 0x7ff
	_, err := c.EncodeFrames(Sample{ModeID: 1})
	test.That(t, err, test.ShouldNotBeNil)

	tx.err = errors.New("bus off")
	c.BaseID = DefaultCANBaseID
	test.That(t, c.Emit(ctx, Sample{}), test.ShouldNotBeNil)
}

type failingSink struct{ closed bool }

func (f *failingSink) Emit(context.Context, Sample) error { return errors.New("emit failed") }
func (f *failingSink) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func TestMulti(t *testing.T) {
	rec := NewRecorder(0)
	bad := &failingSink{}
	m := Multi{bad, rec, Discard{}}
	err := m.Emit(context.Background(), Sample{Target: 1})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(rec.Samples()), test.ShouldEqual, 1)

	test.That(t, m.Close(), test.ShouldNotBeNil)
	test.That(t, bad.closed, test.ShouldBeTrue)
}

func TestRecorderLimit(t *testing.T) {
	rec := NewRecorder(3)
	_, ok := rec.Last()
	test.That(t, ok, test.ShouldBeFalse)
	for i := 0; i < 10; i++ {
		test.That(t, rec.Emit(context.Background(), Sample{Target: float64(i)}), test.ShouldBeNil)
	}
	s := rec.Samples()
	test.That(t, len(s), test.ShouldEqual, 3)
	test.That(t, s[0].Target, test.ShouldEqual, 7)
	last, ok := rec.Last()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last.Target, test.ShouldEqual, 9)
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLog(zap.New(core).Sugar())
	test.That(t, l.Emit(context.Background(), Sample{Mode: "speed", Target: 5, Measured: 4}), test.ShouldBeNil)
	entries := logs.All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].ContextMap()["mode"], test.ShouldEqual, "speed")
	test.That(t, l.Close(), test.ShouldBeNil)
}
