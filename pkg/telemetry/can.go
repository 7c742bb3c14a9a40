package telemetry

import (
	"context"
	"encoding/binary"
	"math"
	"net"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

const DefaultCANBaseID = 0x300

// FrameTransmitter sends CAN frames; *socketcan.Transmitter satisfies it.
type FrameTransmitter interface {
	TransmitFrame(ctx context.Context, f can.Frame) error
}

// CAN publishes each sample as a frame with ID BaseID+ModeID carrying target
// and measured value as little endian float32s.  Position modes send the
// velocity in a second frame with ID BaseID+0x10+ModeID.
type CAN struct {
	BaseID uint32

	tx   FrameTransmitter
	conn net.Conn
}

func NewCAN(tx FrameTransmitter, baseID uint32) *CAN {
	return &CAN{BaseID: baseID, tx: tx}
}

// DialCAN opens a socketcan interface such as "can0" or "vcan0".
func DialCAN(ctx context.Context, iface string, baseID uint32) (*CAN, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open CAN interface %s", iface)
	}
	c := NewCAN(socketcan.NewTransmitter(conn), baseID)
	c.conn = conn
	return c, nil
}

// EncodeFrames returns the frames for a sample.
func (c *CAN) EncodeFrames(s Sample) ([]can.Frame, error) {
	frames := []can.Frame{pairFrame(c.BaseID+uint32(s.ModeID), s.Target, s.Measured)}
	if s.HasVelocity {
		frames = append(frames, pairFrame(c.BaseID+0x10+uint32(s.ModeID), s.Velocity, 0))
	}
	for _, f := range frames {
		if err := f.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid telemetry frame")
		}
	}
	return frames, nil
}

func pairFrame(id uint32, a, b float64) can.Frame {
	f := can.Frame{ID: id, Length: 8}
	binary.LittleEndian.PutUint32(f.Data[0:4], math.Float32bits(float32(a)))
	binary.LittleEndian.PutUint32(f.Data[4:8], math.Float32bits(float32(b)))
	return f
}

func (c *CAN) Emit(ctx context.Context, s Sample) error {
	frames, err := c.EncodeFrames(s)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := c.tx.TransmitFrame(ctx, f); err != nil {
			return errors.Wrap(err, "failed to transmit telemetry frame")
		}
	}
	return nil
}

func (c *CAN) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
