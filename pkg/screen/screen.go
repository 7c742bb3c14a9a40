// Package screen shows the controller status on a small framebuffer display.
package screen

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/fogleman/gg"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/control"
	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/tunable"
)

const (
	Width  = 128
	Height = 64

	DefaultDevice = "/dev/fb1"
	refreshPeriod = 200 * time.Millisecond
)

// Info is what gets drawn.
type Info struct {
	Status control.Status
	// Selected is the tunable being edited, if any.
	Selected *tunable.Tunable
}

// Render draws the status page: mode and run state on the first line, then the
// left wheel's target and measurement in the active loop's units.
func Render(info Info) image.Image {
	dc := gg.NewContext(Width, Height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.SetRGB(1, 1, 1)

	st := info.Status
	state := "OFF"
	if st.Running {
		state = "ON."
	}
	dc.DrawString(fmt.Sprintf("%s %s", state, st.Mode), 2, 10)
	if st.Running {
		// Highlight bar behind the run state, as on the menu.
		dc.DrawRectangle(0, 0, 22, 13)
		dc.SetRGBA(1, 1, 1, 0.3)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
	}

	switch st.Mode {
	case control.ModePosition, control.ModePositionCurve:
		dc.DrawString(fmt.Sprintf("tgt %8.1f deg", st.AngleTarget[0]), 2, 24)
		dc.DrawString(fmt.Sprintf("ang %8.1f deg", st.Left.Position.Angle), 2, 36)
	case control.ModePositionFollowLeft, control.ModePositionFollowRight:
		dc.DrawString(fmt.Sprintf("L %8.1f deg", st.Left.Position.Angle), 2, 24)
		dc.DrawString(fmt.Sprintf("R %8.1f deg", st.Right.Position.Angle), 2, 36)
	default:
		dc.DrawString(fmt.Sprintf("tgt %7.1f rpm", st.SpeedTarget[0]), 2, 24)
		dc.DrawString(fmt.Sprintf("vel %7.1f rpm", st.Left.Velocity.Angular), 2, 36)
	}
	dc.DrawString(fmt.Sprintf("duty %5d %5d", st.Duty[0], st.Duty[1]), 2, 48)

	if t := info.Selected; t != nil {
		dc.DrawString(fmt.Sprintf("> %s %.2f", t.Name, t.Get()), 2, 60)
	}
	return dc.Image()
}

// EncodeRGB565 packs an image into little endian RGB565 rows.
func EncodeRGB565(img image.Image) []byte {
	b := img.Bounds()
	buf := make([]byte, 0, b.Dx()*b.Dy()*2)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA() // 16-bit pre-multiplied
			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(bl >> (16 - 5))
			buf = append(buf, bb|(gb<<5), (rb<<3)|(gb>>3))
		}
	}
	return buf
}

// Loop redraws the display until ctx is done, then blanks it.  A missing
// display is not an error.
func Loop(ctx context.Context, device string, source func() Info, logger *zap.SugaredLogger) {
	f, err := os.OpenFile(device, os.O_RDWR, 0666)
	if err != nil {
		logger.Infow("No screen, not drawing status", "device", device, "error", err)
		return
	}
	defer f.Close()

	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = write(f, make([]byte, Width*Height*2))
			return
		case <-ticker.C:
		}
		if err := write(f, EncodeRGB565(Render(source()))); err != nil {
			logger.Warnw("Screen failure", "error", err)
			return
		}
	}
}

func write(f io.WriteSeeker, buf []byte) error {
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := f.Write(buf)
	return err
}
