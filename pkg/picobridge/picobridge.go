// Package picobridge drives a microcontroller on the I2C bus that counts both
// wheel encoders in hardware timers and generates the motor PWM.  Registers
// are 16 bits wide, big endian.
package picobridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/io/i2c"

	"github.com/tigerbot-team/tigerbot/wheelctl/pkg/hardware"
)

const (
	DefaultAddr = 0x42
	DefaultBus  = "/dev/i2c-1"
)

type Register byte

const (
	RegCtrl Register = iota
	RegStatus
	RegWatchdogTimeout
	RegFaultCount

	RegEnc0Count
	RegEnc1Count
	// RegEncDir has bit n set while encoder n counts down.
	RegEncDir
	// Writing bit n zeroes encoder n.
	RegEncReset

	RegMot0Duty
	RegMot1Duty

	RegBattV // LSB=4mV
)

const BattVLSB = 0.004

const (
	RegCtrlEnableI2CControl uint16 = 1 << iota
	RegCtrlRun
	RegCtrlReset
	RegCtrlWatchdogEnable
	RegCtrlMot0Enable
	RegCtrlMot1Enable
)

type StatusFlag uint16

const (
	RegStatusFault StatusFlag = 1 << iota
	RegStatusWatchdogExpired
)

func (f StatusFlag) String() string {
	if f == 0 {
		return "ok"
	}
	var names []string
	if f&RegStatusFault != 0 {
		names = append(names, "fault")
	}
	if f&RegStatusWatchdogExpired != 0 {
		names = append(names, "watchdog-expired")
	}
	if rest := f &^ (RegStatusFault | RegStatusWatchdogExpired); rest != 0 {
		names = append(names, fmt.Sprintf("0x%04x", uint16(rest)))
	}
	return strings.Join(names, ",")
}

const (
	writeAttempts = 20
	retryDelay    = time.Millisecond
	configRefresh = 100 * time.Millisecond
)

var ErrWriteFailed = errors.New("pico bridge write failed")

// Device is the subset of an I2C device the bridge uses; *i2c.Device
// satisfies it.
type Device interface {
	Write(buf []byte) error
	ReadReg(reg byte, buf []byte) error
	Close() error
}

// Opener (re)opens the bridge's I2C device.
type Opener func() (Device, error)

// DevfsOpener opens the bridge at addr on a Linux i2c-dev bus.
func DevfsOpener(bus string, addr int) Opener {
	return func() (Device, error) {
		dev, err := i2c.Open(&i2c.Devfs{Dev: bus}, addr)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// Bridge implements hardware.CounterReader, hardware.MotorDriver and
// hardware.DirectionSensor.  Encoder channel n is counter n and motor n is
// PWM output n.
type Bridge struct {
	open   Opener
	clk    clock.Clock
	logger *zap.SugaredLogger

	lock            sync.Mutex
	dev             Device
	running         bool
	enabled         [hardware.NumMotors]bool
	watchdogEnabled bool
	lastConfigWord  uint16
	lastConfigTime  time.Time
}

var (
	_ hardware.CounterReader   = (*Bridge)(nil)
	_ hardware.MotorDriver     = (*Bridge)(nil)
	_ hardware.DirectionSensor = (*Bridge)(nil)
)

func New(open Opener, clk clock.Clock, logger *zap.SugaredLogger) (*Bridge, error) {
	dev, err := open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open pico bridge")
	}
	b := &Bridge{
		open:    open,
		clk:     clk,
		logger:  logger,
		dev:     dev,
		enabled: [hardware.NumMotors]bool{true, true},
	}
	return b, nil
}

func (b *Bridge) ReadCounter(ctx context.Context, ch hardware.Channel) (uint32, error) {
	reg, err := counterReg(ch)
	if err != nil {
		return 0, err
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	v, err := b.readReg(reg)
	return uint32(v), err
}

func (b *Bridge) ResetCounter(ctx context.Context, ch hardware.Channel) error {
	if _, err := counterReg(ch); err != nil {
		return err
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.writeReg(ctx, RegEncReset, 1<<uint(ch))
}

func (b *Bridge) CountingDown(ctx context.Context, ch hardware.Channel) (bool, error) {
	if _, err := counterReg(ch); err != nil {
		return false, err
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	dir, err := b.readReg(RegEncDir)
	if err != nil {
		return false, err
	}
	return dir&(1<<uint(ch)) != 0, nil
}

func (b *Bridge) Start(ctx context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.running = true
	return b.configure(ctx, false)
}

func (b *Bridge) Stop(ctx context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.running = false
	return b.configure(ctx, true)
}

func (b *Bridge) Enable(ctx context.Context, m hardware.Motor, on bool) error {
	if m < 0 || m >= hardware.NumMotors {
		return errors.Wrapf(hardware.ErrUnknownMotor, "motor %d", m)
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.enabled[m] = on
	return b.configure(ctx, false)
}

func (b *Bridge) SetDuty(ctx context.Context, m hardware.Motor, duty int16) error {
	if m < 0 || m >= hardware.NumMotors {
		return errors.Wrapf(hardware.ErrUnknownMotor, "motor %d", m)
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	if err := b.configure(ctx, false); err != nil {
		return err
	}
	return b.writeReg(ctx, RegMot0Duty+Register(m), uint16(duty))
}

// SetWatchdog makes the bridge stop the motors if no command arrives within
// timeout.  Zero disables the watchdog.
func (b *Bridge) SetWatchdog(ctx context.Context, timeout time.Duration) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if timeout == 0 {
		b.watchdogEnabled = false
		return b.configure(ctx, false)
	}
	ms := timeout.Milliseconds()
	if ms > 0xffff {
		ms = 0xffff
	}
	if err := b.writeReg(ctx, RegWatchdogTimeout, uint16(ms)); err != nil {
		return err
	}
	b.watchdogEnabled = true
	return b.configure(ctx, false)
}

func (b *Bridge) BattVolts() (float64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	raw, err := b.readReg(RegBattV)
	if err != nil {
		return 0, err
	}
	return float64(raw) * BattVLSB, nil
}

func (b *Bridge) Status() (StatusFlag, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	raw, err := b.readReg(RegStatus)
	return StatusFlag(raw), err
}

var _ hardware.HealthReporter = (*Bridge)(nil)

// Health reports the battery voltage and the status flags.
func (b *Bridge) Health(ctx context.Context) ([]hardware.Reading, error) {
	var readings []hardware.Reading
	volts, err := b.BattVolts()
	if err != nil {
		return readings, err
	}
	readings = append(readings, hardware.Reading{Name: "battery", Value: fmt.Sprintf("%.2fV", volts)})
	flags, err := b.Status()
	if err != nil {
		return readings, err
	}
	readings = append(readings, hardware.Reading{Name: "status", Value: flags.String()})
	return readings, nil
}

// Close stops the motors and releases the device.
func (b *Bridge) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.running = false
	if err := b.configure(context.Background(), true); err != nil {
		b.logger.Warnw("Pico bridge: failed to reset on close", "error", err)
	}
	return b.dev.Close()
}

func counterReg(ch hardware.Channel) (Register, error) {
	if ch < 0 || int(ch) >= hardware.NumMotors {
		return 0, errors.Wrapf(hardware.ErrUnknownChannel, "channel %d", ch)
	}
	return RegEnc0Count + Register(ch), nil
}

// configure writes the control word if it changed, or if it has not been
// refreshed recently.
func (b *Bridge) configure(ctx context.Context, resetDuties bool) error {
	configWord := RegCtrlEnableI2CControl
	if resetDuties {
		configWord |= RegCtrlReset
	}
	if b.running {
		configWord |= RegCtrlRun
		if b.enabled[hardware.MotorLeft] {
			configWord |= RegCtrlMot0Enable
		}
		if b.enabled[hardware.MotorRight] {
			configWord |= RegCtrlMot1Enable
		}
	}
	if b.watchdogEnabled {
		configWord |= RegCtrlWatchdogEnable
	}

	if configWord == b.lastConfigWord && b.clk.Since(b.lastConfigTime) < configRefresh {
		return nil
	}
	if err := b.writeReg(ctx, RegCtrl, configWord); err != nil {
		return err
	}
	b.lastConfigTime = b.clk.Now()
	// Reset is not persistent.
	b.lastConfigWord = configWord &^ RegCtrlReset
	return nil
}

func (b *Bridge) writeReg(ctx context.Context, reg Register, value uint16) error {
	return b.writeWithRetries(ctx, []byte{byte(reg), byte(value >> 8), byte(value)})
}

func (b *Bridge) writeWithRetries(ctx context.Context, data []byte) error {
	var err error
	for tries := 0; tries < writeAttempts; tries++ {
		if tries > 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "pico bridge write abandoned")
			case <-b.clk.After(retryDelay):
			}
			b.reopen()
		}
		err = b.dev.Write(data)
		if err == nil {
			if tries > 0 {
				b.logger.Infow("Pico bridge: write succeeded after retries", "retries", tries)
			}
			return nil
		}
		b.logger.Warnw("Pico bridge: write failed", "register", data[0], "error", err)
	}
	return errors.Wrapf(ErrWriteFailed, "register %d after %d attempts: %v", data[0], writeAttempts, err)
}

func (b *Bridge) reopen() {
	_ = b.dev.Close()
	dev, err := b.open()
	if err != nil {
		b.logger.Warnw("Pico bridge: reopen failed", "error", err)
		return
	}
	b.dev = dev
}

func (b *Bridge) readReg(reg Register) (uint16, error) {
	var buf [2]byte
	if err := b.dev.ReadReg(byte(reg), buf[:]); err != nil {
		return 0, errors.Wrapf(err, "failed to read pico bridge register %d", reg)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}
