package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sigurn/crc8"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/i2c"
)

// Si7021 I2C address (7-bit)
const si7021Address = 0x40

const (
	si7021CmdReset           byte = 0xFE
	si7021CmdReadUserReg     byte = 0xE7
	si7021CmdMeasureRH       byte = 0xE5
	si7021CmdMeasureTemp     byte = 0xE3
	si7021UserRegDefault     byte = 0x3A
	si7021FirmwareV1         byte = 0xFF
	si7021FirmwareV2         byte = 0x20
	si7021MeasurementLength       = 3
)

var (
	si7021CmdFirmware = []byte{0x84, 0xB8}
	si7021CmdSerialA  = []byte{0xFA, 0x0F}
	si7021CmdSerialB  = []byte{0xFC, 0xC9}
)

// DefaultSi7021ResetDelay is the powerup time after a soft reset.
const DefaultSi7021ResetDelay = 20 * time.Millisecond

// checksum used on measurement words: x^8 + x^5 + x^4 + 1, initialized with 0
var si7021CRC = crc8.MakeTable(crc8.Params{Poly: 0x31, Init: 0x00, Name: "CRC-8/SI7021"})

// Si7021Temperature converts a raw temperature code into tenths of a degree
// Celsius.
func Si7021Temperature(raw uint16) int32 {
	return int32(17572*uint32(raw)/655360) - 468
}

// Si7021Humidity converts a raw humidity code into percent relative humidity
// clamped to [0, 100].
func Si7021Humidity(raw uint16) int32 {
	rh := int32(125*uint32(raw)/65536) - 6
	if rh < 0 {
		return 0
	}
	if rh > 100 {
		return 100
	}
	return rh
}

type Si7021Opts struct {
	Bus              int
	Clock            clock.Clock
	ResetDelay       time.Duration
	ValidateChecksum bool
}

type Si7021Opt func(*Si7021Opts)

func WithSi7021Bus(bus int) Si7021Opt {
	return func(o *Si7021Opts) {
		o.Bus = bus
	}
}

func WithSi7021Clock(clk clock.Clock) Si7021Opt {
	return func(o *Si7021Opts) {
		o.Clock = clk
	}
}

func WithResetDelay(delay time.Duration) Si7021Opt {
	return func(o *Si7021Opts) {
		o.ResetDelay = delay
	}
}

// WithChecksumValidation makes raw reads verify the checksum byte sent after each
// measurement. It is off by default.
func WithChecksumValidation(enabled bool) Si7021Opt {
	return func(o *Si7021Opts) {
		o.ValidateChecksum = enabled
	}
}

// Si7021 represents the Silicon Labs Si7021 humidity and temperature sensor.
type Si7021 struct {
	opts  Si7021Opts
	tx    *i2c.Tx
	reply [8]byte
	state State
}

func NewSi7021(handle *i2c.Handle, opts ...Si7021Opt) *Si7021 {
	o := Si7021Opts{
		Bus:        1,
		Clock:      clock.New(),
		ResetDelay: DefaultSi7021ResetDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Si7021{opts: o, tx: i2c.NewTx(handle)}
}

func (s *Si7021) State() State {
	return s.state
}

// Init soft resets the sensor and checks the user register and firmware revision.
// The serial number is read only to confirm the bus works; it is not kept.
func (s *Si7021) Init(ctx context.Context) error {
	s.state = Uninitialized
	h := s.tx.Handle()
	if err := h.Select(ctx, s.opts.Bus); err != nil {
		return s.fail("init", err)
	}
	if err := s.tx.Write(ctx, si7021Address, []byte{si7021CmdReset}); err != nil {
		return s.fail("reset", err)
	}
	if err := weatherlog.Wait(ctx, s.opts.Clock, s.opts.ResetDelay); err != nil {
		return s.fail("reset", err)
	}
	if err := h.Select(ctx, s.opts.Bus); err != nil {
		return s.fail("init", err)
	}
	reg, err := s.tx.GetRegister(ctx, si7021Address, si7021CmdReadUserReg)
	if err != nil {
		return s.fail("init", err)
	}
	if reg != si7021UserRegDefault {
		return s.fail("init", fmt.Errorf("%w: user register %#02x, expected %#02x", weatherlog.ErrProtocolMismatch, reg, si7021UserRegDefault))
	}
	if err := s.tx.WriteRead(ctx, si7021Address, si7021CmdFirmware, s.reply[:1]); err != nil {
		return s.fail("firmware revision read", err)
	}
	if rev := s.reply[0]; rev != si7021FirmwareV1 && rev != si7021FirmwareV2 {
		return s.fail("init", fmt.Errorf("%w: %#02x", weatherlog.ErrUnsupportedFirmware, rev))
	}
	if err := s.tx.WriteRead(ctx, si7021Address, si7021CmdSerialA, s.reply[:8]); err != nil {
		return s.fail("serial number read", err)
	}
	if err := s.tx.WriteRead(ctx, si7021Address, si7021CmdSerialB, s.reply[:6]); err != nil {
		return s.fail("serial number read", err)
	}
	s.state = Ready
	slog.Debug("si7021 ready", "bus", s.opts.Bus)
	return nil
}

func (s *Si7021) ReadRawTemperature(ctx context.Context) (uint16, error) {
	return s.measure(ctx, "raw temperature read", si7021CmdMeasureTemp)
}

func (s *Si7021) ReadRawHumidity(ctx context.Context) (uint16, error) {
	return s.measure(ctx, "raw humidity read", si7021CmdMeasureRH)
}

// measure issues a hold master mode measurement: the sensor stretches the clock
// until the conversion completes, so no explicit delay is needed.
func (s *Si7021) measure(ctx context.Context, op string, cmd byte) (uint16, error) {
	if s.state != Ready {
		return 0, fmt.Errorf("si7021: %w", ErrNotInitialized)
	}
	buf := s.reply[:si7021MeasurementLength]
	if err := s.tx.WriteRead(ctx, si7021Address, []byte{cmd}, buf); err != nil {
		return 0, s.fail(op, err)
	}
	if s.opts.ValidateChecksum {
		if sum := crc8.Checksum(buf[:2], si7021CRC); sum != buf[2] {
			return 0, s.fail(op, fmt.Errorf("%w: got %#02x, computed %#02x", ErrChecksumMismatch, buf[2], sum))
		}
	}
	return binary.BigEndian.Uint16(buf[:2]), nil
}

// Si7021Reading is one compensated measurement.
type Si7021Reading struct {
	// tenths of a degree Celsius
	Temperature int32
	// percent
	Humidity int32
}

func (r Si7021Reading) Env() physic.Env {
	return physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(r.Temperature)*100*physic.MilliKelvin,
		Humidity:    physic.RelativeHumidity(r.Humidity) * physic.PercentRH,
	}
}

// Measure reads temperature then humidity and compensates both.
func (s *Si7021) Measure(ctx context.Context) (Si7021Reading, error) {
	rawT, err := s.ReadRawTemperature(ctx)
	if err != nil {
		return Si7021Reading{}, err
	}
	rawRH, err := s.ReadRawHumidity(ctx)
	if err != nil {
		return Si7021Reading{}, err
	}
	return Si7021Reading{
		Temperature: Si7021Temperature(rawT),
		Humidity:    Si7021Humidity(rawRH),
	}, nil
}

func (s *Si7021) fail(op string, err error) error {
	s.state = Failed
	return fmt.Errorf("si7021: %s failed: %w", op, err)
}
