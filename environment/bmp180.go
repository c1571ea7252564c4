package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/i2c"
)

// BMP180 I2C address (7-bit)
const bmp180Address = 0x77

const (
	bmp180RegChipID      byte = 0xD0
	bmp180RegCalibration byte = 0xAA
	bmp180RegControl     byte = 0xF4
	bmp180RegOutput      byte = 0xF6

	bmp180ChipID byte = 0x55

	bmp180CmdTemperature byte = 0x2E
	bmp180CmdPressure    byte = 0x34

	bmp180CalibrationSize = 22
	bmp180MaxOversampling = 3
)

// DefaultBMP180ConversionDelay covers the longest (ultra high resolution) conversion.
const DefaultBMP180ConversionDelay = 50 * time.Millisecond

// BMP180Calibration holds the factory coefficients stored in the sensor EEPROM.
type BMP180Calibration struct {
	AC1 int16
	AC2 int16
	AC3 int16
	AC4 uint16
	AC5 uint16
	AC6 uint16
	B1  int16
	B2  int16
	MB  int16
	MC  int16
	MD  int16
}

// ParseCalibration decodes the 22 byte calibration block read from 0xAA. The
// datasheet guarantees that no word reads as 0x0000 or 0xFFFF, which is used to
// detect a missing or misbehaving device.
func ParseCalibration(data []byte) (BMP180Calibration, error) {
	if len(data) != bmp180CalibrationSize {
		return BMP180Calibration{}, fmt.Errorf("%w: calibration block of %d bytes", weatherlog.ErrProtocolMismatch, len(data))
	}
	var words [bmp180CalibrationSize / 2]uint16
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[2*i:])
		if words[i] == 0x0000 || words[i] == 0xFFFF {
			return BMP180Calibration{}, fmt.Errorf("%w: calibration word %d is %#04x", weatherlog.ErrProtocolMismatch, i, words[i])
		}
	}
	return BMP180Calibration{
		AC1: int16(words[0]),
		AC2: int16(words[1]),
		AC3: int16(words[2]),
		AC4: words[3],
		AC5: words[4],
		AC6: words[5],
		B1:  int16(words[6]),
		B2:  int16(words[7]),
		MB:  int16(words[8]),
		MC:  int16(words[9]),
		MD:  int16(words[10]),
	}, nil
}

// CompensateTemperature converts a raw temperature reading into tenths of a degree
// Celsius. It also returns the b5 term the pressure compensation depends on.
// A raw value making x1+md zero drops the mc/(x1+md) term instead of dividing by
// zero; the result is then not a meaningful temperature.
func CompensateTemperature(cal BMP180Calibration, raw uint16) (int32, int32) {
	x1 := ((int32(raw) - int32(cal.AC6)) * int32(cal.AC5)) >> 15
	var x2 int32
	if d := x1 + int32(cal.MD); d != 0 {
		x2 = (int32(cal.MC) << 11) / d
	}
	b5 := x1 + x2
	return (b5 + 8) >> 4, b5
}

// CompensatePressure converts a raw pressure reading taken with oversampling oss
// into pascals. b5 comes from the temperature compensation of a reading taken
// just before.
func CompensatePressure(cal BMP180Calibration, oss uint8, b5 int32, raw uint32) int32 {
	b6 := b5 - 4000
	x1 := (int32(cal.B2) * ((b6 * b6) >> 12)) >> 11
	x2 := (int32(cal.AC2) * b6) >> 11
	x3 := x1 + x2
	b3 := (((int32(cal.AC1)*4 + x3) << oss) + 2) >> 2

	x1 = (int32(cal.AC3) * b6) >> 13
	x2 = (int32(cal.B1) * ((b6 * b6) >> 12)) >> 16
	x3 = ((x1 + x2) + 2) >> 2
	b4 := (uint32(cal.AC4) * uint32(x3+32768)) >> 15
	if b4 == 0 {
		return 0
	}
	b7 := (raw - uint32(b3)) * (50000 >> oss)

	var p int32
	if b7 < 0x80000000 {
		p = int32((b7 << 1) / b4)
	} else {
		p = int32((b7 / b4) << 1)
	}
	x1 = (p >> 8) * (p >> 8)
	x1 = (x1 * 3038) >> 16
	x2 = (-7357 * p) >> 16
	return p + ((x1 + x2 + 3791) >> 4)
}

type BMP180Opts struct {
	Bus             int
	Clock           clock.Clock
	ConversionDelay time.Duration
}

type BMP180Opt func(*BMP180Opts)

func WithBMP180Bus(bus int) BMP180Opt {
	return func(o *BMP180Opts) {
		o.Bus = bus
	}
}

func WithBMP180Clock(clk clock.Clock) BMP180Opt {
	return func(o *BMP180Opts) {
		o.Clock = clk
	}
}

func WithConversionDelay(delay time.Duration) BMP180Opt {
	return func(o *BMP180Opts) {
		o.ConversionDelay = delay
	}
}

// BMP180 represents the Bosch BMP180 barometric pressure and temperature sensor.
// Typical usage:
//
//	s := NewBMP180(handle, WithBMP180Bus(1))
//	err := s.Init(ctx)
//	r, err := s.Measure(ctx)
//
// A BMP180 is owned by a single goroutine; sensors sharing the handle may run
// concurrently.
type BMP180 struct {
	opts  BMP180Opts
	tx    *i2c.Tx
	reply [bmp180CalibrationSize]byte

	state State
	oss   uint8
	cal   BMP180Calibration
	b5    int32
}

func NewBMP180(handle *i2c.Handle, opts ...BMP180Opt) *BMP180 {
	o := BMP180Opts{
		Bus:             1,
		Clock:           clock.New(),
		ConversionDelay: DefaultBMP180ConversionDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &BMP180{opts: o, tx: i2c.NewTx(handle)}
}

func (s *BMP180) State() State {
	return s.state
}

func (s *BMP180) Calibration() BMP180Calibration {
	return s.cal
}

func (s *BMP180) Oversampling() uint8 {
	return s.oss
}

// Init checks the chip id and loads the calibration block. Oversampling is reset
// to 0.
func (s *BMP180) Init(ctx context.Context) error {
	s.state = Uninitialized
	if err := s.tx.Handle().Select(ctx, s.opts.Bus); err != nil {
		return s.fail("init", err)
	}
	id, err := s.tx.GetRegister(ctx, bmp180Address, bmp180RegChipID)
	if err != nil {
		return s.fail("init", err)
	}
	if id != bmp180ChipID {
		return s.fail("init", fmt.Errorf("%w: chip id %#02x, expected %#02x", weatherlog.ErrProtocolMismatch, id, bmp180ChipID))
	}
	block := s.reply[:bmp180CalibrationSize]
	if err := s.tx.WriteRead(ctx, bmp180Address, []byte{bmp180RegCalibration}, block); err != nil {
		return s.fail("init", err)
	}
	cal, err := ParseCalibration(block)
	if err != nil {
		return s.fail("init", err)
	}
	s.cal = cal
	s.oss = 0
	s.state = Ready
	slog.Debug("bmp180 ready", "bus", s.opts.Bus, "calibration", fmt.Sprintf("%+v", cal))
	return nil
}

// SetOversampling selects the pressure resolution mode (0 ultra low power to 3
// ultra high resolution).
func (s *BMP180) SetOversampling(oss uint8) error {
	if oss > bmp180MaxOversampling {
		return fmt.Errorf("bmp180: %w: %d", ErrInvalidOversampling, oss)
	}
	s.oss = oss
	return nil
}

// ReadRawTemperature starts a temperature conversion, waits for it without holding
// the bus and returns the uncompensated value.
func (s *BMP180) ReadRawTemperature(ctx context.Context) (uint16, error) {
	if s.state != Ready {
		return 0, fmt.Errorf("bmp180: %w", ErrNotInitialized)
	}
	if err := s.convert(ctx, bmp180CmdTemperature, 2); err != nil {
		return 0, s.fail("raw temperature read", err)
	}
	return binary.BigEndian.Uint16(s.reply[:2]), nil
}

// ReadRawPressure starts a pressure conversion using the current oversampling
// setting and returns the uncompensated value.
func (s *BMP180) ReadRawPressure(ctx context.Context) (uint32, error) {
	if s.state != Ready {
		return 0, fmt.Errorf("bmp180: %w", ErrNotInitialized)
	}
	if err := s.convert(ctx, bmp180CmdPressure|s.oss<<6, 3); err != nil {
		return 0, s.fail("raw pressure read", err)
	}
	raw := uint32(s.reply[0])<<16 | uint32(s.reply[1])<<8 | uint32(s.reply[2])
	return raw >> (8 - s.oss), nil
}

func (s *BMP180) convert(ctx context.Context, cmd byte, n int) error {
	if err := s.tx.SetRegister(ctx, bmp180Address, bmp180RegControl, cmd); err != nil {
		return err
	}
	if err := weatherlog.Wait(ctx, s.opts.Clock, s.opts.ConversionDelay); err != nil {
		return err
	}
	return s.tx.WriteRead(ctx, bmp180Address, []byte{bmp180RegOutput}, s.reply[:n])
}

// Temperature compensates a raw reading into tenths of a degree Celsius and
// retains the intermediate term used by Pressure.
func (s *BMP180) Temperature(raw uint16) int32 {
	t, b5 := CompensateTemperature(s.cal, raw)
	s.b5 = b5
	return t
}

// Pressure compensates a raw reading into pascals using the last temperature.
func (s *BMP180) Pressure(raw uint32) int32 {
	return CompensatePressure(s.cal, s.oss, s.b5, raw)
}

// BMP180Reading is one compensated measurement.
type BMP180Reading struct {
	RawPressure uint32
	// tenths of a degree Celsius
	Temperature int32
	// pascals
	Pressure int32
}

func (r BMP180Reading) Env() physic.Env {
	return physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(r.Temperature)*100*physic.MilliKelvin,
		Pressure:    physic.Pressure(r.Pressure) * physic.Pascal,
	}
}

// Measure reads temperature then pressure and compensates both.
func (s *BMP180) Measure(ctx context.Context) (BMP180Reading, error) {
	rawT, err := s.ReadRawTemperature(ctx)
	if err != nil {
		return BMP180Reading{}, err
	}
	rawP, err := s.ReadRawPressure(ctx)
	if err != nil {
		return BMP180Reading{}, err
	}
	r := BMP180Reading{RawPressure: rawP, Temperature: s.Temperature(rawT)}
	r.Pressure = s.Pressure(rawP)
	return r, nil
}

func (s *BMP180) fail(op string, err error) error {
	s.state = Failed
	return fmt.Errorf("bmp180: %s failed: %w", op, err)
}
