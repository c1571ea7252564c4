// Package sim emulates a BMP180 and a Si7021 sharing one bus. Readings come from
// behavior functions so the logger and the console can run without hardware.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sigurn/crc8"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/environment"
)

const (
	bmp180Address = 0x77
	si7021Address = 0x40
)

var crcTable = crc8.MakeTable(crc8.Params{Poly: 0x31, Init: 0x00, Name: "CRC-8/SI7021"})

// Calibration holds the datasheet example coefficients.
var Calibration = environment.BMP180Calibration{
	AC1: 408, AC2: -72, AC3: -14383,
	AC4: 32741, AC5: 32757, AC6: 23153,
	B1: 6190, B2: 4,
	MB: -32768, MC: -8711, MD: 2868,
}

// Behavior returns the next value of a simulated quantity: degrees Celsius,
// percent relative humidity or pascals.
type Behavior func(ctx context.Context) (float64, error)

// Static always returns v.
func Static(v float64) Behavior {
	return func(context.Context) (float64, error) {
		return v, nil
	}
}

type StationOpts struct {
	Temperature Behavior
	Humidity    Behavior
	Pressure    Behavior
}

type StationOpt func(*StationOpts)

func WithTemperature(b Behavior) StationOpt {
	return func(o *StationOpts) {
		o.Temperature = b
	}
}

func WithHumidity(b Behavior) StationOpt {
	return func(o *StationOpts) {
		o.Humidity = b
	}
}

func WithPressure(b Behavior) StationOpt {
	return func(o *StationOpts) {
		o.Pressure = b
	}
}

// Station answers the register protocol of both sensors. Any other address is not
// acknowledged.
type Station struct {
	opts StationOpts

	mx  sync.Mutex
	out [3]byte
}

func NewStation(opts ...StationOpt) *Station {
	o := StationOpts{
		Temperature: Static(21.5),
		Humidity:    Static(45),
		Pressure:    Static(101325),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Station{opts: o}
}

// Opener hands out the same station for every bus number.
func Opener(opts ...StationOpt) func(bus int) (weatherlog.TransportCloser, error) {
	st := NewStation(opts...)
	return func(int) (weatherlog.TransportCloser, error) {
		return st, nil
	}
}

func (s *Station) Transfer(ctx context.Context, msgs []weatherlog.Message) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	done := 0
	for done < len(msgs) {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		m := msgs[done]
		if m.Addr != bmp180Address && m.Addr != si7021Address {
			return done, fmt.Errorf("no device at %#02x", m.Addr)
		}
		if m.Dir == weatherlog.Read {
			return done, fmt.Errorf("read from %#02x without command", m.Addr)
		}
		var reply []byte
		n := 1
		if done+1 < len(msgs) && msgs[done+1].Dir == weatherlog.Read && msgs[done+1].Addr == m.Addr {
			reply = msgs[done+1].Buf
			n = 2
		}
		var err error
		if m.Addr == bmp180Address {
			err = s.bmp180(ctx, m.Buf, reply)
		} else {
			err = s.si7021(ctx, m.Buf, reply)
		}
		if err != nil {
			return done, err
		}
		done += n
	}
	return done, nil
}

func (s *Station) Close() error {
	return nil
}

func (s *Station) bmp180(ctx context.Context, cmd, reply []byte) error {
	if len(cmd) == 0 {
		return nil
	}
	switch {
	case cmd[0] == 0xF4 && len(cmd) == 2:
		return s.convert(ctx, cmd[1])
	case cmd[0] == 0xD0:
		return fill(reply, []byte{0x55})
	case cmd[0] == 0xAA:
		return fill(reply, calibrationBlock())
	case cmd[0] == 0xF6:
		return fill(reply, s.out[:])
	default:
		return fmt.Errorf("bmp180: unsupported command % x", cmd)
	}
}

// convert stores the raw value the BMP180 would present at 0xF6 after cmd.
func (s *Station) convert(ctx context.Context, cmd byte) error {
	t, err := s.opts.Temperature(ctx)
	if err != nil {
		return err
	}
	ut := RawTemperature(t)
	if cmd == 0x2E {
		binary.BigEndian.PutUint16(s.out[:2], ut)
		s.out[2] = 0
		return nil
	}
	if cmd&0x3F != 0x34 {
		return fmt.Errorf("bmp180: unsupported conversion %#02x", cmd)
	}
	p, err := s.opts.Pressure(ctx)
	if err != nil {
		return err
	}
	oss := cmd >> 6
	up := RawPressure(ut, oss, p) << (8 - oss)
	s.out[0], s.out[1], s.out[2] = byte(up>>16), byte(up>>8), byte(up)
	return nil
}

func (s *Station) si7021(ctx context.Context, cmd, reply []byte) error {
	if len(cmd) == 0 {
		return nil
	}
	switch cmd[0] {
	case 0xFE:
		return nil
	case 0xE7:
		return fill(reply, []byte{0x3A})
	case 0x84:
		return fill(reply, []byte{0x20})
	case 0xFA, 0xFC:
		return fill(reply, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88})
	case 0xE3:
		t, err := s.opts.Temperature(ctx)
		if err != nil {
			return err
		}
		return fill(reply, withCRC(RawSi7021Temperature(t)))
	case 0xE5:
		h, err := s.opts.Humidity(ctx)
		if err != nil {
			return err
		}
		return fill(reply, withCRC(RawSi7021Humidity(h)))
	default:
		return fmt.Errorf("si7021: unsupported command %#02x", cmd[0])
	}
}

// RawTemperature returns the BMP180 raw temperature compensating to celsius.
func RawTemperature(celsius float64) uint16 {
	target := tenths(celsius)
	// below AC6 the compensation is not monotonic
	lo := int(Calibration.AC6)
	i := sort.Search(0x10000-lo, func(i int) bool {
		t, _ := environment.CompensateTemperature(Calibration, uint16(lo+i))
		return t >= target
	})
	return uint16(min(lo+i, 0xFFFF))
}

// RawPressure returns the BMP180 raw pressure compensating to pa for the given raw
// temperature and oversampling.
func RawPressure(ut uint16, oss uint8, pa float64) uint32 {
	_, b5 := environment.CompensateTemperature(Calibration, ut)
	target := int32(math.Round(pa))
	// below b3 the compensation wraps around
	lo, limit := 1024<<oss, 1<<(16+oss)
	i := sort.Search(limit-lo, func(i int) bool {
		return environment.CompensatePressure(Calibration, oss, b5, uint32(lo+i)) >= target
	})
	return uint32(min(lo+i, limit-1))
}

func RawSi7021Temperature(celsius float64) uint16 {
	target := tenths(celsius)
	i := sort.Search(0x10000, func(i int) bool {
		return environment.Si7021Temperature(uint16(i)) >= target
	})
	return uint16(min(i, 0xFFFF))
}

func RawSi7021Humidity(rh float64) uint16 {
	target := int32(math.Round(rh))
	i := sort.Search(0x10000, func(i int) bool {
		return environment.Si7021Humidity(uint16(i)) >= target
	})
	return uint16(min(i, 0xFFFF))
}

func tenths(v float64) int32 {
	return int32(math.Round(v * 10))
}

func calibrationBlock() []byte {
	c := Calibration
	block := make([]byte, 0, 22)
	for _, w := range []uint16{
		uint16(c.AC1), uint16(c.AC2), uint16(c.AC3), c.AC4, c.AC5, c.AC6,
		uint16(c.B1), uint16(c.B2), uint16(c.MB), uint16(c.MC), uint16(c.MD),
	} {
		block = binary.BigEndian.AppendUint16(block, w)
	}
	return block
}

func withCRC(raw uint16) []byte {
	b := binary.BigEndian.AppendUint16(nil, raw)
	return append(b, crc8.Checksum(b, crcTable))
}

func fill(reply, data []byte) error {
	if len(reply) > len(data) {
		return fmt.Errorf("%d bytes requested, %d available", len(reply), len(data))
	}
	copy(reply, data)
	return nil
}
