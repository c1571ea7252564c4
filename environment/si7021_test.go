package environment

import (
	"context"
	"fmt"
	"testing"

	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/i2c"
)

func si7021InitOps(userReg, firmware byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x40, W: []byte{0xFE}},
		{Addr: 0x40, W: []byte{0xE7}, R: []byte{userReg}},
		{Addr: 0x40, W: []byte{0x84, 0xB8}, R: []byte{firmware}},
		{Addr: 0x40, W: []byte{0xFA, 0x0F}, R: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{Addr: 0x40, W: []byte{0xFC, 0xC9}, R: []byte{1, 2, 3, 4, 5, 6}},
	}
}

func TestSi7021Temperature(t *testing.T) {
	tests := []struct {
		raw      uint16
		expected int32
	}{
		{0x0000, -468},
		{0x6000, 190},
		{0xFFFF, 1289},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#04x", test.raw), func(t *testing.T) {
			assert.Equal(t, test.expected, Si7021Temperature(test.raw))
		})
	}
}

func TestSi7021Humidity(t *testing.T) {
	tests := []struct {
		raw      uint16
		expected int32
	}{
		{0x0000, 0},
		{0x0C49, 0},
		{0x664C, 43},
		{0xFFFF, 100},
		{0xE000, 100},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#04x", test.raw), func(t *testing.T) {
			assert.Equal(t, test.expected, Si7021Humidity(test.raw))
		})
	}
}

func TestSi7021CRC(t *testing.T) {
	assert.Equal(t, uint8(0xA2), crc8.Checksum([]byte("123456789"), si7021CRC))
	assert.Equal(t, uint8(0x4F), crc8.Checksum([]byte{0x66, 0x4C}, si7021CRC))
}

func TestSi7021_InitAndMeasure(t *testing.T) {
	ops := append(si7021InitOps(0x3A, 0x20),
		i2ctest.IO{Addr: 0x40, W: []byte{0xE3}, R: []byte{0x60, 0x00, 0x55}},
		i2ctest.IO{Addr: 0x40, W: []byte{0xE5}, R: []byte{0x66, 0x4C, 0x4F}},
	)
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	opened := 0
	h := i2c.NewHandle(func(int) (weatherlog.TransportCloser, error) {
		opened++
		return i2c.NewGenericBus(pb), nil
	})
	s := NewSi7021(h, WithResetDelay(0), WithChecksumValidation(true))
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, 1, opened, "reselecting the same bus after reset must not reopen it")

	r, err := s.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, Si7021Reading{Temperature: 190, Humidity: 43}, r)
	require.NoError(t, pb.Close())

	env := r.Env()
	assert.Equal(t, physic.ZeroCelsius+19*physic.Kelvin, env.Temperature)
	assert.Equal(t, 43*physic.PercentRH, env.Humidity)
}

func TestSi7021_InitFailures(t *testing.T) {
	tests := []struct {
		name     string
		ops      []i2ctest.IO
		expected error
	}{
		{"no device", nil, weatherlog.ErrIncompleteTransaction},
		{"wrong user register", si7021InitOps(0x3B, 0xFF)[:2], weatherlog.ErrProtocolMismatch},
		{"unsupported firmware", si7021InitOps(0x3A, 0x10)[:3], weatherlog.ErrUnsupportedFirmware},
		{"serial number not readable", si7021InitOps(0x3A, 0xFF)[:4], weatherlog.ErrIncompleteTransaction},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h, _ := playbackHandle(test.ops...)
			s := NewSi7021(h, WithResetDelay(0))
			err := s.Init(context.Background())
			assert.ErrorIs(t, err, test.expected)
			assert.Equal(t, Failed, s.State())
		})
	}
}

func TestSi7021_Checksum(t *testing.T) {
	bad := i2ctest.IO{Addr: 0x40, W: []byte{0xE5}, R: []byte{0x66, 0x4C, 0x00}}

	t.Run("ignored by default", func(t *testing.T) {
		h, _ := playbackHandle(append(si7021InitOps(0x3A, 0xFF), bad)...)
		s := NewSi7021(h, WithResetDelay(0))
		require.NoError(t, s.Init(context.Background()))
		raw, err := s.ReadRawHumidity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint16(0x664C), raw)
	})
	t.Run("validated when enabled", func(t *testing.T) {
		h, _ := playbackHandle(append(si7021InitOps(0x3A, 0xFF), bad)...)
		s := NewSi7021(h, WithResetDelay(0), WithChecksumValidation(true))
		require.NoError(t, s.Init(context.Background()))
		_, err := s.ReadRawHumidity(context.Background())
		assert.ErrorIs(t, err, ErrChecksumMismatch)
		assert.Equal(t, Failed, s.State())
	})
}

func TestSi7021_RequiresInit(t *testing.T) {
	h, _ := playbackHandle()
	s := NewSi7021(h)
	_, err := s.ReadRawTemperature(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.ReadRawHumidity(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}
