package environment

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/i2c"
)

// datasheet example coefficients
var sampleCalibration = BMP180Calibration{
	AC1: 408, AC2: -72, AC3: -14383,
	AC4: 32741, AC5: 32757, AC6: 23153,
	B1: 6190, B2: 4,
	MB: -32768, MC: -8711, MD: 2868,
}

var sampleCalibrationBlock = []byte{
	0x01, 0x98, 0xFF, 0xB8, 0xC7, 0xD1,
	0x7F, 0xE5, 0x7F, 0xF5, 0x5A, 0x71,
	0x18, 0x2E, 0x00, 0x04,
	0x80, 0x00, 0xDD, 0xF9, 0x0B, 0x34,
}

func playbackHandle(ops ...i2ctest.IO) (*i2c.Handle, *i2ctest.Playback) {
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	return i2c.NewHandle(func(int) (weatherlog.TransportCloser, error) {
		return i2c.NewGenericBus(pb), nil
	}), pb
}

func TestParseCalibration(t *testing.T) {
	cal, err := ParseCalibration(sampleCalibrationBlock)
	require.NoError(t, err)
	assert.Equal(t, sampleCalibration, cal)

	_, err = ParseCalibration(sampleCalibrationBlock[:20])
	assert.ErrorIs(t, err, weatherlog.ErrProtocolMismatch)

	blank := make([]byte, 22)
	_, err = ParseCalibration(blank)
	assert.ErrorIs(t, err, weatherlog.ErrProtocolMismatch)
}

func TestCompensateTemperature(t *testing.T) {
	temp, b5 := CompensateTemperature(sampleCalibration, 27898)
	assert.Equal(t, int32(150), temp)
	assert.Equal(t, int32(2400), b5)

	// x1 == -md
	temp, b5 = CompensateTemperature(sampleCalibration, 20285)
	assert.Equal(t, int32(-2868), b5)
	assert.Equal(t, int32(-179), temp)
}

func TestCompensatePressure(t *testing.T) {
	tests := []struct {
		oss      uint8
		raw      uint32
		expected int32
	}{
		{0, 23843, 69964},
		{1, 23843 * 2, 69962},
		{3, 23843 * 8, 69963},
	}
	for _, test := range tests {
		t.Run(string(rune('0'+test.oss)), func(t *testing.T) {
			assert.Equal(t, test.expected, CompensatePressure(sampleCalibration, test.oss, 2400, test.raw))
		})
	}
}

func TestBMP180_InitAndMeasure(t *testing.T) {
	h, pb := playbackHandle(
		i2ctest.IO{Addr: 0x77, W: []byte{0xD0}, R: []byte{0x55}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xAA}, R: sampleCalibrationBlock},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF4, 0x2E}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF6}, R: []byte{0x6C, 0xFA}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF4, 0x34}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF6}, R: []byte{0x5D, 0x23, 0x00}},
	)
	s := NewBMP180(h, WithConversionDelay(0))
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, sampleCalibration, s.Calibration())
	assert.Equal(t, uint8(0), s.Oversampling())

	r, err := s.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, BMP180Reading{RawPressure: 23843, Temperature: 150, Pressure: 69964}, r)
	require.NoError(t, pb.Close())

	env := r.Env()
	assert.Equal(t, physic.ZeroCelsius+15*physic.Kelvin, env.Temperature)
	assert.Equal(t, 69964*physic.Pascal, env.Pressure)
}

func TestBMP180_RawPressureOversampling(t *testing.T) {
	h, _ := playbackHandle(
		i2ctest.IO{Addr: 0x77, W: []byte{0xD0}, R: []byte{0x55}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xAA}, R: sampleCalibrationBlock},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF4, 0xF4}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF6}, R: []byte{0x5D, 0x23, 0x40}},
	)
	s := NewBMP180(h, WithConversionDelay(0))
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.SetOversampling(3))

	raw, err := s.ReadRawPressure(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x5D2340>>5), raw)

	assert.ErrorIs(t, s.SetOversampling(4), ErrInvalidOversampling)
	assert.Equal(t, uint8(3), s.Oversampling())
}

func TestBMP180_InitFailures(t *testing.T) {
	tests := []struct {
		name     string
		ops      []i2ctest.IO
		expected error
	}{
		{
			name:     "wrong chip id",
			ops:      []i2ctest.IO{{Addr: 0x77, W: []byte{0xD0}, R: []byte{0x58}}},
			expected: weatherlog.ErrProtocolMismatch,
		},
		{
			name:     "no device",
			expected: weatherlog.ErrIncompleteTransaction,
		},
		{
			name: "blank calibration",
			ops: []i2ctest.IO{
				{Addr: 0x77, W: []byte{0xD0}, R: []byte{0x55}},
				{Addr: 0x77, W: []byte{0xAA}, R: make([]byte, 22)},
			},
			expected: weatherlog.ErrProtocolMismatch,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h, _ := playbackHandle(test.ops...)
			s := NewBMP180(h)
			err := s.Init(context.Background())
			assert.ErrorIs(t, err, test.expected)
			assert.Equal(t, Failed, s.State())
		})
	}
}

func TestBMP180_RequiresInit(t *testing.T) {
	h, _ := playbackHandle()
	s := NewBMP180(h)
	_, err := s.ReadRawTemperature(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.ReadRawPressure(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, Uninitialized, s.State())
}

func TestBMP180_ConversionWaitsOnClock(t *testing.T) {
	h, _ := playbackHandle(
		i2ctest.IO{Addr: 0x77, W: []byte{0xD0}, R: []byte{0x55}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xAA}, R: sampleCalibrationBlock},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF4, 0x2E}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF6}, R: []byte{0x6C, 0xFA}},
	)
	clk := clock.NewMock()
	s := NewBMP180(h, WithBMP180Clock(clk))
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	done := make(chan uint16, 1)
	go func() {
		raw, err := s.ReadRawTemperature(ctx)
		assert.NoError(t, err)
		done <- raw
	}()
	var raw uint16
	assert.Eventually(t, func() bool {
		select {
		case raw = <-done:
			return true
		default:
			clk.Add(10 * time.Millisecond)
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint16(27898), raw)
}

func TestBMP180_ConversionCanceled(t *testing.T) {
	h, _ := playbackHandle(
		i2ctest.IO{Addr: 0x77, W: []byte{0xD0}, R: []byte{0x55}},
		i2ctest.IO{Addr: 0x77, W: []byte{0xAA}, R: sampleCalibrationBlock},
		i2ctest.IO{Addr: 0x77, W: []byte{0xF4, 0x2E}},
	)
	s := NewBMP180(h, WithBMP180Clock(clock.NewMock()))
	require.NoError(t, s.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ReadRawTemperature(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, s.State())
}
