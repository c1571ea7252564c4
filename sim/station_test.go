package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/environment"
	"github.com/mklimuk/weatherlog/i2c"
)

func TestStation_Sensors(t *testing.T) {
	h := i2c.NewHandle(Opener())
	ctx := context.Background()

	bmp := environment.NewBMP180(h, environment.WithConversionDelay(0))
	require.NoError(t, bmp.Init(ctx))
	assert.Equal(t, Calibration, bmp.Calibration())
	for oss := uint8(0); oss <= 3; oss++ {
		require.NoError(t, bmp.SetOversampling(oss))
		r, err := bmp.Measure(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(215), r.Temperature)
		assert.Equal(t, int32(101325), r.Pressure, "oversampling %d", oss)
	}

	si := environment.NewSi7021(h, environment.WithResetDelay(0), environment.WithChecksumValidation(true))
	require.NoError(t, si.Init(ctx))
	r, err := si.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, environment.Si7021Reading{Temperature: 215, Humidity: 45}, r)
}

func TestStation_Behaviors(t *testing.T) {
	errSensor := errors.New("sensor broke")
	h := i2c.NewHandle(Opener(
		WithTemperature(Static(-5)),
		WithHumidity(func(context.Context) (float64, error) { return 0, errSensor }),
		WithPressure(Static(99000)),
	))
	ctx := context.Background()

	bmp := environment.NewBMP180(h, environment.WithConversionDelay(0))
	require.NoError(t, bmp.Init(ctx))
	r, err := bmp.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(-50), r.Temperature)
	// the raw pressure step is a couple of pascals wide
	assert.InDelta(t, 99000, r.Pressure, 2)

	si := environment.NewSi7021(h, environment.WithResetDelay(0))
	require.NoError(t, si.Init(ctx))
	_, err = si.Measure(ctx)
	assert.ErrorIs(t, err, weatherlog.ErrIncompleteTransaction)
	assert.ErrorIs(t, err, errSensor)
	assert.Equal(t, environment.Failed, si.State())
}

func TestStation_Detect(t *testing.T) {
	h := i2c.NewHandle(Opener())
	ctx := context.Background()
	require.NoError(t, h.Select(ctx, 1))
	m, err := i2c.NewTx(h).Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x40, 0x77}, m.Addresses())
}

func TestRawConversions(t *testing.T) {
	assert.Equal(t, uint16(27892), RawTemperature(15))
	assert.Equal(t, uint32(23846), RawPressure(27892, 0, 69964))
	assert.Equal(t, uint16(0x5FDD), RawSi7021Temperature(19))
	assert.Equal(t, uint16(0x645B), RawSi7021Humidity(43))
}
