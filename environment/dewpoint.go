package environment

import (
	"fmt"
	"math"
)

var ErrUndefinedDewPoint = fmt.Errorf("dew point undefined for zero relative humidity")

// Magnus coefficients (Alduchov and Eskridge) valid for -40..50 °C
const (
	magnusB = 17.625
	magnusC = 243.04
)

// DewPoint derives the dew point in tenths of a degree Celsius from a temperature
// in tenths of a degree and a relative humidity in percent.
func DewPoint(temperature, humidity int32) (int32, error) {
	if humidity <= 0 {
		return 0, ErrUndefinedDewPoint
	}
	t := float64(temperature) / 10
	gamma := math.Log(float64(humidity)/100) + magnusB*t/(magnusC+t)
	dp := magnusC * gamma / (magnusB - gamma)
	return int32(math.Floor(10*dp + 0.5)), nil
}
