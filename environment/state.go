package environment

import (
	"fmt"
	"strconv"
)

var (
	ErrNotInitialized      = fmt.Errorf("sensor not initialized")
	ErrChecksumMismatch    = fmt.Errorf("measurement checksum mismatch")
	ErrInvalidOversampling = fmt.Errorf("oversampling setting out of range")
)

// State of a sensor acquisition state machine. Ready and Failed are terminal until
// the next Init.
type State int

const (
	Uninitialized State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// FormatTenths renders a value in tenths of a unit as "D.D", keeping the sign of
// values between -1 and 0.
func FormatTenths(v int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + strconv.Itoa(v/10) + "." + strconv.Itoa(v%10)
}
