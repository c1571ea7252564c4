package console

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/weatherlog"
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// ExitErr turns a command failure into a red exit message. Bus level failures
// get a hint on what to check.
func ExitErr(what string, err error) cli.ExitCoder {
	switch {
	case errors.Is(err, weatherlog.ErrBusUnavailable):
		return Exit(2, "%s failed: %s (is the bus enabled and accessible?)", what, Red(err))
	case errors.Is(err, weatherlog.ErrIncompleteTransaction), errors.Is(err, weatherlog.ErrProtocolMismatch):
		return Exit(1, "%s failed: %s (is the sensor connected?)", what, Red(err))
	default:
		return Exit(1, "%s failed: %s", what, Red(err))
	}
}
