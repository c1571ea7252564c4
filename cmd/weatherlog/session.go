package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/mklimuk/weatherlog/environment"
	"github.com/mklimuk/weatherlog/i2c"
	"github.com/mklimuk/weatherlog/pkg/config"
	"github.com/mklimuk/weatherlog/station"
)

var errUsage = errors.New("usage")

// session is the state shared by the commands of one process: the open bus and
// the configuration the sensors are built from.
type session struct {
	cfg      config.Config
	handle   *i2c.Handle
	bus      int
	out      io.Writer
	finalize func() error
}

func newSession(cfg config.Config, open i2c.Opener, out io.Writer) *session {
	return &session{
		cfg:    cfg,
		handle: i2c.NewHandle(open),
		bus:    cfg.Bus,
		out:    out,
	}
}

func (s *session) Close() error {
	err := s.handle.Close()
	if s.finalize != nil {
		err = multierr.Append(err, s.finalize())
	}
	return err
}

// selectBus handles "i2c <busno>". Success produces no output.
func (s *session) selectBus(ctx context.Context, args []string) error {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(s.out, "Usage: i2c <busno>")
		return errUsage
	}
	bus, err := strconv.Atoi(args[0])
	if err != nil || bus < 0 {
		_, _ = fmt.Fprintln(s.out, "Usage: i2c <busno>")
		return errUsage
	}
	if err := s.handle.Select(ctx, bus); err != nil {
		return err
	}
	s.bus = bus
	return nil
}

func (s *session) detect(ctx context.Context) error {
	if err := s.handle.Select(ctx, s.bus); err != nil {
		return err
	}
	m, err := i2c.NewTx(s.handle).Detect(ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(s.out, m.String())
	return err
}

func (s *session) newBMP180() *oversampledBMP180 {
	return &oversampledBMP180{
		BMP180: environment.NewBMP180(s.handle,
			environment.WithBMP180Bus(s.bus),
			environment.WithConversionDelay(s.cfg.BMP180.ConversionDelay),
		),
		oss: s.cfg.BMP180.Oversampling,
	}
}

func (s *session) newSi7021() *environment.Si7021 {
	return environment.NewSi7021(s.handle,
		environment.WithSi7021Bus(s.bus),
		environment.WithResetDelay(s.cfg.Si7021.ResetDelay),
		environment.WithChecksumValidation(s.cfg.Si7021.ValidateChecksum),
	)
}

func (s *session) bmp180(ctx context.Context) error {
	sensor := s.newBMP180()
	if err := sensor.Init(ctx); err != nil {
		return err
	}
	r, err := sensor.Measure(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.out, "Raw pres: %d\nTemp: %s\nPressure: %d\n",
		r.RawPressure, environment.FormatTenths(int(r.Temperature)), r.Pressure)
	return err
}

func (s *session) si7021(ctx context.Context) error {
	sensor := s.newSi7021()
	if err := sensor.Init(ctx); err != nil {
		return err
	}
	r, err := sensor.Measure(ctx)
	if err != nil {
		return err
	}
	dew := "n/a"
	if dp, err := environment.DewPoint(r.Temperature, r.Humidity); err == nil {
		dew = environment.FormatTenths(int(dp))
	}
	_, err = fmt.Fprintf(s.out, "Temp: %s\nRelative humidity: %d\nDew point: %s\n",
		environment.FormatTenths(int(r.Temperature)), r.Humidity, dew)
	return err
}

// csv logs until ctx is done or a cycle fails under the configured policy.
func (s *session) csv(ctx context.Context) error {
	policy, err := station.ParsePolicy(s.cfg.CSV.OnFailure)
	if err != nil {
		return err
	}
	out := s.out
	if s.cfg.CSV.Output != "" {
		f, err := os.OpenFile(s.cfg.CSV.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("could not open csv output: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	logger := station.NewLogger(s.newSi7021(), s.newBMP180(), out,
		station.WithInterval(s.cfg.CSV.Interval),
		station.WithPolicy(policy, s.cfg.CSV.Retries, s.cfg.CSV.RetryDelay),
	)
	return logger.Run(ctx)
}

// eval runs one console line.
func (s *session) eval(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "i2c":
		return s.selectBus(ctx, fields[1:])
	case "detect":
		return s.detect(ctx)
	case "bmp180":
		return s.bmp180(ctx)
	case "si7021":
		return s.si7021(ctx)
	case "csv":
		return s.csv(ctx)
	case "help":
		_, err := io.WriteString(s.out, consoleHelp)
		return err
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
}

const consoleHelp = `i2c <busno>  select the bus
detect       scan the bus for devices
bmp180       read temperature and pressure
si7021       read temperature, humidity and dew point
csv          log both sensors periodically (Ctrl-C to stop)
exit         leave the console
`

func parseOversampling(v uint) (uint8, error) {
	if v > 3 {
		return 0, fmt.Errorf("%w: %d, expected 0-3", environment.ErrInvalidOversampling, v)
	}
	return uint8(v), nil
}

// oversampledBMP180 applies the configured oversampling after every init.
type oversampledBMP180 struct {
	*environment.BMP180
	oss uint8
}

func (b *oversampledBMP180) Init(ctx context.Context) error {
	if err := b.BMP180.Init(ctx); err != nil {
		return err
	}
	return b.SetOversampling(b.oss)
}
