// Package station logs periodic weather readings from a humidity sensor and a
// barometer sharing one bus.
package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/multierr"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/environment"
)

const TimeFormat = "2006-01-02T15:04:05"

type Policy string

const (
	// PolicyFail stops logging on the first failed cycle.
	PolicyFail Policy = "fail"
	// PolicySkip logs the failure and emits nothing for the cycle.
	PolicySkip Policy = "skip"
	// PolicyRetry re-initializes the sensors and measures again before failing.
	PolicyRetry Policy = "retry"
)

var ErrUnknownPolicy = errors.New("unknown failure policy")

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyFail, PolicySkip, PolicyRetry:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

type HumiditySensor interface {
	Init(ctx context.Context) error
	Measure(ctx context.Context) (environment.Si7021Reading, error)
}

type PressureSensor interface {
	Init(ctx context.Context) error
	Measure(ctx context.Context) (environment.BMP180Reading, error)
}

// Record is one logged cycle.
type Record struct {
	Time     time.Time
	Humidity environment.Si7021Reading
	Pressure environment.BMP180Reading

	// tenths of a degree Celsius; not set when humidity is zero
	DewPoint    int32
	HasDewPoint bool
}

// Line renders the record as
// timestamp,temperature,humidity,bmp temperature,pressure kPa,dew point.
// The dew point field is left empty when it is undefined.
func (r Record) Line() string {
	dp := ""
	if r.HasDewPoint {
		dp = tenths(r.DewPoint)
	}
	p := r.Pressure.Pressure
	return fmt.Sprintf("%s,%s,%d,%s,%3d.%03d,%s",
		r.Time.Format(TimeFormat),
		tenths(r.Humidity.Temperature),
		r.Humidity.Humidity,
		tenths(r.Pressure.Temperature),
		p/1000, p%1000,
		dp,
	)
}

// tenths pads to the width of the "%2d.%d" layout.
func tenths(v int32) string {
	return fmt.Sprintf("%4s", environment.FormatTenths(int(v)))
}

type Opts struct {
	Interval   time.Duration
	OnFailure  Policy
	Retries    int
	RetryDelay time.Duration
	Clock      clock.Clock
}

type Opt func(*Opts)

func WithInterval(d time.Duration) Opt {
	return func(o *Opts) {
		o.Interval = d
	}
}

func WithPolicy(p Policy, retries int, delay time.Duration) Opt {
	return func(o *Opts) {
		o.OnFailure = p
		o.Retries = retries
		o.RetryDelay = delay
	}
}

// WithClock sets the clock for timestamps, retry delays and the interval
// scheduler.
func WithClock(clk clock.Clock) Opt {
	return func(o *Opts) {
		o.Clock = clk
	}
}

// Logger measures both sensors every interval and writes one CSV line per cycle.
type Logger struct {
	opts     Opts
	humidity HumiditySensor
	pressure PressureSensor
	out      io.Writer
	// sensors must be initialized again before the next measurement
	stale bool
}

func NewLogger(humidity HumiditySensor, pressure PressureSensor, out io.Writer, opts ...Opt) *Logger {
	o := Opts{
		Interval:  5 * time.Minute,
		OnFailure: PolicyFail,
		Clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Logger{opts: o, humidity: humidity, pressure: pressure, out: out, stale: true}
}

// Init initializes the humidity sensor, then the barometer.
func (l *Logger) Init(ctx context.Context) error {
	if err := l.humidity.Init(ctx); err != nil {
		return err
	}
	if err := l.pressure.Init(ctx); err != nil {
		return err
	}
	l.stale = false
	return nil
}

// Measure takes one reading from both sensors.
func (l *Logger) Measure(ctx context.Context) (Record, error) {
	if l.stale {
		if err := l.Init(ctx); err != nil {
			return Record{}, err
		}
	}
	rec := Record{Time: l.opts.Clock.Now()}
	var err error
	rec.Humidity, err = l.humidity.Measure(ctx)
	if err != nil {
		l.stale = true
		return Record{}, err
	}
	rec.Pressure, err = l.pressure.Measure(ctx)
	if err != nil {
		l.stale = true
		return Record{}, err
	}
	dp, err := environment.DewPoint(rec.Humidity.Temperature, rec.Humidity.Humidity)
	if err == nil {
		rec.DewPoint, rec.HasDewPoint = dp, true
	}
	return rec, nil
}

// Cycle runs one logging cycle under the failure policy. A nil error with no
// output means the cycle was skipped.
func (l *Logger) Cycle(ctx context.Context) error {
	rec, err := l.Measure(ctx)
	for attempt := 1; err != nil && l.opts.OnFailure == PolicyRetry && attempt <= l.opts.Retries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		slog.Warn("measurement failed, retrying", "attempt", attempt, "error", err)
		if werr := weatherlog.Wait(ctx, l.opts.Clock, l.opts.RetryDelay); werr != nil {
			return werr
		}
		l.stale = true
		rec, err = l.Measure(ctx)
	}
	if err != nil {
		if l.opts.OnFailure == PolicySkip && ctx.Err() == nil {
			slog.Warn("measurement failed, skipping cycle", "error", err)
			return nil
		}
		return fmt.Errorf("measurement failed: %w", err)
	}
	if _, err := io.WriteString(l.out, rec.Line()+"\n"); err != nil {
		return fmt.Errorf("could not write record: %w", err)
	}
	return nil
}

// Run initializes the sensors and logs until ctx is done or a cycle fails. The
// first cycle runs immediately; a slow cycle delays the next one instead of
// overlapping it.
func (l *Logger) Run(ctx context.Context) error {
	if err := l.Init(ctx); err != nil {
		return err
	}
	s, err := gocron.NewScheduler(gocron.WithClock(schedulerClock{l.opts.Clock}))
	if err != nil {
		return fmt.Errorf("could not create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	_, err = s.NewJob(
		gocron.DurationJob(l.opts.Interval),
		gocron.NewTask(func() {
			if err := l.Cycle(ctx); err != nil {
				cancel(err)
			}
		}),
		gocron.WithName("csv"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return multierr.Append(fmt.Errorf("could not schedule logging job: %w", err), s.Shutdown())
	}
	s.Start()
	slog.Debug("logging started", "interval", l.opts.Interval, "policy", l.opts.OnFailure)
	<-ctx.Done()
	err = context.Cause(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return multierr.Append(err, s.Shutdown())
}
