package station

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jonboulle/clockwork"
)

// schedulerClock lets the gocron scheduler run on the logger's clock.
type schedulerClock struct {
	clk clock.Clock
}

var _ clockwork.Clock = schedulerClock{}

func (c schedulerClock) After(d time.Duration) <-chan time.Time {
	return c.clk.After(d)
}

func (c schedulerClock) Sleep(d time.Duration) {
	c.clk.Sleep(d)
}

func (c schedulerClock) Now() time.Time {
	return c.clk.Now()
}

func (c schedulerClock) Since(t time.Time) time.Duration {
	return c.clk.Since(t)
}

func (c schedulerClock) Until(t time.Time) time.Duration {
	return c.clk.Until(t)
}

func (c schedulerClock) NewTicker(d time.Duration) clockwork.Ticker {
	return ticker{c.clk.Ticker(d)}
}

func (c schedulerClock) NewTimer(d time.Duration) clockwork.Timer {
	return timer{c.clk.Timer(d)}
}

func (c schedulerClock) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	return timer{c.clk.AfterFunc(d, f)}
}

type timer struct {
	*clock.Timer
}

func (t timer) Chan() <-chan time.Time {
	return t.C
}

type ticker struct {
	*clock.Ticker
}

func (t ticker) Chan() <-chan time.Time {
	return t.C
}
