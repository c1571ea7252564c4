package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/weatherlog"
)

var _ weatherlog.TransportCloser = &GenericBus{}

// GenericBus is a Transport over a periph.io bus (Linux i2c-dev on most hosts).
type GenericBus struct {
	bus i2c.BusCloser
}

// OpenGeneric returns an Opener for host i2c-dev buses. A zero speed keeps the bus
// default.
func OpenGeneric(speed physic.Frequency) Opener {
	return func(bus int) (weatherlog.TransportCloser, error) {
		state, err := host.Init()
		if err != nil {
			return nil, fmt.Errorf("could not init host: %w", err)
		}
		for _, driver := range state.Loaded {
			slog.Debug("host driver loaded", "driver", driver.String())
		}
		b, err := i2creg.Open(strconv.Itoa(bus))
		if err != nil {
			return nil, fmt.Errorf("could not open i2c bus: %w", err)
		}
		if speed > 0 {
			if err := b.SetSpeed(speed); err != nil {
				_ = b.Close()
				return nil, fmt.Errorf("could not set i2c bus speed to %s: %w", speed, err)
			}
		}
		return NewGenericBus(b), nil
	}
}

func NewGenericBus(bus i2c.BusCloser) *GenericBus {
	return &GenericBus{bus: bus}
}

// Transfer maps messages onto periph transactions. A write directly followed by a
// read of the same address becomes one combined transaction; any other message is
// sent on its own. i2c-dev rejects a transaction without data, so an empty write
// (address probe) is sent as a single byte read.
func (b *GenericBus) Transfer(ctx context.Context, msgs []weatherlog.Message) (int, error) {
	done := 0
	for done < len(msgs) {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		m := msgs[done]
		var w, r []byte
		n := 1
		switch {
		case m.Dir == weatherlog.Read:
			r = m.Buf
		case len(m.Buf) == 0:
			var probe [1]byte
			r = probe[:]
		default:
			w = m.Buf
			if done+1 < len(msgs) && msgs[done+1].Dir == weatherlog.Read && msgs[done+1].Addr == m.Addr {
				r = msgs[done+1].Buf
				n = 2
			}
		}
		if err := b.bus.Tx(m.Addr, w, r); err != nil {
			return done, fmt.Errorf("could not transfer to i2c address %#02x: %w", m.Addr, err)
		}
		done += n
	}
	return done, nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}
