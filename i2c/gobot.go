package i2c

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	gobot "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/weatherlog"
)

var _ weatherlog.TransportCloser = &GobotBus{}

// GobotBus is a Transport over a gobot platform adaptor (NanoPi, Raspberry Pi, ...).
// Gobot exposes one connection per device address, so messages are sent one after
// another and a write followed by a read is not a repeated start.
type GobotBus struct {
	mx        sync.Mutex
	connector gobot.Connector
	bus       int
	conns     map[uint16]gobot.Connection
}

// OpenGobot returns an Opener bound to an already connected adaptor.
func OpenGobot(connector gobot.Connector) Opener {
	return func(bus int) (weatherlog.TransportCloser, error) {
		return &GobotBus{
			connector: connector,
			bus:       bus,
			conns:     make(map[uint16]gobot.Connection),
		}, nil
	}
}

func (b *GobotBus) Transfer(ctx context.Context, msgs []weatherlog.Message) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	for i, m := range msgs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		conn, err := b.connection(m.Addr)
		if err != nil {
			return i, err
		}
		var n int
		if m.Dir == weatherlog.Read {
			n, err = conn.Read(m.Buf)
		} else {
			n, err = conn.Write(m.Buf)
		}
		if err != nil {
			return i, fmt.Errorf("could not transfer to i2c address %#02x: %w", m.Addr, err)
		}
		if n != len(m.Buf) {
			return i, fmt.Errorf("short transfer to i2c address %#02x: %d of %d bytes", m.Addr, n, len(m.Buf))
		}
	}
	return len(msgs), nil
}

func (b *GobotBus) connection(addr uint16) (gobot.Connection, error) {
	if conn, ok := b.conns[addr]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(addr), b.bus)
	if err != nil {
		return nil, fmt.Errorf("%w: could not get connection to %#02x on bus %d: %w", weatherlog.ErrBusUnavailable, addr, b.bus, err)
	}
	b.conns[addr] = conn
	return conn, nil
}

func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	for addr, conn := range b.conns {
		err = multierr.Append(err, conn.Close())
		delete(b.conns, addr)
	}
	return err
}
