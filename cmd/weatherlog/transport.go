package main

import (
	"fmt"
	"io"

	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/weatherlog/adapter"
	"github.com/mklimuk/weatherlog/i2c"
	"github.com/mklimuk/weatherlog/pkg/config"
	"github.com/mklimuk/weatherlog/sim"
)

// openSession builds the bus opener for the configured transport.
func openSession(cfg config.Config, out io.Writer) (*session, error) {
	switch cfg.Transport {
	case config.TransportGeneric:
		speed := physic.Frequency(cfg.SpeedHz) * physic.Hertz
		return newSession(cfg, i2c.OpenGeneric(speed), out), nil
	case config.TransportGobot:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		s := newSession(cfg, i2c.OpenGobot(npi), out)
		s.finalize = npi.I2cBusAdaptor.Finalize
		return s, nil
	case config.TransportMCP2221:
		return newSession(cfg, adapter.Opener(), out), nil
	case config.TransportSim:
		return newSession(cfg, sim.Opener(
			sim.WithTemperature(sim.Static(cfg.Sim.Temperature)),
			sim.WithHumidity(sim.Static(cfg.Sim.Humidity)),
			sim.WithPressure(sim.Static(cfg.Sim.Pressure)),
		), out), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
