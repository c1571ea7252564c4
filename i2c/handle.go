package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/weatherlog"
)

// Opener opens the transport for the given bus number.
type Opener func(bus int) (weatherlog.TransportCloser, error)

const noBus = -1

// Handle is the open bus shared by every sensor driver on one physical bus.
// Only one transaction may be in flight on a Handle at a time.
type Handle struct {
	mx        sync.Mutex
	open      Opener
	bus       int
	transport weatherlog.TransportCloser

	// owner semaphore; held from the first Start of a transaction until it is reset
	sem chan struct{}
}

func NewHandle(open Opener) *Handle {
	return &Handle{
		open: open,
		bus:  noBus,
		sem:  make(chan struct{}, 1),
	}
}

// Select makes bus the active bus. The transport is reopened only when bus differs
// from the currently open one.
func (h *Handle) Select(ctx context.Context, bus int) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.bus == bus && h.transport != nil {
		return nil
	}
	if h.transport != nil {
		if err := h.transport.Close(); err != nil {
			slog.Warn("could not close i2c bus", "bus", h.bus, "error", err)
		}
		h.transport = nil
	}
	h.bus = noBus
	t, err := h.open(bus)
	if err != nil {
		return fmt.Errorf("%w: could not open bus %d: %w", weatherlog.ErrBusUnavailable, bus, err)
	}
	slog.Debug("i2c bus opened", "bus", bus)
	h.bus = bus
	h.transport = t
	return nil
}

// Bus returns the selected bus number or -1 when no bus is open.
func (h *Handle) Bus() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.bus
}

// Transfer sends msgs over the open transport. Callers are expected to hold
// the Handle (see Tx).
func (h *Handle) Transfer(ctx context.Context, msgs []weatherlog.Message) (int, error) {
	h.mx.Lock()
	t := h.transport
	h.mx.Unlock()
	if t == nil {
		return 0, fmt.Errorf("%w: no bus selected", weatherlog.ErrBusUnavailable)
	}
	return t.Transfer(ctx, msgs)
}

func (h *Handle) Close() error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.transport == nil {
		return nil
	}
	err := h.transport.Close()
	h.transport = nil
	h.bus = noBus
	return err
}

func (h *Handle) acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) release() {
	<-h.sem
}
