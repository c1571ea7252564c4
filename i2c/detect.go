package i2c

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mklimuk/weatherlog"
)

// DeviceMap is a bitmap of the 128 7-bit addresses; bit n is set when a device
// acknowledged address n.
type DeviceMap [2]uint64

func (m *DeviceMap) Set(addr uint16) {
	if addr >= 0x80 {
		return
	}
	m[addr/64] |= 1 << (addr % 64)
}

func (m DeviceMap) Has(addr uint16) bool {
	if addr >= 0x80 {
		return false
	}
	return m[addr/64]&(1<<(addr%64)) != 0
}

func (m DeviceMap) Addresses() []uint16 {
	var res []uint16
	for addr := uint16(0); addr < 0x80; addr++ {
		if m.Has(addr) {
			res = append(res, addr)
		}
	}
	return res
}

// String renders the map the way i2cdetect does.
func (m DeviceMap) String() string {
	var sb strings.Builder
	sb.WriteString("     0  1  2  3  4  5  6  7  8  9  a  b  c  d  e  f")
	for addr := uint16(0); addr < 0x80; addr++ {
		if addr%16 == 0 {
			_, _ = fmt.Fprintf(&sb, "\n%02x: ", addr)
		}
		if m.Has(addr) {
			_, _ = fmt.Fprintf(&sb, "%02x ", addr)
		} else {
			sb.WriteString("-- ")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// Detect probes every 7-bit address with a zero-length write. A missing
// acknowledge only clears the address bit; the scan stops early only when the bus
// cannot be reached or ctx is done.
func (t *Tx) Detect(ctx context.Context) (DeviceMap, error) {
	var m DeviceMap
	for addr := uint16(0); addr < 0x80; addr++ {
		err := t.probe(ctx, addr)
		if err == nil {
			m.Set(addr)
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return m, ctxErr
		}
		if errors.Is(err, weatherlog.ErrBusUnavailable) {
			return m, err
		}
	}
	return m, nil
}

func (t *Tx) probe(ctx context.Context, addr uint16) error {
	defer t.Reset()
	if err := t.Start(ctx); err != nil {
		return err
	}
	if err := t.SendAddress(addr, 0); err != nil {
		return err
	}
	return t.Stop(ctx)
}
