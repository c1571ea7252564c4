package i2c

import (
	"context"
	"fmt"

	"github.com/mklimuk/weatherlog"
)

// SetRegister writes val to register reg of the device at addr.
func (t *Tx) SetRegister(ctx context.Context, addr uint16, reg, val byte) error {
	err := t.writePhase(ctx, addr, reg, val)
	if err == nil {
		err = t.Stop(ctx)
	}
	if err != nil {
		t.Reset()
		return fmt.Errorf("set register %#02x of %#02x failed: %w", reg, addr, err)
	}
	return nil
}

// GetRegister reads register reg of the device at addr. The register pointer write
// and the read share one transfer.
func (t *Tx) GetRegister(ctx context.Context, addr uint16, reg byte) (byte, error) {
	var val [1]byte
	err := t.writePhase(ctx, addr, reg)
	if err == nil {
		err = t.readPhase(ctx, addr, val[:])
	}
	if err != nil {
		t.Reset()
		return 0, fmt.Errorf("get register %#02x of %#02x failed: %w", reg, addr, err)
	}
	return val[0], nil
}

func (t *Tx) Write(ctx context.Context, addr uint16, data []byte) error {
	err := t.writePhase(ctx, addr, data...)
	if err == nil {
		err = t.Stop(ctx)
	}
	if err != nil {
		t.Reset()
		return fmt.Errorf("write to %#02x failed: %w", addr, err)
	}
	return nil
}

// Read fills buf from the device at addr.
func (t *Tx) Read(ctx context.Context, addr uint16, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("read from %#02x failed: %w: empty buffer", addr, weatherlog.ErrInvalidState)
	}
	if err := t.readPhase(ctx, addr, buf); err != nil {
		t.Reset()
		return fmt.Errorf("read from %#02x failed: %w", addr, err)
	}
	return nil
}

// WriteRead sends out and then fills in from the device at addr in a single
// transfer, the usual "command, then result" exchange.
func (t *Tx) WriteRead(ctx context.Context, addr uint16, out, in []byte) error {
	if len(in) == 0 {
		return fmt.Errorf("write-read %#02x failed: %w: empty buffer", addr, weatherlog.ErrInvalidState)
	}
	err := t.writePhase(ctx, addr, out...)
	if err == nil {
		err = t.readPhase(ctx, addr, in)
	}
	if err != nil {
		t.Reset()
		return fmt.Errorf("write-read %#02x failed: %w", addr, err)
	}
	return nil
}

func (t *Tx) writePhase(ctx context.Context, addr uint16, data ...byte) error {
	if err := t.Start(ctx); err != nil {
		return err
	}
	if err := t.SendAddress(addr, 0); err != nil {
		return err
	}
	for _, b := range data {
		if err := t.SendByte(b); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) readPhase(ctx context.Context, addr uint16, buf []byte) error {
	if err := t.Start(ctx); err != nil {
		return err
	}
	if err := t.SendAddress(addr, len(buf)); err != nil {
		return err
	}
	for i := range buf {
		b, err := t.GetByte(ctx)
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}
