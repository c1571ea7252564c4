package i2c

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/snsctx"
)

const (
	// MaxMessages is the number of addressed phases a single transaction can hold.
	MaxMessages = 4
	// MaxMessageSize is the buffer capacity of a single message.
	MaxMessageSize = 32
)

const idle = -1

// Tx builds a multi-message bus transaction and commits it lazily: nothing is sent
// until the first byte of a read phase is requested or the transaction is stopped.
// This lets a register write and the following read share one transfer (repeated
// start) instead of two.
//
// A Tx is owned by a single sensor and is not safe for concurrent use. Different
// Tx values sharing a Handle are serialized: the first Start of a transaction waits
// for exclusive use of the Handle, which is released when the transaction ends.
type Tx struct {
	handle *Handle

	msgs  [MaxMessages]weatherlog.Message
	bufs  [MaxMessages][MaxMessageSize]byte
	index int
	// bytes of the open read message already handed out
	consumed int
	owned    bool
}

func NewTx(h *Handle) *Tx {
	return &Tx{handle: h, index: idle}
}

func (t *Tx) Handle() *Handle {
	return t.handle
}

// Idle reports whether no transaction is open.
func (t *Tx) Idle() bool {
	return t.index == idle
}

// Reset abandons the open transaction, if any, and releases the bus.
func (t *Tx) Reset() {
	t.index = idle
	t.consumed = 0
	if t.owned {
		t.owned = false
		t.handle.release()
	}
}

// Start opens a new message slot. The first Start of a transaction blocks until
// the bus is free or ctx is done.
func (t *Tx) Start(ctx context.Context) error {
	if t.index == idle {
		if err := t.handle.acquire(ctx); err != nil {
			return err
		}
		t.owned = true
	}
	if t.index+1 >= MaxMessages {
		t.Reset()
		return fmt.Errorf("%w: more than %d messages", weatherlog.ErrCapacityExceeded, MaxMessages)
	}
	t.index++
	t.msgs[t.index] = weatherlog.Message{Buf: t.bufs[t.index][:0]}
	return nil
}

// SendAddress addresses the open message. A zero readLen makes it a write,
// otherwise it reads readLen bytes.
func (t *Tx) SendAddress(addr uint16, readLen int) error {
	if t.index == idle {
		return fmt.Errorf("%w: address %#02x sent with no message open", weatherlog.ErrInvalidState, addr)
	}
	if readLen < 0 || readLen > MaxMessageSize {
		t.Reset()
		return fmt.Errorf("%w: read of %d bytes", weatherlog.ErrCapacityExceeded, readLen)
	}
	m := &t.msgs[t.index]
	m.Addr = addr
	if readLen == 0 {
		m.Dir = weatherlog.Write
		m.Buf = t.bufs[t.index][:0]
	} else {
		m.Dir = weatherlog.Read
		m.Buf = t.bufs[t.index][:readLen]
	}
	t.consumed = 0
	return nil
}

// SendByte appends a byte to the open write message.
func (t *Tx) SendByte(b byte) error {
	if t.index == idle {
		return fmt.Errorf("%w: no message open", weatherlog.ErrInvalidState)
	}
	m := &t.msgs[t.index]
	if m.Dir != weatherlog.Write {
		t.Reset()
		return fmt.Errorf("%w: byte sent to a read message", weatherlog.ErrInvalidState)
	}
	if len(m.Buf) >= MaxMessageSize {
		t.Reset()
		return fmt.Errorf("%w: message longer than %d bytes", weatherlog.ErrCapacityExceeded, MaxMessageSize)
	}
	m.Buf = append(m.Buf, b)
	return nil
}

// GetByte returns the next byte of the open read message. The first call commits
// every message accumulated since the last reset. Consuming the last byte ends the
// transaction.
func (t *Tx) GetByte(ctx context.Context) (byte, error) {
	if t.index == idle {
		return 0, fmt.Errorf("%w: no message open", weatherlog.ErrInvalidState)
	}
	m := &t.msgs[t.index]
	if m.Dir != weatherlog.Read {
		t.Reset()
		return 0, fmt.Errorf("%w: byte requested from a write message", weatherlog.ErrInvalidState)
	}
	if t.consumed == 0 {
		if err := t.commit(ctx); err != nil {
			return 0, err
		}
	}
	b := m.Buf[t.consumed]
	t.consumed++
	if t.consumed >= len(m.Buf) {
		t.Reset()
	}
	return b, nil
}

// Stop commits a transaction that has no read in progress and ends it.
func (t *Tx) Stop(ctx context.Context) error {
	if t.index == idle {
		return nil
	}
	m := &t.msgs[t.index]
	readPending := m.Dir == weatherlog.Read && t.consumed > 0
	if !readPending {
		if err := t.commit(ctx); err != nil {
			return err
		}
	}
	t.Reset()
	return nil
}

func (t *Tx) commit(ctx context.Context) error {
	msgs := t.msgs[:t.index+1]
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		for _, m := range msgs {
			if m.Dir == weatherlog.Write {
				slog.Debug("i2c message", "addr", fmt.Sprintf("%#02x", m.Addr), "dir", m.Dir, "data", hex.EncodeToString(m.Buf))
			} else {
				slog.Debug("i2c message", "addr", fmt.Sprintf("%#02x", m.Addr), "dir", m.Dir, "len", len(m.Buf))
			}
		}
	}
	n, err := t.handle.Transfer(ctx, msgs)
	if err == nil && n == len(msgs) {
		if verbose && msgs[len(msgs)-1].Dir == weatherlog.Read {
			slog.Debug("i2c reply", "data", hex.EncodeToString(msgs[len(msgs)-1].Buf))
		}
		return nil
	}
	t.Reset()
	switch {
	case errors.Is(err, weatherlog.ErrBusUnavailable):
		return err
	case n < len(msgs) && err != nil:
		return fmt.Errorf("%w: %d of %d messages: %w", weatherlog.ErrIncompleteTransaction, n, len(msgs), err)
	case n < len(msgs):
		return fmt.Errorf("%w: %d of %d messages", weatherlog.ErrIncompleteTransaction, n, len(msgs))
	default:
		return fmt.Errorf("i2c transfer failed: %w", err)
	}
}
