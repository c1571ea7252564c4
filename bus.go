package weatherlog

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrBusUnavailable is returned when the bus device could not be opened or reached.
	ErrBusUnavailable = errors.New("i2c bus unavailable")
	// ErrIncompleteTransaction is returned when the transport completed fewer messages
	// than requested, typically because an address was not acknowledged.
	ErrIncompleteTransaction = errors.New("incomplete i2c transaction")
	// ErrProtocolMismatch is returned when a fixed identification register holds an
	// unexpected value (wrong or absent chip).
	ErrProtocolMismatch = errors.New("unexpected device signature")
	ErrUnsupportedFirmware = errors.New("unsupported firmware revision")
	// ErrCapacityExceeded signals message count or buffer bounds were exceeded.
	ErrCapacityExceeded = errors.New("transaction capacity exceeded")
	// ErrInvalidState signals a transaction primitive was called out of sequence.
	ErrInvalidState = errors.New("invalid transaction state")
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

type Direction byte

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	if d == Read {
		return "R"
	}
	return "W"
}

// Message is a single addressed phase of a bus transaction. For reads the length
// of Buf is the number of bytes requested and the transport fills it in.
type Message struct {
	Addr uint16
	Dir  Direction
	Buf  []byte
}

// Transport performs a list of messages as one atomic transfer and reports how many
// of them completed. Messages after the first failing one are not attempted.
type Transport interface {
	Transfer(ctx context.Context, msgs []Message) (int, error)
}

type TransportCloser interface {
	Transport
	io.Closer
}
