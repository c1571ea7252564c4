package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/karalabe/hid"

	"github.com/mklimuk/weatherlog"
	"github.com/mklimuk/weatherlog/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// maximum payload of a single I2C data report
const maxChunk = 60

// DefaultResponseWait is the pause between a command report and reading its response.
const DefaultResponseWait = 50 * time.Millisecond

const (
	cmdStatus            byte = 0x10
	cmdGetData           byte = 0x40
	cmdWrite             byte = 0x90
	cmdRead              byte = 0x91
	cmdReadRepeatedStart byte = 0x93
	cmdWriteNoStop       byte = 0x94

	subCmdCancel byte = 0x10

	statusBusy      byte = 0x01
	statusReadError byte = 0x41
	invalidLength   byte = 127

	// I2C engine state reported in byte 8 of the status response
	stateAddressNack byte = 0x25
)

// ErrNack is returned when the addressed device did not acknowledge a write.
var ErrNack = errors.New("address not acknowledged")

// Device is an open HID device exchanging 64 byte reports.
type Device interface {
	io.ReadWriteCloser
}

// DeviceOpener opens the adapter device. The bus number selects among several
// connected adapters.
type DeviceOpener func(bus int) (Device, error)

// OpenHID enumerates MCP2221 adapters and opens the one at index bus.
func OpenHID(bus int) (Device, error) {
	devs := Devices()
	if len(devs) == 0 {
		return nil, fmt.Errorf("MCP2221 device not found")
	}
	if bus < 0 || bus >= len(devs) {
		return nil, fmt.Errorf("no MCP2221 device with index %d (%d connected)", bus, len(devs))
	}
	dev, err := devs[bus].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

// Devices lists connected MCP2221 adapters.
func Devices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

type MCP2221Opt func(*MCP2221)

func WithDeviceOpener(open DeviceOpener) MCP2221Opt {
	return func(d *MCP2221) {
		d.open = open
	}
}

func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func WithClock(clk clock.Clock) MCP2221Opt {
	return func(d *MCP2221) {
		d.clock = clk
	}
}

// MCP2221 is a Transport over the Microchip MCP2221 USB to I2C bridge. A write
// followed by a read of the same address is sent as write-without-stop and
// repeated-start read, so register reads are one bus transaction.
type MCP2221 struct {
	mx           sync.Mutex
	open         DeviceOpener
	bus          int
	dev          Device
	request      []byte
	response     []byte
	responseWait time.Duration
	clock        clock.Clock
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

func NewMCP2221(bus int, opts ...MCP2221Opt) *MCP2221 {
	d := &MCP2221{
		open:         OpenHID,
		bus:          bus,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: DefaultResponseWait,
		clock:        clock.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Opener adapts NewMCP2221 to the bus handle opener signature.
func Opener(opts ...MCP2221Opt) func(bus int) (weatherlog.TransportCloser, error) {
	return func(bus int) (weatherlog.TransportCloser, error) {
		d := NewMCP2221(bus, opts...)
		d.mx.Lock()
		defer d.mx.Unlock()
		if _, err := d.device(); err != nil {
			return nil, err
		}
		return d, nil
	}
}

func (d *MCP2221) Transfer(ctx context.Context, msgs []weatherlog.Message) (int, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	done := 0
	for done < len(msgs) {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		m := msgs[done]
		if m.Dir == weatherlog.Read {
			if err := d.read(ctx, cmdRead, m.Addr, m.Buf); err != nil {
				return done, err
			}
			done++
			continue
		}
		combined := done+1 < len(msgs) && msgs[done+1].Dir == weatherlog.Read && msgs[done+1].Addr == m.Addr
		if !combined {
			if err := d.write(ctx, cmdWrite, m.Addr, m.Buf); err != nil {
				return done, err
			}
			if err := d.checkAck(ctx, m.Addr); err != nil {
				return done, err
			}
			done++
			continue
		}
		if err := d.write(ctx, cmdWriteNoStop, m.Addr, m.Buf); err != nil {
			return done, err
		}
		done++
		if err := d.read(ctx, cmdReadRepeatedStart, m.Addr, msgs[done].Buf); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (d *MCP2221) write(ctx context.Context, cmd byte, addr uint16, data []byte) error {
	if len(data) > maxChunk {
		return fmt.Errorf("%w: write of %d bytes", weatherlog.ErrCapacityExceeded, len(data))
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(data)))
	d.request[3] = byte(addr << 1)
	copy(d.request[4:], data)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("write to %#02x failed: %w", addr, err)
	}
	if d.response[1] == statusBusy {
		slog.Debug("adapter busy", "addr", addr)
		return weatherlog.ErrBusBusy
	}
	return nil
}

// checkAck reads the engine state after a write. The write command itself is
// accepted even when the address is not acknowledged.
func (d *MCP2221) checkAck(ctx context.Context, addr uint16) error {
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("status request after write to %#02x failed: %w", addr, err)
	}
	if d.response[8] != stateAddressNack {
		return nil
	}
	// the engine stays in the failed state until the transfer is cancelled
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = subCmdCancel
	if err := d.send(ctx); err != nil {
		slog.Warn("could not cancel transfer", "addr", addr, "error", err)
	}
	return fmt.Errorf("write to %#02x failed: %w", addr, ErrNack)
}

func (d *MCP2221) read(ctx context.Context, cmd byte, addr uint16, buf []byte) error {
	if len(buf) > maxChunk {
		return fmt.Errorf("%w: read of %d bytes", weatherlog.ErrCapacityExceeded, len(buf))
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buf)))
	d.request[3] = byte(addr<<1) | 1
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("bus read from %#02x failed: %w", addr, err)
	}
	if d.response[1] == statusBusy {
		slog.Debug("adapter busy", "addr", addr)
		return weatherlog.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == statusReadError {
		return fmt.Errorf("error reading data of %#02x from the I2C engine", addr)
	}
	if d.response[3] == invalidLength || int(d.response[3]) != len(buf) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buf), d.response[3])
	}
	copy(buf, d.response[4:])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// ReleaseBus cancels the current transfer, freeing a bus left hanging by an
// interrupted transaction.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = subCmdCancel
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
		25: I2C read pending
	*/
	return &MCP2221Status{
		I2CDataBufferCounter:   int(buffer[13]),
		I2CSpeedDivider:        int(buffer[14]),
		I2CTimeout:             int(buffer[15]),
		ReadPending:            int(buffer[25]),
		CurrentAddress:         hex.EncodeToString(buffer[16:18]),
		LastWriteRequestedSize: binary.LittleEndian.Uint16(buffer[9:11]),
		LastWriteSentSize:      binary.LittleEndian.Uint16(buffer[11:13]),
	}
}

func (d *MCP2221) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.dev == nil {
		return nil
	}
	err := d.dev.Close()
	d.dev = nil
	return err
}

func (d *MCP2221) device() (Device, error) {
	if d.dev != nil {
		return d.dev, nil
	}
	dev, err := d.open(d.bus)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", weatherlog.ErrBusUnavailable, err)
	}
	d.dev = dev
	return dev, nil
}

// send writes the request report and reads the response into d.response. The
// device is dropped on I/O errors so the next command reopens it.
func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.device()
	if err != nil {
		return err
	}
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "report", hex.EncodeToString(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		d.drop()
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if err := weatherlog.Wait(ctx, d.clock, d.responseWait); err != nil {
		return err
	}
	n, err = dev.Read(d.response)
	if err != nil {
		d.drop()
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "report", hex.EncodeToString(d.response))
	}
	return nil
}

func (d *MCP2221) drop() {
	if err := d.dev.Close(); err != nil {
		slog.Warn("could not close adapter", "error", err)
	}
	d.dev = nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
