package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gobot "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/weatherlog"
)

type fakeConnection struct {
	gobot.Connection
	written [][]byte
	reply   []byte
	closed  bool
}

func (c *fakeConnection) Write(b []byte) (int, error) {
	c.written = append(c.written, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConnection) Read(b []byte) (int, error) {
	return copy(b, c.reply), nil
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	conns map[int]*fakeConnection
	calls int
}

func (f *fakeConnector) GetI2cConnection(address int, bus int) (gobot.Connection, error) {
	f.calls++
	c, ok := f.conns[address]
	if !ok {
		return nil, errors.New("no device")
	}
	return c, nil
}

func (f *fakeConnector) DefaultI2cBus() int {
	return 0
}

func TestGobotBus_Transfer(t *testing.T) {
	dev := &fakeConnection{reply: []byte{0x66, 0x4C}}
	connector := &fakeConnector{conns: map[int]*fakeConnection{0x40: dev}}
	tr, err := OpenGobot(connector)(0)
	require.NoError(t, err)
	ctx := context.Background()

	msgs := []weatherlog.Message{
		{Addr: 0x40, Dir: weatherlog.Write, Buf: []byte{0xE5}},
		{Addr: 0x40, Dir: weatherlog.Read, Buf: make([]byte, 2)},
	}
	n, err := tr.Transfer(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]byte{{0xE5}}, dev.written)
	assert.Equal(t, []byte{0x66, 0x4C}, msgs[1].Buf)

	_, err = tr.Transfer(ctx, msgs[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, connector.calls, "connections are reused per address")

	require.NoError(t, tr.Close())
	assert.True(t, dev.closed)
}

func TestGobotBus_ShortRead(t *testing.T) {
	dev := &fakeConnection{reply: []byte{0x66}}
	tr, err := OpenGobot(&fakeConnector{conns: map[int]*fakeConnection{0x40: dev}})(0)
	require.NoError(t, err)
	n, err := tr.Transfer(context.Background(), []weatherlog.Message{
		{Addr: 0x40, Dir: weatherlog.Read, Buf: make([]byte, 3)},
	})
	assert.ErrorContains(t, err, "1 of 3 bytes")
	assert.Zero(t, n)
}

func TestGobotBus_MissingConnection(t *testing.T) {
	tr, err := OpenGobot(&fakeConnector{})(1)
	require.NoError(t, err)
	_, err = tr.Transfer(context.Background(), []weatherlog.Message{
		{Addr: 0x77, Dir: weatherlog.Write, Buf: []byte{0xD0}},
	})
	assert.ErrorIs(t, err, weatherlog.ErrBusUnavailable)
}
