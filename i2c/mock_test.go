package i2c

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/weatherlog"
)

// MockTransport is a testify mock of weatherlog.TransportCloser. Read buffers can be
// filled with a Run function.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Transfer(ctx context.Context, msgs []weatherlog.Message) (int, error) {
	args := m.Called(ctx, msgs)
	if fn, ok := args.Get(0).(func(context.Context, []weatherlog.Message) int); ok {
		return fn(ctx, msgs), args.Error(1)
	}
	return args.Int(0), args.Error(1)
}

func (m *MockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

// shape describes a message for matching: address, direction and write payload
// (or read length for reads).
type shape struct {
	addr uint16
	dir  weatherlog.Direction
	data []byte
	n    int
}

func w(addr uint16, data ...byte) shape {
	return shape{addr: addr, dir: weatherlog.Write, data: data}
}

func r(addr uint16, n int) shape {
	return shape{addr: addr, dir: weatherlog.Read, n: n}
}

func matches(expected ...shape) interface{} {
	return mock.MatchedBy(func(msgs []weatherlog.Message) bool {
		if len(msgs) != len(expected) {
			return false
		}
		for i, e := range expected {
			m := msgs[i]
			if m.Addr != e.addr || m.Dir != e.dir {
				return false
			}
			if e.dir == weatherlog.Read && len(m.Buf) != e.n {
				return false
			}
			if e.dir == weatherlog.Write && string(m.Buf) != string(e.data) {
				return false
			}
		}
		return true
	})
}

// fill copies reply into the last message of the transfer.
func fill(reply ...byte) func(mock.Arguments) {
	return func(args mock.Arguments) {
		msgs := args.Get(1).([]weatherlog.Message)
		copy(msgs[len(msgs)-1].Buf, reply)
	}
}

func newTestTx(t *testing.T, tr *MockTransport) *Tx {
	t.Helper()
	h := NewHandle(func(int) (weatherlog.TransportCloser, error) {
		return tr, nil
	})
	require.NoError(t, h.Select(context.Background(), 1))
	return NewTx(h)
}
