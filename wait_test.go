package weatherlog

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestWait_ElapsesOnClock(t *testing.T) {
	clk := clock.NewMock()
	done := make(chan error, 1)
	go func() {
		done <- Wait(context.Background(), clk, 50*time.Millisecond)
	}()
	var err error
	assert.Eventually(t, func() bool {
		clk.Add(10 * time.Millisecond)
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.NoError(t, err)
}

func TestWait_Cancelled(t *testing.T) {
	clk := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Wait(ctx, clk, time.Hour)
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after cancel")
	}
}

func TestWait_ZeroDuration(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), clock.NewMock(), 0))
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "W", Write.String())
	assert.Equal(t, "R", Read.String())
}
