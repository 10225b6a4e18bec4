package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postcast/internal/clock"
)

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("a", func(context.Context) error { return errors.New("boom") })
	s.Go("b", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, "a: boom", err.Error())
}

func TestGoRecoversPanics(t *testing.T) {
	s := New(context.Background())
	s.Go("p", func(context.Context) error { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, s.Wait(ctx))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].Panics)
	assert.Equal(t, 0, snap[0].Active)
}

func TestGoRestartBacksOff(t *testing.T) {
	clk := clock.NewFake(time.Time{})
	s := New(context.Background(), WithClock(clk))
	var runs atomic.Int32
	s.GoRestart("loop", RestartPolicy{MinBackoff: time.Second, MaxBackoff: 4 * time.Second}, func(context.Context) error {
		if runs.Add(1) < 5 {
			return errors.New("flaky")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, int32(5), runs.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, clk.Sleeps())
	assert.Equal(t, 4, s.Snapshot()[0].Restarts)
}

func TestGoRestartGivesUp(t *testing.T) {
	clk := clock.NewFake(time.Time{})
	s := New(context.Background(), WithClock(clk))
	s.GoRestart("loop", RestartPolicy{MaxRestarts: 2}, func(context.Context) error { return errors.New("down") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Len(t, clk.Sleeps(), 2)
}

func TestStopCancelsLoops(t *testing.T) {
	s := New(context.Background())
	s.GoRestart("wait", RestartPolicy{}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
