package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder replaces Sleep and records every requested delay.
type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestDelays_Schedule(t *testing.T) {
	got := Delays(time.Second, 5)
	want := []time.Duration{
		time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
	}
	assert.Equal(t, want, got)
}

func TestDelays_CappedAtMax(t *testing.T) {
	got := Delays(time.Second, 30)
	for k, d := range got {
		assert.LessOrEqual(t, d, MaxDelay, "delay %d", k)
	}
	assert.Equal(t, MaxDelay, got[len(got)-1])
	// 1.5^11 exceeds 60, so the twelfth sleep is the first at the ceiling.
	assert.Less(t, got[10], MaxDelay)
	assert.Equal(t, MaxDelay, got[11])
}

func TestNextDelay_NeverExceedsMax(t *testing.T) {
	assert.Equal(t, MaxDelay, NextDelay(50*time.Second))
	assert.Equal(t, MaxDelay, NextDelay(MaxDelay))
	assert.Equal(t, 3*time.Second, NextDelay(2*time.Second))
}

func TestConnectWithRetry_ImmediateSuccess(t *testing.T) {
	rec := &recorder{}
	calls := 0

	ok, err := ConnectWithRetry(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, Options{Name: "test", sleep: rec.sleep})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestConnectWithRetry_BoundedAttempts(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max_retries=%d", n), func(t *testing.T) {
			rec := &recorder{}
			calls := 0

			ok, err := ConnectWithRetry(context.Background(), func(context.Context) error {
				calls++
				return syscall.ECONNREFUSED
			}, Options{Name: "test", MaxRetries: Retries(n), sleep: rec.sleep})

			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, n+1, calls)
			assert.Len(t, rec.delays, n)
		})
	}
}

func TestConnectWithRetry_UnboundedEventuallySucceeds(t *testing.T) {
	rec := &recorder{}
	calls := 0

	ok, err := ConnectWithRetry(context.Background(), func(context.Context) error {
		calls++
		if calls < 20 {
			return io.EOF
		}
		return nil
	}, Options{Name: "test", sleep: rec.sleep})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20, calls)
	assert.Equal(t, Delays(time.Second, 19), rec.delays)
}

func TestConnectWithRetry_NonTransientPropagates(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("invalid credentials")
	calls := 0

	ok, err := ConnectWithRetry(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, Options{Name: "test", sleep: rec.sleep})

	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestConnectWithRetry_OnFailureCounts(t *testing.T) {
	rec := &recorder{}
	var seen []int

	_, _ = ConnectWithRetry(context.Background(), func(context.Context) error {
		return ErrTransient
	}, Options{
		MaxRetries: Retries(2),
		sleep:      rec.sleep,
		OnFailure:  func(attempt int, _ error) { seen = append(seen, attempt) },
	})

	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestConnectWithRetry_CancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	done := make(chan struct{})
	var ok bool
	var err error
	go func() {
		defer close(done)
		ok, err = ConnectWithRetry(ctx, func(context.Context) error {
			calls++
			return syscall.ECONNRESET
		}, Options{Name: "test", InitialDelay: time.Hour})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectWithRetry did not return after cancellation")
	}

	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestConnectWithRetry_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	ok, err := ConnectWithRetry(ctx, func(context.Context) error {
		called = true
		return nil
	}, Options{})

	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSleep_ReturnsAfterDuration(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("bad request"), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"eof", io.EOF, true},
		{"refused", syscall.ECONNREFUSED, true},
		{"reset wrapped", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"broken pipe", syscall.EPIPE, true},
		{"net closed", net.ErrClosed, true},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route")}, true},
		{"marked transient", fmt.Errorf("brickd: not connected: %w", ErrTransient), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestBackoff_Fail(t *testing.T) {
	b := NewBackoff(0)
	assert.Equal(t, DefaultInitialDelay, b.Delay())

	assert.Equal(t, time.Second, b.Fail())
	assert.Equal(t, 1, b.Attempt())
	assert.Equal(t, 1500*time.Millisecond, b.Delay())
}
