package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/libship/internal/model"
)

// TestWaitImmediateSuccess verifies a ready database returns without
// consuming the timeout.
func TestWaitImmediateSuccess(t *testing.T) {
	pinger := PingerFunc(func(ctx context.Context) error { return nil })
	w := NewWaiter(pinger, time.Second, 10*time.Millisecond, zerolog.Nop())

	start := time.Now()
	err := w.Wait(context.Background())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// TestWaitEventualSuccess verifies the waiter keeps polling through
// transient failures until the database answers.
func TestWaitEventualSuccess(t *testing.T) {
	attempts := 0
	pinger := PingerFunc(func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	w := NewWaiter(pinger, 5*time.Second, 5*time.Millisecond, zerolog.Nop())

	require.NoError(t, w.Wait(context.Background()))
	assert.Equal(t, 3, attempts)
}

// TestWaitTimeout verifies a never-ready database produces a
// database-not-ready error carrying the last probe failure.
func TestWaitTimeout(t *testing.T) {
	probeErr := errors.New("connection refused")
	pinger := PingerFunc(func(ctx context.Context) error { return probeErr })
	w := NewWaiter(pinger, 30*time.Millisecond, 5*time.Millisecond, zerolog.Nop())

	err := w.Wait(context.Background())
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitDatabaseNotReady, cliErr.Code)
	assert.True(t, errors.Is(err, probeErr))
}

// TestWaitCancellation verifies caller cancellation is reported as
// cancellation, not as a readiness timeout.
func TestWaitCancellation(t *testing.T) {
	pinger := PingerFunc(func(ctx context.Context) error { return errors.New("not yet") })
	w := NewWaiter(pinger, time.Minute, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := w.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
