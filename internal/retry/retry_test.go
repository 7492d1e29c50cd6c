package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	b := Backoff{Attempts: 3, Base: time.Millisecond, Cap: 4 * time.Millisecond}
	calls := 0
	err := b.Do(context.Background(), nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	b := Backoff{Attempts: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond}
	calls := 0
	wantErr := errors.New("final failure")
	err := b.Do(context.Background(), nil, func() error {
		calls++
		return wantErr
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, wantErr)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	b := Backoff{Attempts: 5, Base: 50 * time.Millisecond, Cap: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := b.Do(ctx, nil, func() error {
		calls++
		return errors.New("always fails")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, 5)
}
