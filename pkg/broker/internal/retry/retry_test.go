package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 0.1, cfg.JitterFraction)

	assert.Equal(t, 3, ClaimConfig().MaxAttempts)
	assert.Equal(t, 1, Disabled().MaxAttempts)
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var attempts int
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	var attempts int
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	expected := errors.New("persistent error")
	var attempts int

	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return expected
	})

	assert.Equal(t, expected, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	var attempts int
	_ = Do(context.Background(), Config{}, func() error {
		attempts++
		return errors.New("fail")
	})
	assert.Equal(t, 1, attempts)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	cfg := Config{MaxAttempts: 10, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		attempts.Add(1)
		return errors.New("keep failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, attempts.Load(), int32(1))
}

func TestDo_StopsOnContextError(t *testing.T) {
	var attempts int
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return fmt.Errorf("query: %w", context.DeadlineExceeded)
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	base := errors.New("row gone")
	var attempts int
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return Permanent(base)
	})

	assert.ErrorIs(t, err, base)
	assert.Equal(t, 1, attempts)
}

func TestDo_BackoffGrows(t *testing.T) {
	cfg := Config{MaxAttempts: 4, InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2.0}

	var stamps []time.Time
	err := Do(context.Background(), cfg, func() error {
		stamps = append(stamps, time.Now())
		return errors.New("fail")
	})

	assert.Error(t, err)
	require.Len(t, stamps, 4)
	assert.Greater(t, stamps[2].Sub(stamps[1]), stamps[1].Sub(stamps[0]))
	assert.Greater(t, stamps[3].Sub(stamps[2]), stamps[2].Sub(stamps[1]))
}

func TestDo_RespectsMaxBackoff(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: 60 * time.Millisecond, Multiplier: 10.0}

	var stamps []time.Time
	_ = Do(context.Background(), cfg, func() error {
		stamps = append(stamps, time.Now())
		return errors.New("fail")
	})

	require.Len(t, stamps, 5)
	for i := 2; i < len(stamps); i++ {
		assert.LessOrEqual(t, stamps[i].Sub(stamps[i-1]), 100*time.Millisecond)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context.Canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("db: %w", context.DeadlineExceeded), false},
		{"permanent", Permanent(errors.New("bad")), false},
		{"generic error", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Retryable(tt.err))
		})
	}
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
