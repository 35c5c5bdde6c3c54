package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 5, cfg.MaxSameErrorType)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	expectedErr := errors.New("persistent error")
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
	// initial attempt + 2 retries
	assert.Equal(t, 3, callCount)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	callCount := 0
	start := time.Now()
	err := Do(ctx, cfg, func() error {
		callCount++
		return errors.New("error")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, callCount)
	assert.Less(t, time.Since(start), 90*time.Millisecond)
}

func TestBackoff_MaxDelayRespected(t *testing.T) {
	cfg := &Config{InitialDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, Multiplier: 10}
	b := newBackoff(cfg)

	require.NoError(t, b.wait(context.Background()))
	assert.Equal(t, 3*time.Millisecond, b.delay)
	require.NoError(t, b.wait(context.Background()))
	assert.Equal(t, 3*time.Millisecond, b.delay)
}

func TestApplyJitter_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := applyJitter(100*time.Millisecond, 0.1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
	assert.Equal(t, 100*time.Millisecond, applyJitter(100*time.Millisecond, 0))
}

type explicitErr struct{ retryable bool }

func (e explicitErr) Error() string     { return "explicit" }
func (e explicitErr) IsRetryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"deadlock", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key value"}, false},
		{"context canceled", fmt.Errorf("publish: %w", context.Canceled), false},
		{"explicit retryable wrapped", fmt.Errorf("wrap: %w", explicitErr{retryable: true}), true},
		{"explicit permanent", explicitErr{retryable: false}, false},
		{"redis loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"validation", errors.New("invalid org id"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassifyErrorType(t *testing.T) {
	assert.Equal(t, "pg_40P01", classifyErrorType(&pgconn.PgError{Code: "40P01"}))
	assert.Equal(t, "connection", classifyErrorType(errors.New("connection reset by peer")))
	assert.Equal(t, "timeout", classifyErrorType(errors.New("i/o timeout")))
	assert.Equal(t, "unknown", classifyErrorType(errors.New("boom")))
}

func TestDoIfRetryable_NonRetryableError(t *testing.T) {
	expectedErr := errors.New("invalid input")
	callCount := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		callCount++
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 1, callCount)
}

func TestDoIfRetryable_RetryableThenSuccess(t *testing.T) {
	callCount := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount == 1 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, callCount)
}

func TestDoIfRetryable_EscalatesRepeatedErrorType(t *testing.T) {
	cfg := fastConfig(10)
	cfg.MaxSameErrorType = 2

	callCount := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		callCount++
		return errors.New("i/o timeout")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated error (2 times, type=timeout)")
	assert.Equal(t, 2, callCount)
}

func TestDoIfRetryable_NilConfig(t *testing.T) {
	callCount := 0
	err := DoIfRetryable(context.Background(), nil, func() error {
		callCount++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, callCount)
}
