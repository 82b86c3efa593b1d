package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"llm-finetune/internal/config"
	"llm-finetune/internal/domain"
)

type sleepRecorder struct {
	waits []time.Duration
	err   error
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return s.err
}

func isNotReady(err error) bool { return errors.Is(err, domain.ErrFileNotReady) }

func TestRetryPolicy_ConstantUnbounded(t *testing.T) {
	rec := &sleepRecorder{}
	p := DefaultRetryPolicy()
	p.Sleep = rec.Sleep

	calls := 0
	err := p.Do(context.Background(), isNotReady, func(context.Context) error {
		calls++
		if calls < 5 {
			return domain.ErrFileNotReady
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, calls)
	require.Len(t, rec.waits, 4)
	for _, w := range rec.waits {
		require.Equal(t, 60*time.Second, w)
	}
}

func TestRetryPolicy_NonRetryablePropagates(t *testing.T) {
	rec := &sleepRecorder{}
	p := DefaultRetryPolicy()
	p.Sleep = rec.Sleep

	boom := errors.New("quota exceeded")
	err := p.Do(context.Background(), isNotReady, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Empty(t, rec.waits)
}

func TestRetryPolicy_BoundedExhausts(t *testing.T) {
	rec := &sleepRecorder{}
	var hooks []uint64
	p := RetryPolicy{
		MaxAttempts: 3,
		Interval:    time.Second,
		Backoff:     "exponential",
		MaxInterval: 3 * time.Second,
		Sleep:       rec.Sleep,
		OnRetry:     func(a uint64, _ time.Duration, _ error) { hooks = append(hooks, a) },
	}
	calls := 0
	err := p.Do(context.Background(), isNotReady, func(context.Context) error {
		calls++
		return domain.ErrFileNotReady
	})
	require.ErrorIs(t, err, domain.ErrRetriesExhausted)
	require.ErrorIs(t, err, domain.ErrFileNotReady)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)
	require.Equal(t, []uint64{1, 2}, hooks)
}

func TestRetryPolicy_SleepCancelled(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Sleep = (&sleepRecorder{err: context.Canceled}).Sleep

	err := p.Do(context.Background(), isNotReady, func(context.Context) error { return domain.ErrFileNotReady })
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_RealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

func TestRetryPolicy_UnknownBackoff(t *testing.T) {
	p := RetryPolicy{Backoff: "fibonacci"}
	err := p.Do(context.Background(), isNotReady, func(context.Context) error { return nil })
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.RetryConfig{MaxAttempts: 4, Backoff: "Exponential"})
	require.Equal(t, uint64(4), p.MaxAttempts)
	require.Equal(t, "exponential", p.Backoff)
	require.Equal(t, config.DefaultRetryInterval, p.Interval)
}
