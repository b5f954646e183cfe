package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

var errFlaky = errors.New("rpc node restarted")

func TestCallRetriesWithGrowingDelay(t *testing.T) {
	var delays []time.Duration
	last := time.Now()
	calls := 0

	result, err := Call(context.Background(), logan.New(), "get order id", Backoff{
		Retries:      3,
		InitialDelay: 5 * time.Millisecond,
		Factor:       2,
	}, func(ctx context.Context) (int, error) {
		now := time.Now()
		if calls > 0 {
			delays = append(delays, now.Sub(last))
		}
		last = now
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
	require.Len(t, delays, 2)
	assert.GreaterOrEqual(t, delays[0], 5*time.Millisecond)
	assert.GreaterOrEqual(t, delays[1], 10*time.Millisecond)
}

func TestCallGivesUpAfterRetries(t *testing.T) {
	calls := 0
	failures := 0

	_, err := Call(context.Background(), logan.New(), "get order info", Backoff{
		Retries:   3,
		OnFailure: func(int, error) { failures++ },
	}, func(ctx context.Context) (string, error) {
		calls++
		return "", errFlaky
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, failures)
	assert.Contains(t, err.Error(), "get order info")
	assert.Contains(t, err.Error(), errFlaky.Error())
}

func TestCallStopsOnPermanent(t *testing.T) {
	calls := 0

	_, err := Call(context.Background(), logan.New(), "count", Backoff{Retries: 5}, func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(errFlaky)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))
}

func TestStageWrapsExhaustedError(t *testing.T) {
	calls := 0

	_, err := Stage(context.Background(), logan.New(), "fetching missing orders info", Fixed{Retries: 3}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	stageErr, ok := err.(*StageError)
	require.True(t, ok)
	assert.Equal(t, "fetching missing orders info", stageErr.Stage)
	assert.Equal(t, 3, stageErr.Attempts)
	assert.Equal(t, errFlaky, stageErr.Err)
	assert.Contains(t, err.Error(), "fetching missing orders info")
}

func TestStageRecoversFromTransientFailure(t *testing.T) {
	calls := 0

	result, err := Stage(context.Background(), logan.New(), "fetching order count", Fixed{Retries: 3, Delay: time.Millisecond}, func(ctx context.Context) (uint64, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.EqualValues(t, 7, result)
	assert.Equal(t, 2, calls)
}

func TestStageDoesNotRetryPermanent(t *testing.T) {
	calls := 0

	_, err := Stage(context.Background(), logan.New(), "fetching order count", Fixed{Retries: 3}, func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(errFlaky)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, err.(*StageError).Attempts)
}

func TestStageHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Stage(ctx, logan.New(), "slow", Fixed{Retries: 3, Delay: time.Hour}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errFlaky
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
