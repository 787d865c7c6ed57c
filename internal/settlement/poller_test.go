package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fast(attempts int) Poller {
	return Poller{Interval: time.Millisecond, MaxAttempts: attempts}
}

func TestUntilSucceeds(t *testing.T) {
	calls := 0
	err := fast(10).Until(context.Background(), func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestUntilRetriesTransientErrors(t *testing.T) {
	calls, retries := 0, 0
	p := fast(10)
	p.OnRetry = func(int, error) { retries++ }
	err := p.Until(context.Background(), func(context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("flaky")
		}
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, retries)
}

func TestUntilStopsOnPermanentError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fast(10).Until(context.Background(), func(context.Context) (bool, error) {
		calls++
		return false, Permanent(boom)
	})
	require.ErrorIs(t, err, boom)
	require.False(t, IsPermanent(err))
	require.Equal(t, 1, calls)
}

func TestUntilTimesOut(t *testing.T) {
	calls := 0
	err := fast(4).Until(context.Background(), func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 4, calls)

	err = fast(2).Until(context.Background(), func(context.Context) (bool, error) {
		return false, errors.New("unreachable relayer")
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorContains(t, err, "unreachable relayer")
}

func TestUntilHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Poller{Interval: time.Hour, MaxAttempts: 3}.Until(ctx, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPermanentNil(t *testing.T) {
	require.NoError(t, Permanent(nil))
	require.Equal(t, DefaultMaxAttempts, Default().MaxAttempts)
}
