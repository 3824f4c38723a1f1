package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerRegisterAndCheck(t *testing.T) {
	checker := NewChecker(time.Second)

	checker.RegisterCheck("ok", func(ctx context.Context) error { return nil })
	result, err := checker.Check(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, result.Status)

	checker.RegisterCheck("bad", func(ctx context.Context) error { return errors.New("boom") })
	result, err = checker.Check(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Message, "boom")
}

func TestCheckerUnknownCheck(t *testing.T) {
	checker := NewChecker(time.Second)
	_, err := checker.Check(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCheckerCachesResults(t *testing.T) {
	checker := NewChecker(time.Second)
	checker.SetCacheTTL(time.Hour)

	var calls int32
	checker.RegisterCheck("counted", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	_, err := checker.Check(context.Background(), "counted")
	require.NoError(t, err)
	_, err = checker.Check(context.Background(), "counted")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCheckerCheckAllAndOverallStatus(t *testing.T) {
	checker := NewChecker(time.Second)
	checker.RegisterCheck("ok", func(ctx context.Context) error { return nil })
	checker.RegisterCheck("bad", func(ctx context.Context) error { return errors.New("down") })

	results := checker.CheckAll(context.Background())
	assert.Len(t, results, 2)
	assert.Equal(t, StatusUnhealthy, checker.OverallStatus(context.Background()))
}

func TestCheckerTimeout(t *testing.T) {
	checker := NewChecker(10 * time.Millisecond)
	checker.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	result, err := checker.Check(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, result.Status)
}

func TestPeerHealthCheck(t *testing.T) {
	check := PeerHealthCheck(func() int { return 1 }, 2)
	assert.Error(t, check(context.Background()))

	check = PeerHealthCheck(func() int { return 3 }, 2)
	assert.NoError(t, check(context.Background()))
}

func TestStoreHealthCheck(t *testing.T) {
	check := StoreHealthCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, check(context.Background()))

	check = StoreHealthCheck(nil)
	assert.Error(t, check(context.Background()))
}
