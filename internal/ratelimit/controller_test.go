package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"exgateway/config"
	"exgateway/pkg/binance"
	kv "exgateway/pkg/storage/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestController(t *testing.T) (*Controller, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	cfg := config.RateLimitConfig{
		KeyPrefix:   "ratelimit",
		RetryBudget: 5,
		BanCooldown: time.Hour,
		CounterTTL:  time.Minute,
	}
	ctrl := NewController(store, cfg, zap.NewNop())
	ctrl.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return ctrl, store
}

func TestAdmitProceedsWhenClean(t *testing.T) {
	ctrl, _ := newTestController(t)
	require.NoError(t, ctrl.Admit(context.Background()))
}

func TestThrottleDelaysFollowBackoffSequence(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	var lastDeadline time.Time
	for i, want := range expected {
		err := ctrl.RecordFailure(ctx, &binance.StatusError{Status: http.StatusTooManyRequests})

		var rl *binance.RateLimitError
		require.ErrorAs(t, err, &rl, "failure %d", i+1)
		assert.False(t, rl.Exhausted)
		assert.Equal(t, want, rl.RetryAfter, "failure %d", i+1)

		deadline := ctrl.now().Add(rl.RetryAfter)
		assert.False(t, deadline.Before(lastDeadline), "deadline regressed at failure %d", i+1)
		lastDeadline = deadline
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	ctrl, store := newTestController(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := ctrl.RecordFailure(ctx, &binance.StatusError{Status: http.StatusTooManyRequests})
		var rl *binance.RateLimitError
		require.ErrorAs(t, err, &rl)
		require.False(t, rl.Exhausted)
	}

	// Sixth consecutive throttle spends the budget.
	err := ctrl.RecordFailure(ctx, &binance.StatusError{Status: http.StatusTooManyRequests})
	var rl *binance.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.True(t, rl.Exhausted)
	assert.False(t, binance.IsRetryable(err))

	// Counter is reset, but a final backoff window keeps Admit refusing
	// without any network call until it elapses.
	_, getErr := store.Get(ctx, ctrl.counterKey())
	assert.ErrorIs(t, getErr, kv.ErrNotFound)

	admitErr := ctrl.Admit(ctx)
	require.ErrorAs(t, admitErr, &rl)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
}

func TestServerRetryAfterHintWins(t *testing.T) {
	ctrl, _ := newTestController(t)

	err := ctrl.RecordFailure(context.Background(), &binance.StatusError{
		Status:     http.StatusTooManyRequests,
		RetryAfter: 30 * time.Second,
	})

	var rl *binance.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
}

func TestBanOn418(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	err := ctrl.RecordFailure(ctx, &binance.StatusError{Status: http.StatusTeapot, Message: "banned"})

	var ban *binance.BanError
	require.ErrorAs(t, err, &ban)
	assert.Equal(t, ctrl.now().Add(time.Hour), ban.Until)
	assert.Equal(t, binance.KindBanned, binance.Classify(err))

	// Every subsequent Admit refuses for the cool-down, 429s or not.
	admitErr := ctrl.Admit(ctx)
	require.ErrorAs(t, admitErr, &ban)
}

func TestSuccessClearsCounterButNotBan(t *testing.T) {
	ctrl, store := newTestController(t)
	ctx := context.Background()

	require.Error(t, ctrl.RecordFailure(ctx, &binance.StatusError{Status: http.StatusTooManyRequests}))
	ctrl.RecordSuccess(ctx)

	_, err := store.Get(ctx, ctrl.counterKey())
	assert.ErrorIs(t, err, kv.ErrNotFound)

	// Bans require manual intervention; a 2xx must not clear them.
	require.Error(t, ctrl.RecordFailure(ctx, &binance.StatusError{Status: http.StatusTeapot}))
	ctrl.RecordSuccess(ctx)

	var ban *binance.BanError
	require.ErrorAs(t, ctrl.Admit(ctx), &ban)
}

func TestStaleBackoffIsCleared(t *testing.T) {
	ctrl, store := newTestController(t)
	ctx := context.Background()

	past := ctrl.now().Add(-time.Minute)
	require.NoError(t, store.Set(ctx, ctrl.backoffKey(), formatUnixMilli(past), 0))

	require.NoError(t, ctrl.Admit(ctx))

	_, err := store.Get(ctx, ctrl.backoffKey())
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestOtherStatusesLeaveSharedStateAlone(t *testing.T) {
	ctrl, store := newTestController(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		status    int
		wantKind  binance.Kind
		retryable bool
	}{
		{name: "client error is permanent", status: http.StatusBadRequest, wantKind: binance.KindUpstreamRejected, retryable: false},
		{name: "server error is retryable", status: http.StatusServiceUnavailable, wantKind: binance.KindUpstreamUnavailable, retryable: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ctrl.RecordFailure(ctx, &binance.StatusError{Status: tc.status, Message: "nope"})
			assert.Equal(t, tc.wantKind, binance.Classify(err))
			assert.Equal(t, tc.retryable, binance.IsRetryable(err))

			for _, key := range []string{ctrl.banKey(), ctrl.backoffKey(), ctrl.counterKey()} {
				_, getErr := store.Get(ctx, key)
				assert.True(t, errors.Is(getErr, kv.ErrNotFound), "key %s was written", key)
			}
		})
	}
}
