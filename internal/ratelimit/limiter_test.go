package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serroba/resume-tracker/internal/ratelimit"
	"github.com/serroba/resume-tracker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Record(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, errors.New("store down")
}

func TestLimiter_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under every limit", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), ratelimit.Policy{
			ratelimit.ScopeGlobal: {ratelimit.PerMinute(3)},
		})

		for range 3 {
			denial, err := limiter.Check(ctx, "client", []ratelimit.Scope{ratelimit.ScopeGlobal})

			require.NoError(t, err)
			assert.Nil(t, denial)
		}
	})

	t.Run("reports the limit that was exceeded", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), ratelimit.Policy{
			ratelimit.ScopeGlobal: {ratelimit.PerMinute(100)},
			ratelimit.ScopeAdmin:  {ratelimit.PerMinute(1)},
		})
		scopes := []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeAdmin}

		denial, err := limiter.Check(ctx, "client", scopes)
		require.NoError(t, err)
		require.Nil(t, denial)

		denial, err = limiter.Check(ctx, "client", scopes)

		require.NoError(t, err)
		require.NotNil(t, denial)
		assert.Equal(t, "admin", denial.Bucket)
		assert.Equal(t, int64(2), denial.Count)
		assert.Equal(t, ratelimit.PerMinute(1), denial.Limit)
		assert.Equal(t, time.Minute, denial.RetryAfter())
		assert.Equal(t, "admin, 2/1 requests in 1m0s", denial.String())
	})

	t.Run("scopes without limits are ignored", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), ratelimit.Policy{})

		denial, err := limiter.Check(ctx, "client", []ratelimit.Scope{ratelimit.ScopeWrite})

		require.NoError(t, err)
		assert.Nil(t, denial)
	})

	t.Run("clients are tracked independently", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), ratelimit.Policy{
			ratelimit.ScopeWrite: {ratelimit.PerMinute(1)},
		})
		scopes := []ratelimit.Scope{ratelimit.ScopeWrite}

		_, _ = limiter.Check(ctx, "a", scopes)

		denial, err := limiter.Check(ctx, "b", scopes)

		require.NoError(t, err)
		assert.Nil(t, denial)
	})

	t.Run("store errors are returned", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(failingStore{}, ratelimit.Policy{
			ratelimit.ScopeGlobal: {ratelimit.PerMinute(1)},
		})

		denial, err := limiter.Check(ctx, "client", []ratelimit.Scope{ratelimit.ScopeGlobal})

		require.Error(t, err)
		assert.Nil(t, denial)
	})
}

func TestLimiter_CheckRoute(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), ratelimit.Policy{
		ratelimit.ScopeWrite: {ratelimit.PerMinute(1)},
	})
	limits := []ratelimit.Limit{ratelimit.PerMinute(2), ratelimit.PerHour(100)}

	for range 2 {
		denial, err := limiter.CheckRoute(ctx, "client", "/links", limits)
		require.NoError(t, err)
		require.Nil(t, denial)
	}

	denial, err := limiter.CheckRoute(ctx, "client", "/links", limits)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, "route:/links", denial.Bucket)

	denial, err = limiter.CheckRoute(ctx, "client", "/r/{id}", limits)
	require.NoError(t, err)
	assert.Nil(t, denial, "each route keeps its own counters")

	denial, err = limiter.Check(ctx, "client", []ratelimit.Scope{ratelimit.ScopeWrite})
	require.NoError(t, err)
	assert.Nil(t, denial, "route hits do not spend the scope budget")
}

func TestDefaultPolicy(t *testing.T) {
	policy := ratelimit.DefaultPolicy()

	for _, scope := range []ratelimit.Scope{
		ratelimit.ScopeGlobal, ratelimit.ScopeRead, ratelimit.ScopeWrite, ratelimit.ScopeAdmin,
	} {
		assert.NotEmpty(t, policy[scope], "scope %s has no limits", scope)
	}

	assert.Less(t, policy[ratelimit.ScopeAdmin][0].Max, policy[ratelimit.ScopeWrite][0].Max)
	assert.Less(t, policy[ratelimit.ScopeWrite][0].Max, policy[ratelimit.ScopeRead][0].Max)
}

func TestPolicy_MaxWindow(t *testing.T) {
	assert.Equal(t, time.Hour, ratelimit.DefaultPolicy().MaxWindow())
	assert.Zero(t, ratelimit.Policy{}.MaxWindow())
}
