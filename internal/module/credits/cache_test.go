package credits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceCache_NilClientDisablesCaching(t *testing.T) {
	cache := NewBalanceCache(nil, time.Minute)
	userID := uuid.New()

	_, err := cache.Get(context.Background(), userID)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, cache.Set(context.Background(), userID, &AccessStatus{RemainingCredits: 10}))
	assert.NoError(t, cache.Invalidate(context.Background(), userID))
}

func TestBalanceCache_BackendErrorsSurface(t *testing.T) {
	// Port 1 is never listening, so every command fails at dial time. The
	// cache must report those failures instead of swallowing them; callers
	// decide to degrade to the database.
	client := redis.NewClient(&redis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     100 * time.Millisecond,
		MaxRetries:      -1,
		MinRetryBackoff: -1,
		MaxRetryBackoff: -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewBalanceCache(client, time.Minute)
	userID := uuid.New()

	_, err := cache.Get(context.Background(), userID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss, "a backend failure is not a miss")

	assert.Error(t, cache.Set(context.Background(), userID, &AccessStatus{RemainingCredits: 10}))
	assert.Error(t, cache.Invalidate(context.Background(), userID))
}
