package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localpros/localpros-backend/pkg/config"
	"github.com/localpros/localpros-backend/pkg/redis"
)

func newGuard(t *testing.T) (*IdempotencyGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	guard, err := NewIdempotencyGuard(client, time.Hour, GuardScope)
	require.NoError(t, err)
	return guard, mr
}

func TestNewIdempotencyGuardValidates(t *testing.T) {
	_, err := NewIdempotencyGuard(nil, time.Hour, GuardScope)
	require.Error(t, err)
}

func TestGuardDetectsRedelivery(t *testing.T) {
	ctx := context.Background()
	guard, mr := newGuard(t)

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "stripe-webhook")
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))
}

func TestGuardReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	guard, _ := newGuard(t)

	_, err := guard.CheckAndMark(ctx, "evt_2")
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx, "evt_2"))

	seen, err := guard.CheckAndMark(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = guard.CheckAndMark(ctx, "")
	require.Error(t, err)
}
