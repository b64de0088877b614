package storage

import (
	"context"
	"testing"
	"time"

	"coverletter-agent/internal/config"
	"coverletter-agent/internal/constants"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedisAdapter(&config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestNewRedisAdapterValidation(t *testing.T) {
	_, err := NewRedisAdapter(nil)
	assert.Error(t, err)
	_, err = NewRedisAdapter(&config.RedisConfig{})
	assert.Error(t, err)
}

func TestNewRedisAdapterUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisAdapter(&config.RedisConfig{Address: addr, DialTimeoutSeconds: 1, MaxRetries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestRedisGetSetDel(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	key := r.FormatKey(constants.KeyWorkflowStatePrefix, "user_1")
	assert.Equal(t, "app:workflow:state:user_1", key)

	_, err := r.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Set(ctx, key, `{"a":1}`, time.Minute))
	val, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, val)
	assert.Equal(t, time.Minute, mr.TTL(key))

	require.NoError(t, r.Del(ctx, key))
	require.NoError(t, r.Del(ctx, key))
	assert.False(t, mr.Exists(key))
	require.NoError(t, r.Ping(ctx))
}

func TestRedisErrorsWhenServerDown(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.Get(ctx, "app:workflow:state:x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestShouldSampleRedisOp(t *testing.T) {
	assert.False(t, shouldSampleRedisOp(""))
	for i := 0; i < 50; i++ {
		assert.True(t, shouldSampleRedisOp(constants.KeyWorkflowStatePrefix+"u1"))
	}
}
