package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day = time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

func setupLock(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl, zap.NewNop()), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "accrual:run:2024-03-15", Key(day))
}

func TestAcquireRelease(t *testing.T) {
	lock, mr := setupLock(t, time.Minute)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("accrual:run:2024-03-15"))
	assert.Equal(t, time.Minute, mr.TTL("accrual:run:2024-03-15"))

	_, ok, err = lock.Acquire(ctx, day)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire for the same day must fail")

	other, ok, err := lock.Acquire(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, ok, "another day is not blocked")
	other()

	release()
	assert.False(t, mr.Exists("accrual:run:2024-03-15"))

	release, ok, err = lock.Acquire(ctx, day)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestRelease_DoesNotDeleteForeignLock(t *testing.T) {
	lock, mr := setupLock(t, time.Minute)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set("accrual:run:2024-03-15", "other-instance"))

	release()

	val, err := mr.Get("accrual:run:2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, "other-instance", val)
}

func TestAcquire_ExpiredLockCanBeTaken(t *testing.T) {
	lock, mr := setupLock(t, time.Second)
	ctx := context.Background()

	_, ok, err := lock.Acquire(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = lock.Acquire(ctx, day)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquire_RedisDown(t *testing.T) {
	lock, mr := setupLock(t, time.Minute)
	mr.Close()

	_, ok, err := lock.Acquire(context.Background(), day)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewRedis_DefaultTTL(t *testing.T) {
	lock := NewRedis(nil, 0, zap.NewNop())
	assert.Equal(t, DefaultTTL, lock.ttl)
}

func TestNoop(t *testing.T) {
	release, ok, err := Noop{}.Acquire(context.Background(), day)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}
