// Package runlock реализует распределённую блокировку запуска начислений за календарный день.
package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/yieldmart/internal/model"
)

// DefaultTTL ограничивает время жизни блокировки, если процесс завершился, не освободив её.
const DefaultTTL = 30 * time.Minute

const releaseTimeout = 5 * time.Second

var releaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// Redis хранит блокировку запуска в Redis.
type Redis struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis создаёт блокировку поверх клиента Redis. Нулевой ttl заменяется на DefaultTTL.
func NewRedis(client goredis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

// Key возвращает ключ блокировки для дня.
func Key(day time.Time) string {
	return "accrual:run:" + model.Day(day).Format(model.DateLayout)
}

// Acquire пытается захватить блокировку за day.
// Если блокировка уже занята, возвращается acquired == false без ошибки.
func (r *Redis) Acquire(ctx context.Context, day time.Time) (func(), bool, error) {
	key := Key(day)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		r.logger.Info("run lock is held by another instance", zap.String("key", key))
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			r.logger.Warn("failed to release run lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}

// Noop всегда успешно захватывает блокировку. Используется без Redis.
type Noop struct{}

// Acquire реализует блокировку без внешнего хранилища.
func (Noop) Acquire(context.Context, time.Time) (func(), bool, error) {
	return func() {}, true, nil
}
