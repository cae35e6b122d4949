package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired 在等待超时后仍未拿到锁时返回
var ErrNotAcquired = errors.New("lock not acquired")

// Locker 串行化同一 key 上的写操作
type Locker interface {
	// Lock 阻塞直到获得锁、ctx 结束或超时；返回的 unlock 可重复调用
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// releaseScript 只删除自己持有的锁（token 比对）
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁
type RedisLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:    rdb,
		ttl:    10 * time.Second,
		retry:  50 * time.Millisecond,
		wait:   5 * time.Second,
		prefix: "lock:",
		logger: logger,
	}
}

// WithTTL 设置锁的过期时间
func (l *RedisLocker) WithTTL(ttl time.Duration) *RedisLocker {
	l.ttl = ttl
	return l
}

// WithWait 设置最长等待时间
func (l *RedisLocker) WithWait(wait time.Duration) *RedisLocker {
	l.wait = wait
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			l.logger.Error("Failed to acquire lock", zap.String("key", fullKey), zap.Error(err))
			return nil, fmt.Errorf("acquire lock %s: %w", fullKey, err)
		}
		if ok {
			l.logger.Debug("Lock acquired", zap.String("key", fullKey))
			break
		}

		select {
		case <-ctx.Done():
			l.logger.Warn("Lock wait timed out", zap.String("key", fullKey))
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, fullKey)
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer releaseCancel()
			if err := releaseScript.Run(releaseCtx, l.rdb, []string{fullKey}, token).Err(); err != nil {
				l.logger.Warn("Failed to release lock", zap.String("key", fullKey), zap.Error(err))
			}
		})
	}, nil
}

// LocalLocker 进程内互斥锁，用于内存存储模式
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
