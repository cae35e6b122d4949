package util

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OnceGuard 判断某个 (handler, key) 是否第一次被处理
type OnceGuard interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	// Release 处理失败时释放 key，让下一次投递可以重新处理
	Release(ctx context.Context, handler, key string)
}

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce returns true the first time handler sees key within the TTL.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, key string) bool {
	dedupKey := fmt.Sprintf("dedup:%s:%s", handler, key)

	ok, err := d.rdb.SetNX(ctx, dedupKey, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Debug("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("dedup_key", dedupKey),
		)
	}
	return ok
}

func (d *Deduper) Release(ctx context.Context, handler, key string) {
	dedupKey := fmt.Sprintf("dedup:%s:%s", handler, key)
	if err := d.rdb.Del(ctx, dedupKey).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("dedup_key", dedupKey),
			zap.Error(err),
		)
	}
}

// MemoryDeduper 进程内实现，用于内存存储模式和测试
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration, now func() time.Time) *MemoryDeduper {
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduper{ttl: ttl, seen: make(map[string]time.Time), now: now}
}

func (d *MemoryDeduper) AcquireOnce(_ context.Context, handler, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := handler + ":" + key
	now := d.now()
	if expires, ok := d.seen[k]; ok && now.Before(expires) {
		return false
	}
	d.seen[k] = now.Add(d.ttl)
	return true
}

func (d *MemoryDeduper) Release(_ context.Context, handler, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, handler+":"+key)
}
