package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"estatecrm/internal/config"
	"estatecrm/internal/repository"
	"estatecrm/internal/store"
	"estatecrm/internal/store/memstore"
	"estatecrm/pkg/db"
	"estatecrm/pkg/lock"
	"estatecrm/pkg/logger"
	"estatecrm/pkg/outbox"
	redisclient "estatecrm/pkg/redis"
	"estatecrm/pkg/util"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the backends selected by storage.mode. db, rdb and outbox are
// nil in memory mode.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store  store.Store
	events store.EventPublisher
	locker lock.Locker
	dedup  util.OnceGuard

	db     *pgxpool.Pool
	rdb    *redis.Client
	outbox *outbox.Repository
}

func loadApp(configDir string) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewLogger(cfg.Log.Level)
	a := &app{cfg: cfg, logger: log}

	if cfg.Storage.Mode == config.StorageMemory {
		mem := memstore.New()
		a.store = mem
		a.events = mem
		a.locker = lock.NewLocalLocker()
		a.dedup = util.NewMemoryDeduper(cfg.Scanner.DedupTTL, time.Now)
		log.Info("Using in-memory storage")
		return a, nil
	}

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	a.db = pool
	a.outbox = outbox.NewRepository(pool, log)
	a.store = repository.NewStore(pool, a.outbox, log)
	a.events = a.outbox

	if cfg.Redis.Addr == "" {
		log.Warn("Redis not configured, using process-local locks and dedup")
		a.locker = lock.NewLocalLocker()
		a.dedup = util.NewMemoryDeduper(cfg.Scanner.DedupTTL, time.Now)
		return a, nil
	}
	rdb, err := redisclient.NewRedisClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.rdb = rdb
	a.locker = lock.NewRedisLocker(rdb, log)
	a.dedup = util.NewDeduper(rdb, cfg.Scanner.DedupTTL, log)
	return a, nil
}

// requirePostgres rejects commands that only make sense against the database.
func (a *app) requirePostgres(command string) error {
	if a.db == nil {
		return fmt.Errorf("%s requires storage.mode=%s", command, config.StoragePostgres)
	}
	return nil
}

// retryCounter backs the consumer DLQ decision; Redis when available.
func (a *app) retryCounter() util.Counter {
	if a.rdb != nil {
		return util.NewRetryCounter(a.rdb, a.cfg.Consumer.RetryTTL)
	}
	return util.NewMemoryRetryCounter()
}

func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
