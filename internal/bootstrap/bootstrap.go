// Package bootstrap builds the infrastructure shared by the api and worker
// binaries: loggers, storage, Redis and the event bus.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/config"
	"github.com/learnfi/learnfi-hub/internal/application/eventhandler"
	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/messaging"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/metrics"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/memory"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/postgres"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/redis"
	"github.com/learnfi/learnfi-hub/pkg/logger"
	"github.com/learnfi/learnfi-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// NewLoggers returns the application logger and a log/slog logger at the same
// level for the components built on slog (event bus, scheduler, jobs).
func NewLoggers(cfg *config.Config) (*logger.Logger, *slog.Logger) {
	level := logger.ParseLevel(cfg.Observability.LogLevel)

	appLog := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		AddCaller: cfg.App.Debug,
	}).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)

	opts := &slog.HandlerOptions{Level: level.Slog(), AddSource: cfg.IsDevelopment()}
	var handler slog.Handler
	if strings.EqualFold(cfg.Observability.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slogLog := slog.New(handler).With("service", cfg.App.Name)

	return appLog, slogLog
}

// FeatureFields lists every feature flag with its global state, sorted by
// name, for the startup log line.
func FeatureFields(flags *config.FeatureFlags) []logger.Field {
	if flags == nil {
		return nil
	}
	features := flags.GetAllFeatures()
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]logger.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, logger.Bool(name, features[name].Enabled))
	}
	return fields
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// Storage holds the repositories of the configured driver.
type Storage struct {
	Driver      string
	Tx          shared.Transactor
	Tasks       task.Repository
	Submissions submission.Repository
	Accounts    ledger.AccountRepository
	Entries     ledger.EntryRepository

	// DB is nil for the memory driver.
	DB *postgres.Connection

	close func()
}

// Close releases the connection pool.
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStorage connects to the configured store. PostgreSQL connections are
// retried DatabaseConfig.ConnectAttempts times and migrated when AutoMigrate
// is set.
func OpenStorage(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Storage, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return openMemory(cfg, log)
	case config.StoragePostgres:
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openMemory(cfg config.DatabaseConfig, log *logger.Logger) (*Storage, error) {
	users, err := ParseSeedUsers(cfg.SeedUsers)
	if err != nil {
		return nil, err
	}

	store := memory.NewStore()
	for id, role := range users {
		store.AddUser(id, role)
	}
	log.Warn("using in-memory storage, data is lost on restart", logger.Int("seeded_users", len(users)))

	return &Storage{
		Driver:      config.StorageMemory,
		Tx:          store,
		Tasks:       memory.NewTaskRepository(store),
		Submissions: memory.NewSubmissionRepository(store),
		Accounts:    memory.NewAccountRepository(store),
		Entries:     memory.NewEntryRepository(store),
	}, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Storage, error) {
	pool := postgres.DefaultPoolConfig()
	pool.MaxConns = int32(cfg.MaxConns)
	pool.MinConns = int32(cfg.MinConns)
	pool.MaxConnLifetime = cfg.ConnMaxLifetime
	pool.MaxConnIdleTime = cfg.ConnMaxIdleTime

	connector := retry.StartupRetrier(cfg.ConnectAttempts, func(attempt int, err error, delay time.Duration) {
		log.Warn("database not ready, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})

	var conn *postgres.Connection
	err := connector.Do(ctx, func(ctx context.Context) error {
		c, err := postgres.Connect(ctx, cfg.URL, pool)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("connected to PostgreSQL")

	if cfg.AutoMigrate {
		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		status, err := migrator.Status(ctx)
		if err == nil {
			applied := 0
			for _, m := range status {
				if m.IsApplied {
					applied++
				}
			}
			log.Info("migrations applied", logger.Int("applied", applied), logger.Int("total", len(status)))
		}
	}

	return &Storage{
		Driver:      config.StoragePostgres,
		Tx:          conn,
		Tasks:       postgres.NewTaskRepository(conn),
		Submissions: postgres.NewSubmissionRepository(conn),
		Accounts:    postgres.NewAccountRepository(conn),
		Entries:     postgres.NewEntryRepository(conn),
		DB:          conn,
		close:       conn.Close,
	}, nil
}

// ParseSeedUsers parses "uuid:role" pairs separated by commas.
func ParseSeedUsers(raw string) (map[uuid.UUID]shared.Role, error) {
	users := make(map[uuid.UUID]shared.Role)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		rawID, rawRole, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("seed user %q: want uuid:role", pair)
		}
		id, err := uuid.Parse(strings.TrimSpace(rawID))
		if err != nil {
			return nil, fmt.Errorf("seed user %q: %w", pair, err)
		}
		role, err := shared.ParseRole(rawRole)
		if err != nil {
			return nil, fmt.Errorf("seed user %q: %w", pair, err)
		}
		users[id] = role
	}
	return users, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS
// ══════════════════════════════════════════════════════════════════════════════

// OpenRedis connects to Redis. It returns nil without error when Redis is
// disabled, or when it is unreachable and nothing requires it; callers then
// run without caches.
func OpenRedis(ctx context.Context, cfg *config.Config, log *logger.Logger) (*redis.Cache, error) {
	if cfg.Redis.Disabled {
		log.Info("redis disabled, caches are off")
		return nil, nil
	}

	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout

	required := cfg.EventBus.Driver == config.EventBusRedis
	attempts := 1
	if required {
		attempts = cfg.Database.ConnectAttempts
	}

	cache, err := retry.DoWithData(ctx, func(context.Context) (*redis.Cache, error) {
		return redis.NewCache(rc)
	}, retry.WithMaxAttempts(attempts), retry.WithRetryIf(func(error) bool { return true }))
	if err != nil {
		if required {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Warn("redis unavailable, continuing without caches", logger.Err(err))
		return nil, nil
	}

	log.Info("connected to Redis", logger.String("addr", rc.Addr()))
	return cache, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// NewEventBus creates the configured bus. cache must be non-nil for the redis
// driver. m may be nil.
func NewEventBus(cfg config.EventBusConfig, cache *redis.Cache, log *slog.Logger, m *metrics.Metrics) (shared.EventBus, error) {
	local := messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.Async,
		WorkerPoolSize: cfg.Workers,
		Logger:         log,
	}
	if m != nil {
		local.Observer = m
	}

	if cfg.Driver != config.EventBusRedis {
		return messaging.NewInMemoryEventBus(local), nil
	}
	if cache == nil {
		return nil, fmt.Errorf("redis event bus requires a redis connection")
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisPubSub(cache.Client()),
		ChannelName:    cfg.Channel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// SubscribeEventHandlers registers the ledger event handlers. leaderboard and
// m may be nil.
func SubscribeEventHandlers(bus shared.EventSubscriber, leaderboard *redis.LeaderboardCache, m *metrics.Metrics, log *slog.Logger) error {
	var (
		updater     eventhandler.LeaderboardUpdater
		invalidator eventhandler.LeaderboardInvalidator
		recorder    eventhandler.LedgerRecorder
	)
	if leaderboard != nil {
		updater = leaderboard
		invalidator = leaderboard
	}
	if m != nil {
		recorder = m
	}

	return eventhandler.Subscribe(bus,
		eventhandler.NewOnXPAwardedHandler(updater, recorder, log),
		eventhandler.NewOnLedgerInvariantViolatedHandler(invalidator, recorder, log),
	)
}
