package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfi/learnfi-hub/config"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:            "learnfi-hub",
			Location:        time.UTC,
			ShutdownTimeout: time.Second,
		},
		Database: config.DatabaseConfig{Driver: config.StorageMemory},
		Redis:    config.RedisConfig{Disabled: true},
		EventBus: config.EventBusConfig{Driver: config.EventBusInProcess},
		Scheduler: config.SchedulerConfig{
			Enabled:                    true,
			ReconcileInterval:          time.Hour,
			RebuildLeaderboardInterval: time.Hour,
		},
		Features: config.NewFeatureFlags(),
	}
}

func TestParseSeedUsers(t *testing.T) {
	admin, learner := uuid.New(), uuid.New()

	users, err := ParseSeedUsers(admin.String() + ":admin, " + learner.String() + ":Learner,")
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]shared.Role{
		admin:   shared.RoleAdmin,
		learner: shared.RoleLearner,
	}, users)

	users, err = ParseSeedUsers("")
	require.NoError(t, err)
	assert.Empty(t, users)

	for _, raw := range []string{
		admin.String(),
		"not-a-uuid:admin",
		admin.String() + ":janitor",
	} {
		_, err := ParseSeedUsers(raw)
		assert.Error(t, err, raw)
	}
}

func TestOpenStorage_Memory(t *testing.T) {
	id := uuid.New()
	cfg := config.DatabaseConfig{Driver: config.StorageMemory, SeedUsers: id.String() + ":instructor"}

	storage, err := OpenStorage(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer storage.Close()

	assert.Nil(t, storage.DB)
	account, err := storage.Accounts.GetAccount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, shared.RoleInstructor, account.Role)
	assert.Equal(t, 0, account.XPTotal)
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	_, err := OpenStorage(context.Background(), config.DatabaseConfig{Driver: "sqlite"}, quietLogger())
	assert.Error(t, err)
}

func TestFeatureFields(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeatureLeaderboardCache))

	fields := FeatureFields(flags)
	require.Len(t, fields, 4)
	assert.Equal(t, logger.Bool(config.FeatureLeaderboardCache, false), fields[0])
	assert.Equal(t, logger.Bool(config.FeatureAdminXPGrants, true), fields[1])
	assert.Equal(t, logger.Bool(config.FeatureLedgerReconcile, true), fields[2])
	assert.Equal(t, logger.Bool(config.FeatureAutoVerify, true), fields[3])

	assert.Nil(t, FeatureFields(nil))
}

func TestOpenRedis_Disabled(t *testing.T) {
	cache, err := OpenRedis(context.Background(), testConfig(), quietLogger())
	require.NoError(t, err)
	assert.Nil(t, cache)
}

func TestNewEventBus(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus, err := NewEventBus(config.EventBusConfig{Driver: config.EventBusInProcess}, nil, log, nil)
	require.NoError(t, err)
	require.NoError(t, SubscribeEventHandlers(bus, nil, nil, log))
	require.NoError(t, bus.Close())

	_, err = NewEventBus(config.EventBusConfig{Driver: config.EventBusRedis}, nil, log, nil)
	assert.Error(t, err, "the redis bus needs a connection")
}

func TestNewScheduler_RegistersEnabledJobs(t *testing.T) {
	cfg := testConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	storage, err := OpenStorage(context.Background(), cfg.Database, quietLogger())
	require.NoError(t, err)

	sched, err := NewScheduler(cfg, storage, nil, nil, nil, log)
	require.NoError(t, err)
	jobs := sched.ListJobs()
	require.Len(t, jobs, 1, "no leaderboard cache, so only reconciliation")
	assert.Equal(t, "reconcile_ledger", jobs[0].Name)

	require.NoError(t, cfg.Features.DisableFeature(config.FeatureLedgerReconcile))
	sched, err = NewScheduler(cfg, storage, nil, nil, nil, log)
	require.NoError(t, err)
	assert.Empty(t, sched.ListJobs())
}
