package schedulerepo_test

import (
	"context"
	"testing"
	"time"

	domain "github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/infra/persistence/schedulerepo"
	"github.com/jobs/runengine/internal/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) domain.Repo {
	storage, err := orm.NewMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return schedulerepo.NewMysqlRepositoryImpl(orm.ProvideDB(storage))
}

func TestClaimNextRunIsExclusive(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	next := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, &domain.Schedule{
		ID:             1,
		FriendlyID:     "sched_1",
		TaskIdentifier: "report",
		EnvironmentID:  "env_1",
		Cron:           "0 * * * *",
		Active:         true,
		NextRunAt:      &next,
	}))

	due, err := repo.FindDue(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	expected := *due[0].NextRunAt
	following := expected.Add(time.Hour)
	ok, err := repo.ClaimNextRun(ctx, 1, expected, following)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimNextRun(ctx, 1, expected, following)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(following))
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(expected))
}

func TestCreateTickOncePerScheduleTime(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	created, err := repo.CreateTick(ctx, &domain.Tick{ScheduleID: 1, ScheduleTime: at})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateTick(ctx, &domain.Tick{ScheduleID: 1, ScheduleTime: at})
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, repo.SetTickRun(ctx, 1, at, 77))
	tick, err := repo.GetTick(ctx, 1, at)
	require.NoError(t, err)
	require.NotNil(t, tick)
	assert.Equal(t, uint64(77), tick.RunID)
}
