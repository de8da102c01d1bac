package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/infra/persistence/schedulerepo"
	"github.com/jobs/runengine/internal/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsecase(t *testing.T) *schedule.Usecase {
	t.Helper()
	storage, err := orm.NewMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return schedule.NewUsecase(schedulerepo.NewMysqlRepositoryImpl(orm.ProvideDB(storage)))
}

func TestCreateRejectsInvalidCron(t *testing.T) {
	u := newUsecase(t)
	_, err := u.Create(context.Background(), &schedule.CreateRequest{
		EnvironmentID:  "env_test",
		TaskIdentifier: "report.daily",
		Cron:           "every day",
	})
	var verr *errs.ServiceValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = u.Create(context.Background(), &schedule.CreateRequest{
		EnvironmentID:  "env_test",
		TaskIdentifier: "report.daily",
		Cron:           "0 9 * * *",
		Timezone:       "Mars/Olympus",
	})
	assert.ErrorAs(t, err, &verr)
}

func TestCreateWithDeduplicationKeyUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	u := newUsecase(t)
	req := &schedule.CreateRequest{
		EnvironmentID:    "env_test",
		TaskIdentifier:   "report.daily",
		Cron:             "0 9 * * *",
		Timezone:         "Europe/Berlin",
		DeduplicationKey: "daily-report",
	}
	first, err := u.Create(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.NextRunAt)
	assert.Equal(t, time.UTC, first.NextRunAt.Location())

	req.Cron = "0 18 * * *"
	req.Payload = map[string]any{"region": "eu"}
	second, err := u.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := u.Get(ctx, first.FriendlyID)
	require.NoError(t, err)
	assert.Equal(t, "0 18 * * *", got.Cron)
	assert.Equal(t, "eu", got.Payload["region"])

	list, err := u.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeactivateAndActivate(t *testing.T) {
	ctx := context.Background()
	u := newUsecase(t)
	s, err := u.Create(ctx, &schedule.CreateRequest{
		EnvironmentID:  "env_test",
		TaskIdentifier: "report.daily",
		Cron:           "@hourly",
	})
	require.NoError(t, err)

	require.NoError(t, u.Deactivate(ctx, s.FriendlyID))
	got, err := u.Get(ctx, s.FriendlyID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	require.NoError(t, u.Activate(ctx, s.FriendlyID))
	got, err = u.Get(ctx, s.FriendlyID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now()))

	updated, err := u.Update(ctx, s.FriendlyID, &schedule.UpdateRequest{Cron: "*/5 * * * *"})
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", updated.Cron)

	require.NoError(t, u.Delete(ctx, s.FriendlyID))
	_, err = u.Get(ctx, s.FriendlyID)
	assert.ErrorIs(t, err, errs.ErrScheduleNotFound)
}
