package waitpointrepo_test

import (
	"context"
	"testing"
	"time"

	domain "github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/infra/persistence/waitpointrepo"
	"github.com/jobs/runengine/internal/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) domain.Repo {
	storage, err := orm.NewMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return waitpointrepo.NewMysqlRepositoryImpl(orm.ProvideDB(storage))
}

func TestCompleteOnlyOnce(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	wp := &domain.Waitpoint{ID: 1, FriendlyID: "waitpoint_1", Type: domain.TypeManual, Status: domain.StatusPending, EnvironmentID: "env_1"}
	require.NoError(t, repo.Create(ctx, wp))

	now := time.Now().UTC()
	ok, err := repo.Complete(ctx, 1, domain.Output{Value: `{"ok":true}`}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Complete(ctx, 1, domain.Output{Value: "second"}, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted())
	assert.Equal(t, `{"ok":true}`, got.Output)
}

func TestIdempotencyKeyPerEnvironment(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.Waitpoint{ID: 1, FriendlyID: "waitpoint_1", Type: domain.TypeManual, Status: domain.StatusPending, EnvironmentID: "env_1", IdempotencyKey: "k"}))
	err := repo.Create(ctx, &domain.Waitpoint{ID: 2, FriendlyID: "waitpoint_2", Type: domain.TypeManual, Status: domain.StatusPending, EnvironmentID: "env_1", IdempotencyKey: "k"})
	require.ErrorIs(t, err, errs.ErrDuplicateRecord)
	require.NoError(t, repo.Create(ctx, &domain.Waitpoint{ID: 3, FriendlyID: "waitpoint_3", Type: domain.TypeManual, Status: domain.StatusPending, EnvironmentID: "env_2", IdempotencyKey: "k"}))

	found, err := repo.FindByIdempotencyKey(ctx, "env_1", "k")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, uint64(1), found.ID)
}

func TestBlockingRelations(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	future := time.Now().UTC().Add(time.Hour)
	for i, at := range []time.Time{past, future} {
		require.NoError(t, repo.Create(ctx, &domain.Waitpoint{
			ID:             uint64(i + 1),
			FriendlyID:     []string{"waitpoint_a", "waitpoint_b"}[i],
			Type:           domain.TypeDateTime,
			Status:         domain.StatusPending,
			EnvironmentID:  "env_1",
			CompletedAfter: &at,
		}))
	}

	require.NoError(t, repo.Block(ctx, 10, []uint64{1, 2}))
	// 重复阻塞被忽略
	require.NoError(t, repo.Block(ctx, 10, []uint64{1}))
	require.NoError(t, repo.Block(ctx, 11, []uint64{1}))

	blocking, err := repo.ListForRun(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, blocking, 2)

	runs, err := repo.BlockedRunIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 11}, runs)

	due, err := repo.FindDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, uint64(1), due[0].ID)

	require.NoError(t, repo.ClearRun(ctx, 10))
	blocking, err = repo.ListForRun(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, blocking)
}
