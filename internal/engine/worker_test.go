package engine

import (
	"context"
	"testing"

	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/retry"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWorkerRegistersTasks(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	res, err := te.ConnectWorker(ctx, ConnectRequest{
		Group:             WorkerGroup{Name: "default", EnvironmentID: env},
		DeploymentVersion: "20261019.1",
		Tasks: []TaskDefinition{
			{Identifier: "email.send", ConcurrencyLimit: lo.ToPtr(2), Retry: &retry.Config{MaxAttempts: 5}},
			{Identifier: "report.build", Queue: "reports", MaxDurationSeconds: 600},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.WorkerInstanceID)

	def, err := te.queues.Get(ctx, env, "task/email.send")
	require.NoError(t, err)
	assert.Equal(t, 2, def.ConcurrencyLimit)

	// 触发时使用任务目录中的默认值
	r := te.trigger(t, TriggerRequest{TaskIdentifier: "email.send"})
	assert.Equal(t, 5, r.MaxAttempts)
	r = te.trigger(t, TriggerRequest{TaskIdentifier: "report.build"})
	assert.Equal(t, "reports", r.QueueName)
	assert.Equal(t, 600, r.MaxDurationSeconds)

	assert.ErrorIs(t, te.HeartbeatWorker(ctx, "unknown"), errs.ErrWorkerNotFound)
}
