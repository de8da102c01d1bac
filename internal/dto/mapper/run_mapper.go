package mapper

import (
	"github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/internal/engine"
	"github.com/jobs/runengine/internal/pkg/idx"
	"github.com/samber/lo"
)

// ToRunResponse 将 run 实体转换为响应 DTO
func ToRunResponse(r *run.TaskRun) response.RunResponse {
	resp := response.RunResponse{
		ID:                 r.FriendlyID,
		RunID:              r.ID,
		TaskIdentifier:     r.TaskIdentifier,
		Status:             r.Status,
		Queue:              r.QueueName,
		EnvironmentID:      r.EnvironmentID,
		Priority:           r.Priority,
		AttemptNumber:      r.AttemptNumber,
		MaxAttempts:        r.MaxAttempts,
		IdempotencyKey:     r.IdempotencyKey,
		Payload:            string(r.Payload),
		PayloadType:        r.PayloadType,
		Output:             string(r.Output),
		OutputType:         r.OutputType,
		Error:              r.Error,
		MaxDurationSeconds: r.MaxDurationSeconds,
		Tags:               r.Tags,
		Metadata:           r.Metadata,
		CreatedAt:          r.CreatedAt,
		DelayUntil:         r.DelayUntil,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
		LatestSnapshotID:   r.LatestSnapshotID,
	}
	if r.ParentRunID != 0 {
		resp.ParentRunID = idx.Friendly("run", r.ParentRunID)
	}
	if r.RootRunID != 0 {
		resp.RootRunID = idx.Friendly("run", r.RootRunID)
	}
	return resp
}

// ToTriggerResponse 命中幂等键时 isCached 为 true
func ToTriggerResponse(res *engine.TriggerResult) response.RunResponse {
	resp := ToRunResponse(res.Run)
	resp.IsCached = res.Cached
	if res.Waitpoint != nil {
		resp.WaitpointID = res.Waitpoint.FriendlyID
	}
	return resp
}

func ToSnapshotResponse(s *run.Snapshot) response.SnapshotResponse {
	return response.SnapshotResponse{
		ID:                  s.ID,
		RunID:               s.RunID,
		Version:             s.Version,
		Status:              s.Status,
		Event:               s.Event,
		AttemptNumber:       s.AttemptNumber,
		Description:         s.Description,
		CompletedWaitpoints: s.CompletedWaitpoints,
		CreatedAt:           s.CreatedAt,
	}
}

func ToDequeuedRunResponses(runs []engine.DequeuedRun) []response.DequeuedRunResponse {
	return lo.Map(runs, func(d engine.DequeuedRun, _ int) response.DequeuedRunResponse {
		return response.DequeuedRunResponse{
			Run:                 ToRunResponse(d.Run),
			Snapshot:            ToSnapshotResponse(d.Snapshot),
			CompletedWaitpoints: lo.Ternary(d.CompletedWaitpoints == nil, []run.CompletedWaitpoint{}, d.CompletedWaitpoints),
		}
	})
}

func ToExecutionResponse(res *engine.StartResult) response.ExecutionResponse {
	return response.ExecutionResponse{
		Run:      ToRunResponse(res.Run),
		Snapshot: ToSnapshotResponse(res.Snapshot),
	}
}

func ToCompleteResultResponse(res *engine.CompleteResult) response.CompleteResultResponse {
	return response.CompleteResultResponse{
		AttemptStatus: string(res.AttemptStatus),
		Run:           ToRunResponse(res.Run),
		Snapshot:      ToSnapshotResponse(res.Snapshot),
		RetryDelayMs:  res.RetryDelay.Milliseconds(),
	}
}

func ToWaitResponse(res *engine.BlockResult) response.WaitResponse {
	resp := response.WaitResponse{
		Blocked:             res.Blocked,
		CompletedWaitpoints: res.CompletedWaitpoints,
	}
	if res.Snapshot != nil {
		resp.Snapshot = lo.ToPtr(ToSnapshotResponse(res.Snapshot))
	}
	return resp
}
