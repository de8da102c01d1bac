package runrepo

import (
	"encoding/json"
	"time"

	domain "github.com/jobs/runengine/internal/biz/run"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// timeValue 空指针写为 NULL
func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func toJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func (po *TaskRunPo) FromDomain(in *domain.TaskRun) *TaskRunPo {
	out := &TaskRunPo{
		Model: commonrepo.Model{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		FriendlyID:           in.FriendlyID,
		TaskIdentifier:       in.TaskIdentifier,
		Status:               in.Status,
		QueueName:            in.QueueName,
		EnvironmentID:        in.EnvironmentID,
		OrganizationID:       in.OrganizationID,
		Priority:             in.Priority,
		AttemptNumber:        in.AttemptNumber,
		MaxAttempts:          in.MaxAttempts,
		Retry:                datatypes.NewJSONType(in.Retry),
		MaxDurationSeconds:   in.MaxDurationSeconds,
		IdempotencyKey:       in.IdempotencyKey,
		IdempotencyKeyScope:  in.IdempotencyKeyScope,
		ActiveIdempotencyKey: optionalString(in.ActiveIdempotencyKey),
		OneTimeUseToken:      optionalString(in.OneTimeUseToken),
		Payload:              string(in.Payload),
		PayloadType:          in.PayloadType,
		Output:               string(in.Output),
		OutputType:           in.OutputType,
		ParentRunID:          in.ParentRunID,
		RootRunID:            in.RootRunID,
		LatestSnapshotID:     in.LatestSnapshotID,
		HeartbeatDeadline:    in.HeartbeatDeadline,
		WorkerInstanceID:     in.WorkerInstanceID,
		AttemptStartedAt:     in.AttemptStartedAt,
		AttemptDeadline:      in.AttemptDeadline,
		DelayUntil:           in.DelayUntil,
		StartedAt:            in.StartedAt,
		CompletedAt:          in.CompletedAt,
		Metadata:             in.Metadata,
	}
	if in.Error != nil {
		out.Error = toJSON(in.Error)
	}
	if len(in.Tags) > 0 {
		out.Tags = toJSON(in.Tags)
	}
	return out
}

func (po *TaskRunPo) ToDomain() *domain.TaskRun {
	out := &domain.TaskRun{
		ID:                  po.ID,
		FriendlyID:          po.FriendlyID,
		CreatedAt:           po.CreatedAt,
		UpdatedAt:           po.UpdatedAt,
		TaskIdentifier:      po.TaskIdentifier,
		Status:              po.Status,
		QueueName:           po.QueueName,
		EnvironmentID:       po.EnvironmentID,
		OrganizationID:      po.OrganizationID,
		Priority:            po.Priority,
		AttemptNumber:       po.AttemptNumber,
		MaxAttempts:         po.MaxAttempts,
		Retry:               po.Retry.Data(),
		MaxDurationSeconds:  po.MaxDurationSeconds,
		IdempotencyKey:      po.IdempotencyKey,
		IdempotencyKeyScope: po.IdempotencyKeyScope,
		PayloadType:         po.PayloadType,
		OutputType:          po.OutputType,
		ParentRunID:         po.ParentRunID,
		RootRunID:           po.RootRunID,
		LatestSnapshotID:    po.LatestSnapshotID,
		HeartbeatDeadline:   po.HeartbeatDeadline,
		WorkerInstanceID:    po.WorkerInstanceID,
		AttemptStartedAt:    po.AttemptStartedAt,
		AttemptDeadline:     po.AttemptDeadline,
		DelayUntil:          po.DelayUntil,
		StartedAt:           po.StartedAt,
		CompletedAt:         po.CompletedAt,
		Metadata:            po.Metadata,
	}
	if po.ActiveIdempotencyKey != nil {
		out.ActiveIdempotencyKey = *po.ActiveIdempotencyKey
	}
	if po.OneTimeUseToken != nil {
		out.OneTimeUseToken = *po.OneTimeUseToken
	}
	if po.Payload != "" {
		out.Payload = []byte(po.Payload)
	}
	if po.Output != "" {
		out.Output = []byte(po.Output)
	}
	if len(po.Error) > 0 && string(po.Error) != "null" {
		var e domain.RunError
		if json.Unmarshal(po.Error, &e) == nil {
			out.Error = &e
		}
	}
	if len(po.Tags) > 0 {
		_ = json.Unmarshal(po.Tags, &out.Tags)
	}
	return out
}

func (po *SnapshotPo) FromDomain(in *domain.Snapshot) *SnapshotPo {
	out := &SnapshotPo{
		ID:                  in.ID,
		RunID:               in.RunID,
		Version:             in.Version,
		Status:              in.Status,
		Event:               in.Event,
		AttemptNumber:       in.AttemptNumber,
		WorkerInstanceID:    in.WorkerInstanceID,
		RunnerID:            in.RunnerID,
		Description:         in.Description,
		ConcurrencyReleased: in.ConcurrencyReleased,
		CreatedAt:           in.CreatedAt,
	}
	if len(in.CompletedWaitpoints) > 0 {
		out.CompletedWaitpoints = toJSON(in.CompletedWaitpoints)
	}
	return out
}

func (po *SnapshotPo) ToDomain() *domain.Snapshot {
	out := &domain.Snapshot{
		ID:                  po.ID,
		RunID:               po.RunID,
		Version:             po.Version,
		Status:              po.Status,
		Event:               po.Event,
		AttemptNumber:       po.AttemptNumber,
		WorkerInstanceID:    po.WorkerInstanceID,
		RunnerID:            po.RunnerID,
		Description:         po.Description,
		ConcurrencyReleased: po.ConcurrencyReleased,
		CreatedAt:           po.CreatedAt,
	}
	if len(po.CompletedWaitpoints) > 0 {
		_ = json.Unmarshal(po.CompletedWaitpoints, &out.CompletedWaitpoints)
	}
	return out
}

func patchToMap(input *domain.RunPatch) map[string]any {
	var values = make(map[string]any)
	if input == nil {
		return values
	}

	if input.Status != nil {
		values["status"] = *input.Status
	}
	if input.AttemptNumber != nil {
		values["attempt_number"] = *input.AttemptNumber
	}
	if input.HeartbeatDeadline != nil {
		values["heartbeat_deadline"] = timeValue(*input.HeartbeatDeadline)
	}
	if input.WorkerInstanceID != nil {
		values["worker_instance_id"] = *input.WorkerInstanceID
	}
	if input.AttemptStartedAt != nil {
		values["attempt_started_at"] = timeValue(*input.AttemptStartedAt)
	}
	if input.AttemptDeadline != nil {
		values["attempt_deadline"] = timeValue(*input.AttemptDeadline)
	}
	if input.StartedAt != nil {
		values["started_at"] = timeValue(*input.StartedAt)
	}
	if input.CompletedAt != nil {
		values["completed_at"] = timeValue(*input.CompletedAt)
	}
	if input.Output != nil {
		values["output"] = string(*input.Output)
	}
	if input.OutputType != nil {
		values["output_type"] = *input.OutputType
	}
	if input.Error != nil {
		if *input.Error == nil {
			values["error"] = nil
		} else {
			values["error"] = toJSON(*input.Error)
		}
	}
	if input.ActiveIdempotencyKey != nil {
		if *input.ActiveIdempotencyKey == "" {
			values["active_idempotency_key"] = nil
		} else {
			values["active_idempotency_key"] = *input.ActiveIdempotencyKey
		}
	}
	if input.DelayUntil != nil {
		values["delay_until"] = timeValue(*input.DelayUntil)
	}
	return values
}
