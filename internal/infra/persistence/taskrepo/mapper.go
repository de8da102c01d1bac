package taskrepo

import (
	"encoding/json"

	domain "github.com/jobs/runengine/internal/biz/task"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/jobs/runengine/internal/retry"
)

func (po *TaskPo) FromDomain(in *domain.Task) *TaskPo {
	out := &TaskPo{
		Model: commonrepo.Model{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		EnvironmentID:      in.EnvironmentID,
		Identifier:         in.Identifier,
		QueueName:          in.QueueName,
		MaxDurationSeconds: in.MaxDurationSeconds,
		DeploymentVersion:  in.DeploymentVersion,
		Status:             in.Status,
	}
	if in.Retry != nil {
		out.Retry, _ = json.Marshal(in.Retry)
	}
	return out
}

func (po *TaskPo) ToDomain() *domain.Task {
	out := &domain.Task{
		ID:                 po.ID,
		CreatedAt:          po.CreatedAt,
		UpdatedAt:          po.UpdatedAt,
		EnvironmentID:      po.EnvironmentID,
		Identifier:         po.Identifier,
		QueueName:          po.QueueName,
		MaxDurationSeconds: po.MaxDurationSeconds,
		DeploymentVersion:  po.DeploymentVersion,
		Status:             po.Status,
	}
	if len(po.Retry) > 0 {
		var cfg retry.Config
		if err := json.Unmarshal(po.Retry, &cfg); err == nil {
			out.Retry = &cfg
		}
	}
	return out
}

func patchToMap(input *domain.TaskPatch) map[string]any {
	var values = make(map[string]any)

	if input.Status != nil {
		values["status"] = *input.Status
	}

	return values
}
