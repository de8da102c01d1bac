package schedulerepo

import (
	"time"

	domain "github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

func (po *SchedulePo) FromDomain(in *domain.Schedule) *SchedulePo {
	out := &SchedulePo{
		Model: commonrepo.Model{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		FriendlyID:     in.FriendlyID,
		TaskIdentifier: in.TaskIdentifier,
		EnvironmentID:  in.EnvironmentID,
		OrganizationID: in.OrganizationID,
		Cron:           in.Cron,
		Timezone:       in.Timezone,
		Payload:        in.Payload,
		Active:         in.Active,
		NextRunAt:      in.NextRunAt,
		LastRunAt:      in.LastRunAt,
	}
	if in.DeduplicationKey != "" {
		key := in.DeduplicationKey
		out.DeduplicationKey = &key
	}
	return out
}

func (po *SchedulePo) ToDomain() *domain.Schedule {
	out := &domain.Schedule{
		ID:             po.ID,
		FriendlyID:     po.FriendlyID,
		CreatedAt:      po.CreatedAt,
		UpdatedAt:      po.UpdatedAt,
		TaskIdentifier: po.TaskIdentifier,
		EnvironmentID:  po.EnvironmentID,
		OrganizationID: po.OrganizationID,
		Cron:           po.Cron,
		Timezone:       po.Timezone,
		Payload:        po.Payload,
		Active:         po.Active,
		NextRunAt:      po.NextRunAt,
		LastRunAt:      po.LastRunAt,
	}
	if po.DeduplicationKey != nil {
		out.DeduplicationKey = *po.DeduplicationKey
	}
	return out
}

func (po *TickPo) ToDomain() *domain.Tick {
	return &domain.Tick{
		ScheduleID:   po.ScheduleID,
		ScheduleTime: po.ScheduleTime,
		RunID:        po.RunID,
		CreatedAt:    po.CreatedAt,
	}
}

func patchToMap(input *domain.Patch) map[string]any {
	if input == nil {
		return nil
	}
	var values = make(map[string]any)

	if input.Cron != nil {
		values["cron"] = *input.Cron
	}

	if input.Timezone != nil {
		values["timezone"] = *input.Timezone
	}

	if input.Payload != nil {
		values["payload"] = datatypes.JSONMap(*input.Payload)
	}

	if input.Active != nil {
		values["active"] = *input.Active
	}

	if input.NextRunAt != nil {
		values["next_run_at"] = timeValue(*input.NextRunAt)
	}

	return values
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
