package mapper

import (
	"github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/internal/engine"
	"github.com/samber/lo"
)

// ToQueueResponse running 与 queued 来自 run 队列的实时计数
func ToQueueResponse(def *queue.Definition, running, queued int64) response.QueueResponse {
	return response.QueueResponse{
		ID:                            def.ID,
		Name:                          def.Name,
		ConcurrencyLimit:              def.ConcurrencyLimit,
		RateLimit:                     def.RateLimit,
		Weight:                        def.Weight,
		ReleaseConcurrencyOnWaitpoint: def.ReleaseConcurrencyOnWaitpoint,
		Paused:                        def.Paused,
		Running:                       running,
		Queued:                        queued,
	}
}

func ToScheduleResponse(s *schedule.Schedule) response.ScheduleResponse {
	return response.ScheduleResponse{
		ID:               s.FriendlyID,
		Task:             s.TaskIdentifier,
		Cron:             s.Cron,
		Timezone:         s.Timezone,
		Payload:          s.Payload,
		Active:           s.Active,
		DeduplicationKey: s.DeduplicationKey,
		NextRunAt:        s.NextRunAt,
		LastRunAt:        s.LastRunAt,
	}
}

func ToScheduleResponses(list []*schedule.Schedule) []response.ScheduleResponse {
	return lo.Map(list, func(s *schedule.Schedule, _ int) response.ScheduleResponse {
		return ToScheduleResponse(s)
	})
}

func ToConnectResponse(res *engine.ConnectResult) response.ConnectResponse {
	return response.ConnectResponse{
		WorkerGroup: response.WorkerGroupResponse{
			Name:          res.WorkerGroup.Name,
			EnvironmentID: res.WorkerGroup.EnvironmentID,
		},
		WorkerInstanceID: res.WorkerInstanceID,
	}
}
