package request

type CreateScheduleRequest struct {
	Task             string         `json:"task" binding:"required"`
	Cron             string         `json:"cron" binding:"required"`
	Timezone         string         `json:"timezone"`
	Payload          map[string]any `json:"payload"`
	DeduplicationKey string         `json:"deduplicationKey"`
}

type ListSchedulesRequest struct {
	Task string `form:"task"`
}
