package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Schedule struct {
	ID               uint64
	FriendlyID       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	TaskIdentifier   string
	EnvironmentID    string
	OrganizationID   string
	Cron             string
	Timezone         string
	Payload          map[string]any
	Active           bool
	DeduplicationKey string
	NextRunAt        *time.Time
	LastRunAt        *time.Time
}

// Tick 一次计划触发，(ScheduleID, ScheduleTime) 唯一
type Tick struct {
	ScheduleID   uint64
	ScheduleTime time.Time
	RunID        uint64
	CreatedAt    time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron 解析 5 段表达式或 @daily 等描述符，timezone 非空时按该时区计算
func ParseCron(expr, timezone string) (cron.Schedule, error) {
	spec := expr
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		spec = "CRON_TZ=" + timezone + " " + expr
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Next 计算 after 之后的下一次触发时间，返回 UTC
func (s *Schedule) Next(after time.Time) (time.Time, error) {
	sched, err := ParseCron(s.Cron, s.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after).UTC(), nil
}
