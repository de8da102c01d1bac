// Package scheduler 按 cron 计划触发任务：周期性抢占到期的计划，再通过作业队列创建 run。
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/jobs/runengine/internal/biz/schedule"
	"github.com/jobs/runengine/internal/engine"
	"github.com/jobs/runengine/internal/jobqueue"
	"github.com/jobs/runengine/internal/periodic"
	"github.com/jobs/runengine/pkg/config"
	"go.uber.org/zap"
)

// JobTriggerScheduledTask 作业队列中的触发作业名
const JobTriggerScheduledTask = "triggerScheduledTask"

const tickBatchSize = 100

// tickJob 触发作业的负载
type tickJob struct {
	ScheduleID   uint64     `json:"scheduleId"`
	ScheduleTime time.Time  `json:"scheduleTime"`
	LastTime     *time.Time `json:"lastTime,omitempty"`
}

// Payload 传给任务的负载
type Payload struct {
	ScheduleID    string         `json:"scheduleId"`
	Timestamp     time.Time      `json:"timestamp"`
	LastTimestamp *time.Time     `json:"lastTimestamp,omitempty"`
	Timezone      string         `json:"timezone"`
	Payload       map[string]any `json:"payload,omitempty"`
}

type Option func(*Scheduler)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler 计划调度器
type Scheduler struct {
	cfg     config.ScheduleConfig
	repo    domain.Repo
	jobs    *jobqueue.Queue
	trigger Triggerer
	logger  *zap.Logger
	now     func() time.Time
	ticker  *periodic.Worker
}

func New(cfg config.Config, repo domain.Repo, jobs *jobqueue.Queue, trigger Triggerer, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg.Schedule,
		repo:    repo,
		jobs:    jobs,
		trigger: trigger,
		logger:  logger.With(zap.String("component", "scheduler")),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	jobs.Register(JobTriggerScheduledTask, s.handleTrigger)
	s.ticker = periodic.New("schedule-tick", s.cfg.TickInterval, s.Tick, s.logger)
	return s
}

// Start 启动
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		s.logger.Info("scheduler is disabled")
		return
	}
	s.jobs.Start()
	s.ticker.Start()
}

// Stop 停止
func (s *Scheduler) Stop() {
	s.ticker.Stop()
	s.jobs.Stop()
}

// Tick 抢占 lookahead 窗口内到期的计划并投递触发作业，返回投递数
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.FindDue(ctx, now.Add(s.cfg.Lookahead), tickBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find due schedules: %w", err)
	}

	n := 0
	for _, sched := range due {
		at := *sched.NextRunAt
		next, err := sched.Next(at)
		if err != nil {
			s.logger.Error("invalid schedule, skipping",
				zap.String("schedule", sched.FriendlyID),
				zap.Error(err))
			continue
		}
		// next_run_at 上的 CAS，多实例只有一个能抢到
		ok, err := s.repo.ClaimNextRun(ctx, sched.ID, at, next)
		if err != nil {
			return n, fmt.Errorf("claim schedule %s: %w", sched.FriendlyID, err)
		}
		if !ok {
			continue
		}
		job := tickJob{ScheduleID: sched.ID, ScheduleTime: at, LastTime: sched.LastRunAt}
		if _, err := s.jobs.Enqueue(ctx, JobTriggerScheduledTask, tickKey(sched.ID, at), job, at); err != nil {
			return n, fmt.Errorf("enqueue schedule %s: %w", sched.FriendlyID, err)
		}
		n++
	}
	return n, nil
}

func tickKey(scheduleID uint64, at time.Time) string {
	return fmt.Sprintf("sched:%d:%d", scheduleID, at.Unix())
}

func (s *Scheduler) handleTrigger(ctx context.Context, job jobqueue.Job) error {
	var p tickJob
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		s.logger.Error("drop malformed schedule job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	_, err := s.TriggerTick(ctx, p.ScheduleID, p.ScheduleTime, p.LastTime)
	return err
}

// TriggerTick 为一次计划触发创建 run，同一 (schedule, time) 只会创建一次；计划已删除时返回 0
func (s *Scheduler) TriggerTick(ctx context.Context, scheduleID uint64, at time.Time, last *time.Time) (uint64, error) {
	at = at.UTC()
	sched, err := s.repo.GetByID(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	if sched == nil {
		s.logger.Info("schedule deleted, tick dropped", zap.Uint64("schedule_id", scheduleID))
		return 0, nil
	}

	created, err := s.repo.CreateTick(ctx, &domain.Tick{ScheduleID: scheduleID, ScheduleTime: at, CreatedAt: s.now()})
	if err != nil {
		return 0, fmt.Errorf("create tick: %w", err)
	}
	if !created {
		tick, err := s.repo.GetTick(ctx, scheduleID, at)
		if err != nil {
			return 0, err
		}
		if tick != nil && tick.RunID != 0 {
			return tick.RunID, nil
		}
	}

	payload, err := json.Marshal(Payload{
		ScheduleID:    sched.FriendlyID,
		Timestamp:     at,
		LastTimestamp: last,
		Timezone:      sched.Timezone,
		Payload:       sched.Payload,
	})
	if err != nil {
		return 0, err
	}
	res, err := s.trigger.Trigger(ctx, engine.TriggerRequest{
		EnvironmentID:  sched.EnvironmentID,
		OrganizationID: sched.OrganizationID,
		TaskIdentifier: sched.TaskIdentifier,
		Payload:        payload,
		PayloadType:    "application/json",
		IdempotencyKey: tickKey(scheduleID, at),
		Tags:           []string{"schedule:" + sched.FriendlyID},
	})
	if err != nil {
		return 0, fmt.Errorf("trigger schedule %s: %w", sched.FriendlyID, err)
	}
	if err := s.repo.SetTickRun(ctx, scheduleID, at, res.Run.ID); err != nil {
		return 0, fmt.Errorf("record tick run: %w", err)
	}
	s.logger.Info("schedule triggered",
		zap.String("schedule", sched.FriendlyID),
		zap.Time("schedule_time", at),
		zap.Uint64("run_id", res.Run.ID),
		zap.Bool("cached", res.Cached))
	return res.Run.ID, nil
}
