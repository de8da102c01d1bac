package task

import (
	"errors"
	"time"

	"github.com/jobs/runengine/internal/retry"
)

// Task worker 上报的任务定义，触发时提供默认值
type Task struct {
	ID                 uint64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	EnvironmentID      string
	Identifier         string
	QueueName          string
	Retry              *retry.Config
	MaxDurationSeconds int
	DeploymentVersion  string
	Status             TaskStatus
}

func (t *Task) Pause() (*TaskPatch, error) {
	if t.Status == TaskStatusPaused {
		return nil, errors.New("task is already paused")
	}
	t.Status = TaskStatusPaused
	return new(TaskPatch).WithStatus(t.Status), nil
}

func (t *Task) Resume() (*TaskPatch, error) {
	if t.Status == TaskStatusActive {
		return nil, errors.New("task is already active")
	}
	t.Status = TaskStatusActive
	return new(TaskPatch).WithStatus(t.Status), nil
}

type TaskPatch struct {
	Status *TaskStatus
}

func NewTaskPatch() *TaskPatch {
	return &TaskPatch{}
}

func (p *TaskPatch) WithStatus(status TaskStatus) *TaskPatch {
	p.Status = &status
	return p
}
