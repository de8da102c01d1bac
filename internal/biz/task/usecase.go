package task

import (
	"context"
	"errors"

	"github.com/google/wire"
	"github.com/jobs/runengine/internal/pkg/idx"
)

var Provider = wire.NewSet(NewUsecase)

type Usecase struct {
	repo Repo
}

func NewUsecase(repo Repo) *Usecase {
	return &Usecase{repo: repo}
}

// Register worker 连接时登记其版本中的全部任务
func (u *Usecase) Register(ctx context.Context, environmentID, version string, tasks []*Task) error {
	for _, t := range tasks {
		if t.Identifier == "" {
			return errors.New("task identifier is required")
		}
		if t.ID == 0 {
			t.ID = idx.NextID()
		}
		t.EnvironmentID = environmentID
		t.DeploymentVersion = version
		if t.Status == "" {
			t.Status = TaskStatusActive
		}
		if err := u.repo.Upsert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Get 不存在时返回 nil
func (u *Usecase) Get(ctx context.Context, environmentID, identifier string) (*Task, error) {
	return u.repo.Get(ctx, environmentID, identifier)
}

func (u *Usecase) List(ctx context.Context, filter *TaskFilter) ([]*Task, error) {
	return u.repo.List(ctx, filter)
}

func (u *Usecase) Pause(ctx context.Context, environmentID, identifier string) error {
	task, err := u.repo.Get(ctx, environmentID, identifier)
	if err != nil {
		return err
	} else if task == nil {
		return errors.New("task not found")
	}
	patch, err := task.Pause()
	if err != nil {
		return err
	}
	return u.repo.Update(ctx, task.ID, patch)
}

func (u *Usecase) Resume(ctx context.Context, environmentID, identifier string) error {
	task, err := u.repo.Get(ctx, environmentID, identifier)
	if err != nil {
		return err
	} else if task == nil {
		return errors.New("task not found")
	}
	patch, err := task.Resume()
	if err != nil {
		return err
	}
	return u.repo.Update(ctx, task.ID, patch)
}
