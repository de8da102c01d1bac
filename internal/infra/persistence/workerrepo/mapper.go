package workerrepo

import (
	domain "github.com/jobs/runengine/internal/biz/workerinstance"
)

func (po *WorkerInstance) FromDomain(in *domain.WorkerInstance) *WorkerInstance {
	return &WorkerInstance{
		ID:                in.ID,
		CreatedAt:         in.CreatedAt,
		Name:              in.Name,
		WorkerGroup:       in.WorkerGroup,
		EnvironmentID:     in.EnvironmentID,
		DeploymentVersion: in.DeploymentVersion,
		Status:            in.Status,
		LastHeartbeatAt:   in.LastHeartbeatAt,
		Metadata:          in.Metadata,
	}
}

func (po *WorkerInstance) ToDomain() *domain.WorkerInstance {
	return &domain.WorkerInstance{
		ID:                po.ID,
		CreatedAt:         po.CreatedAt,
		Name:              po.Name,
		WorkerGroup:       po.WorkerGroup,
		EnvironmentID:     po.EnvironmentID,
		DeploymentVersion: po.DeploymentVersion,
		Status:            po.Status,
		LastHeartbeatAt:   po.LastHeartbeatAt,
		Metadata:          po.Metadata,
	}
}
