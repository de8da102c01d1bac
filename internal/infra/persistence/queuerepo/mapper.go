package queuerepo

import (
	domain "github.com/jobs/runengine/internal/biz/queue"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

func (po *QueuePo) FromDomain(in *domain.Definition) *QueuePo {
	out := &QueuePo{
		Model: commonrepo.Model{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		EnvironmentID:                 in.EnvironmentID,
		Name:                          in.Name,
		ConcurrencyLimit:              in.ConcurrencyLimit,
		Weight:                        in.Weight,
		ReleaseConcurrencyOnWaitpoint: in.ReleaseConcurrencyOnWaitpoint,
		Paused:                        in.Paused,
	}
	if in.RateLimit != nil {
		rl := datatypes.NewJSONType(*in.RateLimit)
		out.RateLimit = &rl
	}
	return out
}

func (po *QueuePo) ToDomain() *domain.Definition {
	out := &domain.Definition{
		ID:                            po.ID,
		CreatedAt:                     po.CreatedAt,
		UpdatedAt:                     po.UpdatedAt,
		EnvironmentID:                 po.EnvironmentID,
		Name:                          po.Name,
		ConcurrencyLimit:              po.ConcurrencyLimit,
		Weight:                        po.Weight,
		ReleaseConcurrencyOnWaitpoint: po.ReleaseConcurrencyOnWaitpoint,
		Paused:                        po.Paused,
	}
	if po.RateLimit != nil {
		rl := po.RateLimit.Data()
		out.RateLimit = &rl
	}
	return out
}
