package waitpointrepo

import (
	domain "github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
)

func (po *WaitpointPo) FromDomain(in *domain.Waitpoint) *WaitpointPo {
	out := &WaitpointPo{
		Model: commonrepo.Model{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
		},
		FriendlyID:       in.FriendlyID,
		Type:             in.Type,
		Status:           in.Status,
		EnvironmentID:    in.EnvironmentID,
		CompletedByRunID: in.CompletedByRunID,
		CompletedAfter:   in.CompletedAfter,
		Output:           in.Output,
		OutputIsError:    in.OutputIsError,
		CompletedAt:      in.CompletedAt,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		out.IdempotencyKey = &key
	}
	return out
}

func (po *WaitpointPo) ToDomain() *domain.Waitpoint {
	out := &domain.Waitpoint{
		ID:               po.ID,
		FriendlyID:       po.FriendlyID,
		CreatedAt:        po.CreatedAt,
		Type:             po.Type,
		Status:           po.Status,
		EnvironmentID:    po.EnvironmentID,
		CompletedByRunID: po.CompletedByRunID,
		CompletedAfter:   po.CompletedAfter,
		Output:           po.Output,
		OutputIsError:    po.OutputIsError,
		CompletedAt:      po.CompletedAt,
	}
	if po.IdempotencyKey != nil {
		out.IdempotencyKey = *po.IdempotencyKey
	}
	return out
}
