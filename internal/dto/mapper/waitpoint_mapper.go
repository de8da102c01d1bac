package mapper

import (
	"github.com/jobs/runengine/internal/biz/waitpoint"
	"github.com/jobs/runengine/internal/dto/response"
)

func ToWaitpointResponse(w *waitpoint.Waitpoint) response.WaitpointResponse {
	return response.WaitpointResponse{
		ID:             w.FriendlyID,
		WaitpointID:    w.ID,
		Type:           string(w.Type),
		Status:         string(w.Status),
		IdempotencyKey: w.IdempotencyKey,
		Output:         w.Output,
		OutputIsError:  w.OutputIsError,
		CompletedAfter: w.CompletedAfter,
		CompletedAt:    w.CompletedAt,
	}
}
