package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/internal/orm"
)

type ICommonAPI interface {
	// HealthCheck 健康检查
	// 检查服务是否健康
	// @GET(health)
	HealthCheck(ctx *gin.Context) (response.HealthResponse, error)
}

var _ ICommonAPI = (*CommonAPI)(nil)

type CommonAPI struct {
	storage *orm.Storage
}

func NewCommonAPI(storage *orm.Storage) *CommonAPI {
	return &CommonAPI{
		storage: storage,
	}
}

func (c *CommonAPI) Bind(r gin.IRouter) {
	r.GET("/health", withContext(c.HealthCheck))
}

func (c *CommonAPI) HealthCheck(ctx *gin.Context) (response.HealthResponse, error) {
	if err := c.storage.Ping(); err != nil {
		return response.HealthResponse{}, err
	}
	return response.HealthResponse{
		Status: "healthy",
		Time:   time.Now(),
	}, nil
}
