package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/api/middleware"
	"github.com/jobs/runengine/pkg/config"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
}

func NewServer(
	cfg config.Config,
	workerAPI *WorkerAPI,
	runAPI *RunAPI,
	waitpointAPI *WaitpointAPI,
	queueAPI *QueueAPI,
	scheduleAPI *ScheduleAPI,
	commonAPI *CommonAPI,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.ErrorHandlingMiddleware(logger))
	s.router.Use(middleware.Cors())

	commonAPI.Bind(s.router)

	// worker 协议
	workers := s.router.Group("", middleware.WorkerAuth(cfg.Auth.WorkerGroups))
	workerAPI.Bind(workers)

	// 客户端 API
	v1 := s.router.Group("/api/v1", middleware.APIKeyAuth(cfg.Auth.APIKeys))
	runAPI.Bind(v1)
	waitpointAPI.Bind(v1)
	queueAPI.Bind(v1)
	scheduleAPI.Bind(v1)

	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
