package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/jobs/runengine/internal/domain/errs"
)

var Provider = wire.NewSet(
	NewWorkerAPI,
	NewRunAPI,
	NewWaitpointAPI,
	NewQueueAPI,
	NewScheduleAPI,
	NewCommonAPI,
	NewServer,
)

func onGinBind(c *gin.Context, val any, typ string) bool {
	var err error
	switch typ {
	case "JSON":
		// 空 body 视为空对象
		if c.Request.ContentLength == 0 {
			return true
		}
		err = c.ShouldBindJSON(val)
	case "QUERY":
		err = c.ShouldBindQuery(val)
	default:
		err = c.ShouldBind(val)
	}
	if err != nil {
		_ = c.Error(errs.NewValidationError("%v", err))
		return false
	}
	return true
}

// onGinResponse 出错时交给 ErrorHandlingMiddleware 渲染
func onGinResponse[T any](c *gin.Context, data T, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func withJSON[Req, Resp any](fn func(*gin.Context, Req) (Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Req
		if !onGinBind(c, &req, "JSON") {
			return
		}
		resp, err := fn(c, req)
		onGinResponse(c, resp, err)
	}
}

func withQuery[Req, Resp any](fn func(*gin.Context, Req) (Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Req
		if !onGinBind(c, &req, "QUERY") {
			return
		}
		resp, err := fn(c, req)
		onGinResponse(c, resp, err)
	}
}

func withContext[Resp any](fn func(*gin.Context) (Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := fn(c)
		onGinResponse(c, resp, err)
	}
}
