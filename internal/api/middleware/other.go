package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/domain/errs"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/internal/runlock"
	"go.uber.org/zap"
)

// ErrorHandlingMiddleware 统一错误处理中间件
func ErrorHandlingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method))

				c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorResponse{
					Code:    "INTERNAL_ERROR",
					Message: "An internal error occurred",
				})
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, body := ErrorResponse(err)
		fields := []zap.Field{
			zap.Error(err),
			zap.Int("status", status),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		c.JSON(status, body)
	}
}

// ErrorResponse 根据错误类型返回状态码与响应体
func ErrorResponse(err error) (int, response.ErrorResponse) {
	resp := response.ErrorResponse{Message: err.Error(), Retryable: errs.IsRetryable(err)}

	var (
		validation *errs.ServiceValidationError
		duplicate  *errs.RunDuplicateIdempotencyKeyError
		token      *errs.RunOneTimeUseTokenError
		missing    *errs.MessageNotFoundError
	)
	switch {
	case errors.As(err, &validation):
		resp.Code = validation.Code()
		return validation.HTTPStatus(), resp
	case errors.As(err, &duplicate):
		resp.Code = duplicate.Code()
		return http.StatusConflict, resp
	case errors.As(err, &token):
		resp.Code = token.Code()
		return http.StatusConflict, resp
	case errors.As(err, &missing),
		errors.Is(err, errs.ErrRunNotFound),
		errors.Is(err, errs.ErrWaitpointNotFound),
		errors.Is(err, errs.ErrQueueNotFound),
		errors.Is(err, errs.ErrScheduleNotFound),
		errors.Is(err, errs.ErrWorkerNotFound):
		resp.Code = "NOT_FOUND"
		return http.StatusNotFound, resp
	case errors.Is(err, runlock.ErrLockTimeout):
		resp.Code = "LOCK_TIMEOUT"
		return http.StatusConflict, resp
	case errors.Is(err, errs.ErrStaleSnapshot):
		resp.Code = "STALE_SNAPSHOT"
		return http.StatusConflict, resp
	case errors.Is(err, errs.ErrRunFinished):
		resp.Code = "RUN_FINISHED"
		return http.StatusConflict, resp
	case errors.Is(err, errs.ErrRunCancelled):
		resp.Code = "RUN_CANCELLED"
		return http.StatusConflict, resp
	case errors.Is(err, errs.ErrWaitpointAlreadyCompleted):
		resp.Code = "WAITPOINT_ALREADY_COMPLETED"
		return http.StatusConflict, resp
	case errors.Is(err, errs.ErrUnauthorized):
		resp.Code = "UNAUTHORIZED"
		return http.StatusUnauthorized, resp
	}
	if resp.Retryable {
		resp.Code = "RETRYABLE"
		return http.StatusConflict, resp
	}
	return http.StatusInternalServerError, response.ErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "An error occurred while processing your request",
	}
}

// Cors 允许所有来源，worker 与客户端均使用 bearer token
func Cors() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", HeaderWorkerInstanceID}
	return cors.New(config)
}
