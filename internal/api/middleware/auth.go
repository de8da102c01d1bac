package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jobs/runengine/internal/dto/response"
	"github.com/jobs/runengine/pkg/config"
)

// HeaderWorkerInstanceID worker 请求携带的实例 id
const HeaderWorkerInstanceID = "x-worker-instance-id"

const (
	workerGroupKey = "runengine.worker_group"
	environmentKey = "runengine.environment"
)

// Environment API key 对应的环境
type Environment struct {
	ID             string
	OrganizationID string
}

func bearerToken(c *gin.Context) string {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenEqual(a, b string) bool {
	return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorResponse{
		Code:    "UNAUTHORIZED",
		Message: message,
	})
}

// WorkerAuth 校验 worker group token
func WorkerAuth(groups []config.WorkerGroupConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		for _, g := range groups {
			if tokenEqual(token, g.Token) {
				c.Set(workerGroupKey, g)
				c.Next()
				return
			}
		}
		unauthorized(c, "invalid worker group token")
	}
}

// APIKeyAuth 校验环境 API key
func APIKeyAuth(keys []config.APIKeyConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		for _, k := range keys {
			if tokenEqual(token, k.Key) {
				c.Set(environmentKey, Environment{ID: k.EnvironmentID, OrganizationID: k.OrganizationID})
				c.Next()
				return
			}
		}
		unauthorized(c, "invalid api key")
	}
}

// WorkerGroup 当前请求的 worker group，只在 WorkerAuth 之后可用
func WorkerGroup(c *gin.Context) config.WorkerGroupConfig {
	return c.MustGet(workerGroupKey).(config.WorkerGroupConfig)
}

// CurrentEnvironment 当前请求的环境，只在 APIKeyAuth 之后可用
func CurrentEnvironment(c *gin.Context) Environment {
	return c.MustGet(environmentKey).(Environment)
}
