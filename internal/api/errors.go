package api

import (
	"fmt"

	"github.com/jobs/runengine/internal/domain/errs"
)

var (
	// 跨环境访问按不存在处理
	errRunNotInEnvironment       = fmt.Errorf("%w in this environment", errs.ErrRunNotFound)
	errWaitpointNotInEnvironment = fmt.Errorf("%w in this environment", errs.ErrWaitpointNotFound)
	errScheduleNotInEnvironment  = fmt.Errorf("%w in this environment", errs.ErrScheduleNotFound)
)
