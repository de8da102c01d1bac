package commonrepo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jobs/runengine/internal/domain/errs"
	"gorm.io/gorm"
)

// IsDuplicateKey 唯一索引冲突。mysql 与 sqlite 驱动的报错文本不同，都需要识别
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, errs.ErrDuplicateRecord) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

// TranslateError 把唯一索引冲突转换为 errs.ErrDuplicateRecord
func TranslateError(err error) error {
	if IsDuplicateKey(err) && !errors.Is(err, errs.ErrDuplicateRecord) {
		return fmt.Errorf("%w: %v", errs.ErrDuplicateRecord, err)
	}
	return err
}
