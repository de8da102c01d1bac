package commonrepo

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DB 仓储实际用到的 gorm 入口。*gorm.DB 与事务内的 tx 都满足该接口，
// 链式调用之后的方法直接作用在返回的 *gorm.DB 上
type DB interface {
	WithContext(ctx context.Context) *gorm.DB
	Transaction(fn func(tx *gorm.DB) error, opts ...*sql.TxOptions) error

	Model(value any) *gorm.DB
	Where(query any, args ...any) *gorm.DB
	Clauses(conds ...clause.Expression) *gorm.DB
	Create(value any) *gorm.DB
	Delete(value any, conds ...any) *gorm.DB
}

var _ DB = (*gorm.DB)(nil)
