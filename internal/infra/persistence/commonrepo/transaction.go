package commonrepo

import (
	"context"

	"gorm.io/gorm"
)

// Transaction 跨仓储的事务。fn 内通过 ctx 取到的 DB 都在同一事务中
type Transaction interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// DefaultRepo 内嵌到各仓储，按 ctx 选择事务连接或根连接
type DefaultRepo struct {
	root DB
}

func NewDefaultRepo(db DB) DefaultRepo {
	return DefaultRepo{root: db}
}

// NewTransaction 供引擎注入的事务执行器
func NewTransaction(db DB) Transaction {
	repo := NewDefaultRepo(db)
	return &repo
}

// Execute 嵌套调用时 gorm 使用保存点，内层失败只回滚内层。
// 唯一索引冲突统一转换为 errs.ErrDuplicateRecord
func (r *DefaultRepo) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	err := r.Db(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	return TranslateError(err)
}

func (r *DefaultRepo) Db(ctx context.Context) DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.root.WithContext(ctx)
}
