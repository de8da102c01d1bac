package commonrepo

import (
	"time"

	"github.com/jobs/runengine/internal/pkg/idx"
	"gorm.io/gorm"
)

// Model 各表公共列。主键是雪花 id，不依赖数据库自增
type Model struct {
	ID        uint64    `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time `gorm:"index;autoCreateTime"`
	UpdatedAt time.Time `gorm:"index;autoUpdateTime"`
}

// BeforeCreate 未分配主键的记录在写入前补一个雪花 id
func (m *Model) BeforeCreate(*gorm.DB) error {
	if m.ID == 0 {
		m.ID = idx.NextID()
	}
	return nil
}
