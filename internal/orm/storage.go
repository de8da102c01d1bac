package orm

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/wire"
	"github.com/jobs/runengine/internal/infra/persistence/commonrepo"
	"github.com/jobs/runengine/internal/infra/persistence/queuerepo"
	"github.com/jobs/runengine/internal/infra/persistence/runrepo"
	"github.com/jobs/runengine/internal/infra/persistence/schedulerepo"
	"github.com/jobs/runengine/internal/infra/persistence/taskrepo"
	"github.com/jobs/runengine/internal/infra/persistence/waitpointrepo"
	"github.com/jobs/runengine/internal/infra/persistence/workerrepo"
	"github.com/jobs/runengine/pkg/config"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Provider = wire.NewSet(New, ProvideDB, commonrepo.NewTransaction)

type Storage struct {
	db *gorm.DB
}

// Models 需要迁移的全部表
func Models() []any {
	return []any{
		&runrepo.TaskRunPo{},
		&runrepo.SnapshotPo{},
		&waitpointrepo.WaitpointPo{},
		&waitpointrepo.RunWaitpointPo{},
		&queuerepo.QueuePo{},
		&taskrepo.TaskPo{},
		&workerrepo.WorkerInstance{},
		&schedulerepo.SchedulePo{},
		&schedulerepo.TickPo{},
	}
}

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "mysql":
		dsn := cfg.DSN
		if dsn == "" || !strings.Contains(dsn, "@") {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		}
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func New(cfg config.DatabaseConfig) (*Storage, error) {
	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel(cfg.LogLevel)),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		// 统一使用 UTC，sqlite 中时间按字符串比较
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if strings.EqualFold(cfg.Driver, "sqlite") {
		// sqlite 只允许一个写连接
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
		sqlDB.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return &Storage{db: db}, nil
}

// NewMemory 打开一个独立的内存 sqlite 库并完成迁移，单机模式与测试使用
func NewMemory(name string) (*Storage, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	return New(config.DatabaseConfig{
		Driver:      "sqlite",
		DSN:         fmt.Sprintf("file:%s?mode=memory&cache=shared&_time_format=sqlite", name),
		AutoMigrate: true,
		LogLevel:    "silent",
	})
}

func ProvideDB(s *Storage) commonrepo.DB {
	return s.db
}

func (s *Storage) DB() *gorm.DB {
	return s.db
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Storage) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
