// Package journal 命令执行日志（PostgreSQL，经 GORM 访问）
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	cfgpkg "github.com/eifionsleith/Kittybyte-IoT/internal/config"
)

// MaxRecent Recent 单次返回上限
const MaxRecent = 500

// CommandRecord 映射 command_journal 表
// 不使用 gorm.Model，显式声明每个字段
type CommandRecord struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	// 服务层请求ID（uuid）
	RequestID string `gorm:"column:request_id;type:varchar(36);not null;uniqueIndex" json:"request_id"`
	// 命令种类 simple_tone|melody|dispense
	Command       string `gorm:"column:command;type:varchar(32);not null;index" json:"command"`
	CorrelationID int16  `gorm:"column:correlation_id;not null" json:"correlation_id"`
	// 命令参数（JSON）
	Params string `gorm:"column:params;type:text" json:"params"`
	// 结果状态 completed|device_error|timeout|failed
	Status       string  `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	ResponseCode *int16  `gorm:"column:response_code" json:"response_code,omitempty"`
	Value        *int64  `gorm:"column:value" json:"value,omitempty"`
	Error        *string `gorm:"column:error;type:text" json:"error,omitempty"`
	DurationMs   int64   `gorm:"column:duration_ms;not null" json:"duration_ms"`
	// 审计字段
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (CommandRecord) TableName() string { return "command_journal" }

// Store 命令日志读写
type Store interface {
	Record(ctx context.Context, rec *CommandRecord) error
	Recent(ctx context.Context, limit int) ([]CommandRecord, error)
}

// Repository 基于 GORM 的 Store 实现
type Repository struct {
	db *gorm.DB
}

// NewRepository 使用给定 *gorm.DB
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate 创建或更新 command_journal 表
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&CommandRecord{})
}

// Record 写入一条记录
func (r *Repository) Record(ctx context.Context, rec *CommandRecord) error {
	if rec == nil {
		return errors.New("nil record")
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert command record: %w", err)
	}
	return nil
}

// Recent 最近的记录，按时间倒序
func (r *Repository) Recent(ctx context.Context, limit int) ([]CommandRecord, error) {
	limit = clampLimit(limit)
	var out []CommandRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query command records: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > MaxRecent {
		return MaxRecent
	}
	return limit
}

// DB 命令日志数据库句柄：pgx 连接池 + 其上的 GORM
type DB struct {
	Pool *pgxpool.Pool
	Gorm *gorm.DB
	Repo *Repository
}

// Open 建立连接池，经 pgx stdlib 适配给 GORM，并按需迁移
func Open(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := NewPool(ctx, cfg, log.Named("pgx"))
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	repo := NewRepository(gdb)
	if cfg.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			log.Error("db migrate error", zap.Error(err))
			pool.Close()
			return nil, fmt.Errorf("migrate command journal: %w", err)
		}
		log.Info("command journal migrated")
	}
	return &DB{Pool: pool, Gorm: gdb, Repo: repo}, nil
}

// Close 关闭 GORM 底层连接与连接池
func (d *DB) Close() {
	if d == nil {
		return
	}
	if sqlDB, err := d.Gorm.DB(); err == nil {
		_ = sqlDB.Close()
	}
	d.Pool.Close()
}

// Nop 未启用数据库时使用
type Nop struct{}

func (Nop) Record(context.Context, *CommandRecord) error         { return nil }
func (Nop) Recent(context.Context, int) ([]CommandRecord, error) { return nil, nil }
