package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"ledgermail/backend/internal/config"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/storage"
)

// locatorRow 定位映射表
type locatorRow struct {
	Locator     string `gorm:"primaryKey;type:varchar(66)"`
	FullAddress string `gorm:"type:varchar(512);not null"`
	CreatedAt   time.Time
}

func (locatorRow) TableName() string { return "locator_mappings" }

// statusRow 邮件状态表，状态以 JSON 保存
type statusRow struct {
	Owner     string `gorm:"primaryKey;type:varchar(255)"`
	MessageID string `gorm:"primaryKey;type:varchar(80)"`
	Payload   string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (statusRow) TableName() string { return "status_records" }

// Options 连接池与迁移配置
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// Store 基于 GORM 的 SQL 存储（支持 PostgreSQL 和 MySQL）
type Store struct {
	db *gorm.DB
}

// NewStore 根据数据库配置创建存储并执行迁移
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Type)
	}

	return NewStoreWithDialector(dialector, Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		AutoMigrate:     true,
	})
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	store := &Store{db: db}
	if opts.AutoMigrate {
		if err := db.AutoMigrate(&locatorRow{}, &statusRow{}); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// SaveLocator 保存定位映射，已存在时覆盖
func (s *Store) SaveLocator(ctx context.Context, locator, fullAddress string) error {
	if locator == "" || fullAddress == "" {
		return storage.ErrInvalidArgument
	}

	row := locatorRow{Locator: strings.ToLower(locator), FullAddress: fullAddress}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "locator"}},
			DoUpdates: clause.AssignmentColumns([]string{"full_address"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save locator: %w", err)
	}
	return nil
}

// GetLocator 查询定位映射
func (s *Store) GetLocator(ctx context.Context, locator string) (string, error) {
	var row locatorRow
	err := s.db.WithContext(ctx).Where("locator = ?", strings.ToLower(locator)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("get locator: %w", err)
	}
	return row.FullAddress, nil
}

// SaveStatus 保存单封邮件状态，后写入者覆盖
func (s *Store) SaveStatus(ctx context.Context, owner, messageID string, status domain.Status) error {
	if owner == "" || messageID == "" {
		return storage.ErrInvalidArgument
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	row := statusRow{Owner: owner, MessageID: messageID, Payload: string(payload)}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

// ListStatuses 返回 owner 的全部状态，无法解码的记录被跳过
func (s *Store) ListStatuses(ctx context.Context, owner string) (map[string]domain.Status, error) {
	var rows []statusRow
	if err := s.db.WithContext(ctx).Where("owner = ?", owner).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}

	out := make(map[string]domain.Status, len(rows))
	for _, row := range rows {
		var st domain.Status
		if err := json.Unmarshal([]byte(row.Payload), &st); err != nil {
			continue
		}
		out[row.MessageID] = st
	}
	return out, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
