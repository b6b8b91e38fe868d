package claim

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"ledgermail/backend/internal/claim/migrations"
	"ledgermail/backend/internal/domain"
)

// uniqueViolation PostgreSQL 唯一约束冲突错误码
const uniqueViolation = "23505"

// PostgresRepository PostgreSQL 领取记录存储
//
// claims.code 为主键，保证领取码在有效记录中唯一；兑换时在同一事务内删除记录并写入 claims_consumed。
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository 基于已有连接创建存储
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgres 打开 PostgreSQL 连接并执行迁移
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	repo := NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return repo, nil
}

// Migrate 执行表结构迁移
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, r.db, ".")
}

// Close 关闭连接
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Insert 写入记录
func (r *PostgresRepository) Insert(ctx context.Context, record domain.ClaimRecord) error {
	assets, err := json.Marshal(record.Assets)
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO claims (code, tx_ref, recipient, sender, assets, is_registered_at_send_time, is_direct_transfer, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.Code, record.TxRef, record.Recipient, record.Sender, assets,
		record.IsRegisteredAtSendTime, record.IsDirectTransfer, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateCode
		}
		return fmt.Errorf("db error: %w", err)
	}

	// 同一领取码重新发放后，旧的兑换日志不再适用
	if _, err := tx.ExecContext(ctx, `DELETE FROM claims_consumed WHERE code = $1`, record.Code); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get 读取有效记录
func (r *PostgresRepository) Get(ctx context.Context, code string) (*domain.ClaimRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT code, tx_ref, recipient, sender, assets, is_registered_at_send_time, is_direct_transfer, created_at
		 FROM claims WHERE code = $1`, code)
	return scanRecord(row)
}

// Exists 领取码是否被占用
func (r *PostgresRepository) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM claims WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// Consume 删除记录并写入兑换日志
func (r *PostgresRepository) Consume(ctx context.Context, code, consumedBy string, at time.Time) (*domain.ClaimRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`DELETE FROM claims WHERE code = $1
		 RETURNING code, tx_ref, recipient, sender, assets, is_registered_at_send_time, is_direct_transfer, created_at`, code)
	record, err := scanRecord(row)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO claims_consumed (code, recipient, consumed_by, consumed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (code) DO UPDATE SET recipient = EXCLUDED.recipient, consumed_by = EXCLUDED.consumed_by, consumed_at = EXCLUDED.consumed_at`,
		code, record.Recipient, consumedBy, at)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return record, nil
}

// LookupConsumption 查询兑换日志
func (r *PostgresRepository) LookupConsumption(ctx context.Context, code string) (*Consumption, error) {
	c := &Consumption{}
	err := r.db.QueryRowContext(ctx,
		`SELECT code, recipient, consumed_by, consumed_at FROM claims_consumed WHERE code = $1`, code).
		Scan(&c.Code, &c.Recipient, &c.ConsumedBy, &c.ConsumedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func scanRecord(row *sql.Row) (*domain.ClaimRecord, error) {
	record := &domain.ClaimRecord{}
	var assets []byte
	err := row.Scan(&record.Code, &record.TxRef, &record.Recipient, &record.Sender, &assets,
		&record.IsRegisteredAtSendTime, &record.IsDirectTransfer, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(assets) > 0 {
		if err := json.Unmarshal(assets, &record.Assets); err != nil {
			return nil, fmt.Errorf("failed to decode assets: %w", err)
		}
	}
	return record, nil
}
