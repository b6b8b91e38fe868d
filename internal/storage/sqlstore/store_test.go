package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"

	"ledgermail/backend/internal/config"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: db}), Options{})
	require.NoError(t, err)
	return store, mock
}

func TestNewStore(t *testing.T) {
	t.Run("缺少DSN", func(t *testing.T) {
		_, err := NewStore(config.DatabaseConfig{Type: "postgres"})
		assert.Error(t, err)
	})

	t.Run("不支持的数据库类型", func(t *testing.T) {
		_, err := NewStore(config.DatabaseConfig{Type: "oracle", DSN: "x"})
		assert.ErrorContains(t, err, "unsupported database type")
	})
}

func TestLocators(t *testing.T) {
	ctx := context.Background()

	t.Run("保存时使用upsert并统一小写", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO "locator_mappings" .* ON CONFLICT \("locator"\) DO UPDATE`).
			WithArgs("0xabcd", "bafyone", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.SaveLocator(ctx, "0xABCD", "bafyone"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("查询命中", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT \* FROM "locator_mappings" WHERE locator = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"locator", "full_address", "created_at"}).
				AddRow("0xabcd", "bafyone", time.Now()))

		addr, err := store.GetLocator(ctx, "0xabcd")
		require.NoError(t, err)
		assert.Equal(t, "bafyone", addr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("查询未命中", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT \* FROM "locator_mappings"`).
			WillReturnRows(sqlmock.NewRows([]string{"locator", "full_address", "created_at"}))

		_, err := store.GetLocator(ctx, "0xmissing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("数据库错误", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT \* FROM "locator_mappings"`).
			WillReturnError(errors.New("connection reset"))

		_, err := store.GetLocator(ctx, "0xabcd")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStatuses(t *testing.T) {
	ctx := context.Background()

	t.Run("保存状态", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO "status_records" .* ON CONFLICT \("owner","message_id"\) DO UPDATE`).
			WithArgs("alice", "42", `{"read":true,"spam":false,"archived":false,"deleted":false,"draft":false}`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.SaveStatus(ctx, "alice", "42", domain.Status{Read: true}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("列出状态并跳过损坏记录", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT \* FROM "status_records" WHERE owner = \$1`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"owner", "message_id", "payload", "updated_at"}).
				AddRow("alice", "1", `{"archived":true}`, time.Now()).
				AddRow("alice", "2", `not json`, time.Now()))

		out, err := store.ListStatuses(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, map[string]domain.Status{"1": {Archived: true}}, out)
	})

	t.Run("参数为空", func(t *testing.T) {
		store, _ := newMockStore(t)
		assert.ErrorIs(t, store.SaveStatus(ctx, "", "1", domain.Status{}), storage.ErrInvalidArgument)
	})
}
