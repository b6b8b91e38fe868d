package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/storage"
)

func TestLocators(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("保存并按定位查询", func(t *testing.T) {
		require.NoError(t, store.SaveLocator(ctx, "0xABCD", "bafyone"))

		addr, err := store.GetLocator(ctx, "0xabcd")
		require.NoError(t, err)
		assert.Equal(t, "bafyone", addr)
	})

	t.Run("未保存返回不存在", func(t *testing.T) {
		_, err := store.GetLocator(ctx, "0xmissing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("参数为空", func(t *testing.T) {
		assert.ErrorIs(t, store.SaveLocator(ctx, "", "x"), storage.ErrInvalidArgument)
	})
}

func TestStatuses(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("按所有者隔离", func(t *testing.T) {
		require.NoError(t, store.SaveStatus(ctx, "alice", "1", domain.Status{Read: true}))
		require.NoError(t, store.SaveStatus(ctx, "bob", "1", domain.Status{Spam: true}))

		alice, err := store.ListStatuses(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, map[string]domain.Status{"1": {Read: true}}, alice)
	})

	t.Run("返回副本", func(t *testing.T) {
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, store.SaveStatus(ctx, "carol", "7", domain.Status{Deleted: true, DeletedAt: &at, Labels: []string{"x"}}))

		first, _ := store.ListStatuses(ctx, "carol")
		first["7"].Labels[0] = "mutated"

		second, _ := store.ListStatuses(ctx, "carol")
		assert.Equal(t, []string{"x"}, second["7"].Labels)
	})

	t.Run("没有记录返回空", func(t *testing.T) {
		out, err := store.ListStatuses(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
