package permstore

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockdesk/internal/clientstore"
	"github.com/odyssey-erp/stockdesk/internal/modules"
)

func seedClients(t *testing.T, backend clientstore.Backend) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	require.NoError(t, New(backend.Scope("a"), logger).Write(ctx, "buyer", modules.PermissionMap{modules.Reports: true}))
	require.NoError(t, New(backend.Scope("a"), logger).SetRoleID(ctx, "buyer"))
	require.NoError(t, New(backend.Scope("b"), logger).Write(ctx, "clerk", modules.PermissionMap{modules.Dashboard: true}))
	require.NoError(t, New(backend.Scope("c"), logger).Write(ctx, "buyer", modules.PermissionMap{}))
	require.NoError(t, backend.Scope("d").Set(ctx, clientstore.KeyCachedPermissions, "{broken"))
}

func testInvalidateRole(t *testing.T, backend clientstore.Backend) {
	ctx := context.Background()
	seedClients(t, backend)
	logger := slog.New(slog.DiscardHandler)

	n, err := InvalidateRole(ctx, backend, "buyer")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.Nil(t, New(backend.Scope("a"), logger).Read(ctx))
	require.Equal(t, "buyer", New(backend.Scope("a"), logger).RoleID(ctx))
	require.NotNil(t, New(backend.Scope("b"), logger).Read(ctx))
	require.Nil(t, New(backend.Scope("c"), logger).Read(ctx))
	_, ok, err := backend.Scope("d").Get(ctx, clientstore.KeyCachedPermissions)
	require.NoError(t, err)
	require.False(t, ok)

	n, err = InvalidateRole(ctx, backend, "buyer")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestInvalidateRoleMemory(t *testing.T) {
	testInvalidateRole(t, clientstore.NewMemoryBackend(time.Hour, 0))
}

func TestInvalidateRoleRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	testInvalidateRole(t, clientstore.NewRedisBackend(client, time.Hour, 0))
}

func TestInvalidateRoleRequiresRole(t *testing.T) {
	_, err := InvalidateRole(context.Background(), clientstore.NewMemoryBackend(time.Hour, 0), "")
	require.ErrorIs(t, err, ErrNoRole)
}
