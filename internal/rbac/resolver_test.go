package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockdesk/internal/clientstore"
	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/permstore"
)

func TestResolveBuildsMapAndCaches(t *testing.T) {
	logger, _ := newTestLogger()
	lookups := newFakeLookups()
	lookups.assign("u1", "c1", "r1")
	lookups.grant("r1", modules.Dashboard, true)
	lookups.grant("r1", modules.Reports, true)
	lookups.grant("r1", modules.Administration, false)

	store, ctx := newClientStore(t, logger)
	perms, ok := NewResolver(lookups, logger).Resolve(ctx, store, "u1", "c1")
	require.True(t, ok)
	want := modules.PermissionMap{modules.Dashboard: true, modules.Reports: true, modules.Administration: false}
	require.Equal(t, want, perms)
	require.Equal(t, &permstore.CachedPermissions{RoleID: "r1", Permissions: want}, store.Read(ctx))
}

func TestResolveEmptyRoleIsFullyRestricted(t *testing.T) {
	logger, _ := newTestLogger()
	lookups := newFakeLookups()
	lookups.assign("u1", "c1", "r1")

	store, ctx := newClientStore(t, logger)
	perms, ok := NewResolver(lookups, logger).Resolve(ctx, store, "u1", "c1")
	require.True(t, ok)
	require.NotNil(t, perms)
	require.Empty(t, perms)
	for _, k := range modules.All() {
		require.False(t, perms.Allowed(k))
	}
	require.NotNil(t, store.Read(ctx))
}

func TestResolveDuplicatesLastWriteWins(t *testing.T) {
	logger, _ := newTestLogger()
	lookups := newFakeLookups()
	lookups.assign("u1", "c1", "r1")
	lookups.grant("r1", modules.Reports, true)
	lookups.grant("r1", modules.Reports, false)
	lookups.grant("r1", modules.Dashboard, false)
	lookups.grant("r1", modules.Dashboard, true)

	perms, ok := NewResolver(lookups, logger).Resolve(context.Background(), nil, "u1", "c1")
	require.True(t, ok)
	require.False(t, perms.Allowed(modules.Reports))
	require.True(t, perms.Allowed(modules.Dashboard))
}

func TestResolveSkipsUnknownModules(t *testing.T) {
	logger, buf := newTestLogger()
	lookups := newFakeLookups()
	lookups.assign("u1", "c1", "r1")
	lookups.grant("r1", modules.Key("Payroll"), true)
	lookups.grant("r1", modules.Reports, true)

	perms, ok := NewResolver(lookups, logger).Resolve(context.Background(), nil, "u1", "c1")
	require.True(t, ok)
	require.Equal(t, modules.PermissionMap{modules.Reports: true}, perms)
	require.Contains(t, buf.String(), "skip unknown module")
}

func TestResolveFailures(t *testing.T) {
	boom := errors.New("connection reset")
	cases := map[string]struct {
		setup func(*fakeLookups)
		cause string
	}{
		"no role": {
			setup: func(f *fakeLookups) {},
			cause: ErrRoleNotFound.Error(),
		},
		"ambiguous role": {
			setup: func(f *fakeLookups) { f.assign("u1", "c1", "r1", "r2") },
			cause: ErrAmbiguousRole.Error(),
		},
		"role lookup error": {
			setup: func(f *fakeLookups) { f.roleErr = boom },
			cause: boom.Error(),
		},
		"permission lookup error": {
			setup: func(f *fakeLookups) {
				f.assign("u1", "c1", "r1")
				f.entriesErr = boom
			},
			cause: boom.Error(),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			logger, buf := newTestLogger()
			lookups := newFakeLookups()
			tc.setup(lookups)
			store, ctx := newClientStore(t, logger)

			perms, ok := NewResolver(lookups, logger).Resolve(ctx, store, "u1", "c1")
			require.False(t, ok)
			require.Nil(t, perms)
			require.Nil(t, store.Read(ctx), "failed resolutions must not touch the cache")
			require.Contains(t, buf.String(), "resolve permissions")
			require.Contains(t, buf.String(), tc.cause)
		})
	}
}

func TestResolveMissingIdentity(t *testing.T) {
	logger, _ := newTestLogger()
	lookups := newFakeLookups()
	_, ok := NewResolver(lookups, logger).Resolve(context.Background(), nil, "", "c1")
	require.False(t, ok)
	require.Zero(t, lookups.remoteCalls())
}

func TestResolveSwallowsCacheWriteFailure(t *testing.T) {
	logger, buf := newTestLogger()
	lookups := newFakeLookups()
	lookups.assign("u1", "c1", "r1")
	lookups.grant("r1", modules.Reports, true)

	storage := quotaStorage{Storage: clientstore.NewMemoryBackend(time.Hour, 0).Scope("c")}
	perms, ok := NewResolver(lookups, logger).Resolve(context.Background(), permstore.New(storage, logger), "u1", "c1")
	require.True(t, ok)
	require.True(t, perms.Allowed(modules.Reports))
	require.Contains(t, buf.String(), "cache permissions")
	require.Contains(t, buf.String(), "quota exceeded")
}

func TestResolveConcurrentCallersGetIndependentMaps(t *testing.T) {
	logger, _ := newTestLogger()
	lookups := newFakeLookups()
	lookups.assign("u1", "c1", "r1")
	lookups.grant("r1", modules.Reports, true)
	resolver := NewResolver(lookups, logger)

	var wg sync.WaitGroup
	results := make([]modules.PermissionMap, 8)
	oks := make([]bool, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], oks[i] = resolver.Resolve(context.Background(), nil, "u1", "c1")
		}(i)
	}
	wg.Wait()
	for _, ok := range oks {
		require.True(t, ok)
	}
	results[0][modules.Administration] = true
	for _, perms := range results[1:] {
		require.False(t, perms.Allowed(modules.Administration))
		require.True(t, perms.Allowed(modules.Reports))
	}
}

func TestResolveHonoursContext(t *testing.T) {
	logger, _ := newTestLogger()
	lookups := newFakeLookups()
	lookups.assign("u1", "c1", "r1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := NewResolver(lookups, logger).Resolve(ctx, nil, "u1", "c1")
	require.False(t, ok)
}

func TestResolveSharedLookupSurvivesFirstCallerCancel(t *testing.T) {
	logger, _ := newTestLogger()
	lookups := newFakeLookups()
	lookups.assign("u1", "c1", "r1")
	lookups.grant("r1", modules.Reports, true)
	gate := make(chan struct{})
	lookups.roleGate = gate
	resolver := NewResolver(lookups, logger)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan bool, 1)
	go func() {
		_, ok := resolver.Resolve(firstCtx, nil, "u1", "c1")
		firstDone <- ok
	}()
	require.Eventually(t, func() bool { return lookups.roleCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		perms modules.PermissionMap
		ok    bool
	}
	secondDone := make(chan outcome, 1)
	go func() {
		perms, ok := resolver.Resolve(context.Background(), nil, "u1", "c1")
		secondDone <- outcome{perms, ok}
	}()
	// Let the second caller join the lookup in flight.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	require.False(t, <-firstDone)

	close(gate)
	second := <-secondDone
	require.True(t, second.ok)
	require.True(t, second.perms.Allowed(modules.Reports))
	require.Equal(t, int64(1), lookups.roleCalls.Load())
}
