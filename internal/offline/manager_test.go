package offline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/bukudoa/cache"
	"github.com/briangreenhill/bukudoa/internal/clients"
	"github.com/briangreenhill/bukudoa/internal/release"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{CacheVersion: "v1", Storage: cache.NewMemoryStorage(), Clients: &fakeClients{}, Origin: "not a url"})
	assert.Error(t, err)
}

func TestInstall_IdempotentUnion(t *testing.T) {
	storage := cache.NewMemoryStorage()
	manifest := []release.ManifestEntry{
		{URL: "/assets/index-abc.js", Revision: "1"},
		{URL: "/index.html"},
		{URL: "/assets/index-abc.js#dup"},
	}

	// A leftover entry from an earlier build of the same version
	static, err := storage.Open(context.Background(), "buku-doa-v2.0.0-static")
	require.NoError(t, err)
	require.NoError(t, static.Put(context.Background(), testOrigin+"/assets/old.js", &cache.Entry{Status: 200, Body: []byte("old")}))

	want := []string{
		testOrigin + "/",
		testOrigin + "/index.html",
		testOrigin + "/assets/index-abc.js",
	}

	for i := 0; i < 2; i++ {
		h := newHarness(t, func(o *Options) {
			o.Storage = storage
			o.Precache = manifest
			o.SkipWaiting = false
		})
		h.serveShell()
		h.mt.RegisterResponder(http.MethodGet, testUpstream+"/assets/index-abc.js",
			func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, "no-cache", req.Header.Get("Cache-Control"))
				assert.Equal(t, "no-cache", req.Header.Get("Pragma"))
				return httpmock.NewStringResponse(200, "console.log(1)"), nil
			})

		require.NoError(t, h.m.Install(context.Background()))
		assert.Equal(t, StateWaiting, h.m.State())
		assert.Equal(t, 1, h.calls(http.MethodGet, testUpstream+"/assets/index-abc.js"), "duplicates fetched once")

		keys, err := static.Keys(context.Background())
		require.NoError(t, err)
		assert.ElementsMatch(t, want, keys, "install %d", i+1)
	}
}

func TestInstall_BestEffort(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Precache = []release.ManifestEntry{{URL: "/missing.png"}}
	})
	h.mt.RegisterResponder(http.MethodGet, testUpstream+"/missing.png", httpmock.NewStringResponder(404, "nope"))
	h.register(t)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PrecacheFailures))
	_, err := h.storage.Match(context.Background(), testOrigin+"/missing.png")
	assert.ErrorIs(t, err, cache.ErrCacheNotFound)
	_, err = h.storage.Match(context.Background(), testOrigin+"/index.html")
	assert.NoError(t, err)
}

func TestInstall_Strict(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.StrictPrecache = true
		o.Precache = []release.ManifestEntry{{URL: "/missing.png"}}
	})
	h.serveShell()
	h.mt.RegisterResponder(http.MethodGet, testUpstream+"/missing.png", httpmock.NewStringResponder(500, "boom"))

	err := h.m.Register(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUnregistered, h.m.State())

	has, err := h.storage.Has(context.Background(), h.m.Generation().Static())
	require.NoError(t, err)
	assert.False(t, has, "partial static partition is dropped")
	assert.Zero(t, h.clients.claims)
}

func TestActivate_PurgesStaleGenerationsBeforeClaim(t *testing.T) {
	storage := cache.NewMemoryStorage()
	ctx := context.Background()
	for _, name := range []string{"buku-doa-v1.0.0-static", "buku-doa-v1.0.0-api", "other-app-static"} {
		p, err := storage.Open(ctx, name)
		require.NoError(t, err)
		require.NoError(t, p.Put(ctx, testOrigin+"/old.js", &cache.Entry{Status: 200, Body: []byte("v1")}))
	}

	h := newHarness(t, func(o *Options) { o.Storage = storage })
	h.clients.onClaim = func() {
		for _, name := range []string{"buku-doa-v1.0.0-static", "buku-doa-v1.0.0-api"} {
			has, err := storage.Has(ctx, name)
			assert.NoError(t, err)
			assert.False(t, has, "%s still present at claim time", name)
		}
	}
	h.register(t)

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"other-app-static", "buku-doa-v2.0.0-static"}, names)
	assert.Equal(t, 1, h.clients.claims)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.PartitionsDeleted))

	_, err = storage.Match(ctx, testOrigin+"/old.js")
	require.NoError(t, err, "foreign namespace survives")
	p, _ := storage.Open(ctx, "other-app-static")
	_, _ = p.Delete(ctx, testOrigin+"/old.js")
	_, err = storage.Match(ctx, testOrigin+"/old.js")
	assert.ErrorIs(t, err, cache.ErrCacheNotFound, "old generation no longer retrievable")
}

func TestSkipWaiting(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SkipWaiting = false })
	h.serveShell()

	require.NoError(t, h.m.Register(context.Background()))
	assert.Equal(t, StateWaiting, h.m.State())
	assert.Zero(t, h.clients.claims)

	require.NoError(t, h.m.HandleMessage(context.Background(), Message{Type: MsgSkipWaiting}, nil))
	assert.Equal(t, StateActive, h.m.State())
	assert.Equal(t, 1, h.clients.claims)

	// Repeated requests are harmless once active
	require.NoError(t, h.m.SkipWaiting(context.Background()))
	assert.Equal(t, 1, h.clients.claims)
}

func TestSkipWaiting_BeforeInstall(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SkipWaiting = false })
	h.serveShell()

	require.NoError(t, h.m.SkipWaiting(context.Background()))
	assert.Equal(t, StateUnregistered, h.m.State())

	require.NoError(t, h.m.Register(context.Background()))
	assert.Equal(t, StateActive, h.m.State())
}

func TestInstall_Twice(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)
	assert.ErrorIs(t, h.m.Install(context.Background()), ErrBadState)
}

func TestRetire(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)
	h.m.Retire()
	assert.Equal(t, StateRedundant, h.m.State())

	req, _ := http.NewRequest(http.MethodGet, testOrigin+"/index.html", nil)
	resp, err := h.m.Fetch(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Empty(t, resp.Header.Get(cache.FromCacheHeader), "retired manager bypasses the cache")
	assert.Equal(t, 2, h.calls(http.MethodGet, testUpstream+"/index.html"))
}

func TestHandleMessage_GetVersion(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.CacheVersion = "app-v2.0.0-static"
		o.Namespace = "app-"
	})
	reply := &replyRecorder{}

	require.NoError(t, h.m.HandleMessage(context.Background(), Message{Type: MsgGetVersion}, reply))
	assert.Equal(t, []any{VersionReply{Version: "app-v2.0.0"}}, reply.msgs)
	assert.Zero(t, h.mt.GetTotalCallCount(), "no network access")

	assert.Error(t, h.m.HandleMessage(context.Background(), Message{Type: MsgGetVersion}, nil))
	assert.ErrorIs(t, h.m.HandleMessage(context.Background(), Message{Type: "PING"}, reply), ErrUnknownMessage)
}

func TestPushAndClick(t *testing.T) {
	notifier := &fakeNotifier{}
	h := newHarness(t, func(o *Options) { o.Notifier = notifier })
	ctx := context.Background()

	n, err := h.m.Push(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Waktu sholat telah tiba", n.Body)
	assert.Equal(t, "Buku Doa Kecil", n.Title)
	assert.Equal(t, "/favicon/android-chrome-192x192.png", n.Icon)
	assert.Equal(t, []int{200, 100, 200}, n.Vibrate)
	assert.NotEmpty(t, n.ID)

	custom, err := h.m.Push(ctx, []byte("Subuh 04:32"))
	require.NoError(t, err)
	assert.Equal(t, "Subuh 04:32", custom.Body)
	assert.Len(t, notifier.sent, 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Notifications))

	st, err := h.m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Notifications)

	require.NoError(t, h.m.NotificationClick(ctx, n.ID))
	assert.Equal(t, []string{"/"}, h.clients.opened)
	assert.ErrorIs(t, h.m.NotificationClick(ctx, n.ID), ErrUnknownNotification)

	h.clients.openErr = clients.ErrNoClients
	err = h.m.NotificationClick(ctx, custom.ID)
	assert.True(t, errors.Is(err, clients.ErrNoClients))
	st, _ = h.m.Status(ctx)
	assert.Zero(t, st.Notifications, "notification closed even without a window")
}

func TestPush_FailedDeliveryIsForgotten(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("gotify down")}
	h := newHarness(t, func(o *Options) { o.Notifier = notifier })
	ctx := context.Background()

	n, err := h.m.Push(ctx, []byte("Maghrib"))
	require.Error(t, err)
	require.NotEmpty(t, n.ID)

	st, err := h.m.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Notifications)
	assert.ErrorIs(t, h.m.NotificationClick(ctx, n.ID), ErrUnknownNotification)
	assert.Empty(t, h.clients.opened)
}

func TestPush_UnclickedNotificationsExpire(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Push.TTL = 20 * time.Millisecond })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.m.Push(ctx, nil)
		require.NoError(t, err)
	}
	n, err := h.m.Push(ctx, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := h.m.Status(ctx)
		return err == nil && st.Notifications == 0
	}, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.m.NotificationClick(ctx, n.ID), ErrUnknownNotification)
}
