package offline

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/briangreenhill/bukudoa/cache"
	"github.com/briangreenhill/bukudoa/internal/metrics"
	"github.com/briangreenhill/bukudoa/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testOrigin   = "https://app.test"
	testUpstream = "http://upstream.test"
)

type fakeClients struct {
	mu      sync.Mutex
	claims  int
	msgs    []any
	opened  []string
	openErr error
	onClaim func()
}

func (f *fakeClients) Claim() int {
	if f.onClaim != nil {
		f.onClaim()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	return 1
}

func (f *fakeClients) Broadcast(v any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, v)
	return 1
}

func (f *fakeClients) OpenWindow(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, url)
	return nil
}

func (f *fakeClients) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.msgs...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type replyRecorder struct {
	msgs []any
}

func (r *replyRecorder) PostMessage(v any) error {
	r.msgs = append(r.msgs, v)
	return nil
}

type harness struct {
	m       *Manager
	mt      *httpmock.MockTransport
	storage cache.Storage
	clients *fakeClients
	metrics *metrics.Metrics
}

// newHarness builds a manager over memory storage and a mock transport.
// Shell assets default to "/" and "/index.html".
func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		mt:      httpmock.NewMockTransport(),
		storage: cache.NewMemoryStorage(),
		clients: &fakeClients{},
		metrics: metrics.New(nil),
	}
	opts := Options{
		CacheVersion: "buku-doa-v2.0.0",
		Namespace:    "buku-doa-",
		Origin:       testOrigin,
		Upstream:     testUpstream,
		ShellAssets:  []string{"/", "/index.html"},
		SkipWaiting:  true,
		AppVersion:   "2.0.0",
		Storage:      h.storage,
		Client:       &http.Client{Transport: h.mt},
		Clients:      h.clients,
		Notifier:     &fakeNotifier{},
		Metrics:      h.metrics,
		Logger:       zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	if opts.Storage != nil {
		h.storage = opts.Storage
	}

	m, err := New(opts)
	require.NoError(t, err)
	h.m = m
	t.Cleanup(m.Wait)
	return h
}

// serveShell registers the default shell assets on the upstream
func (h *harness) serveShell() {
	h.mt.RegisterResponder(http.MethodGet, testUpstream+"/", httpmock.NewStringResponder(200, "<html>root</html>"))
	h.mt.RegisterResponder(http.MethodGet, testUpstream+"/index.html", httpmock.NewStringResponder(200, "<html>shell</html>"))
}

func (h *harness) register(t *testing.T) {
	t.Helper()
	h.serveShell()
	require.NoError(t, h.m.Register(context.Background()))
	require.Equal(t, StateActive, h.m.State())
}

func (h *harness) calls(method, url string) int {
	return h.mt.GetCallCountInfo()[method+" "+url]
}
