// Package offline implements the offline cache manager: the worker that
// installs a cache generation, routes fetches through it, purges older
// generations and tells open tabs when a new deployment is available.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/bukudoa/cache"
	"github.com/briangreenhill/bukudoa/internal/metrics"
	"github.com/briangreenhill/bukudoa/internal/notify"
	"github.com/briangreenhill/bukudoa/internal/release"
)

// Handler has one method per worker event. The HTTP layer and the job
// runner depend on this interface only.
type Handler interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
	HandleMessage(ctx context.Context, msg Message, reply Port) error
	Push(ctx context.Context, payload []byte) (notify.Notification, error)
	NotificationClick(ctx context.Context, id string) error
	CheckForUpdate(ctx context.Context) (bool, error)
}

// ClientSet is the client registration set as seen by the worker
type ClientSet interface {
	Claim() int
	Broadcast(v any) int
	OpenWindow(url string) error
}

// Port is a reply channel back to one client
type Port interface {
	PostMessage(v any) error
}

// PushOptions shape the notification shown for a push event
type PushOptions struct {
	Title       string
	DefaultBody string
	Icon        string
	// TTL bounds how long an unclicked notification stays clickable
	TTL time.Duration
}

// Options configure a Manager
type Options struct {
	// CacheVersion names this generation's partitions
	CacheVersion string
	// Namespace is the prefix shared by every generation
	Namespace string
	// Origin is the worker's own origin; other origins are cross-origin
	Origin string
	// Upstream serves same-origin requests on the network path
	Upstream string

	ShellAssets []string
	Precache    []release.ManifestEntry
	OfflinePage string

	// StrictPrecache aborts install when any asset fails to precache
	StrictPrecache bool
	// SkipWaiting activates right after install
	SkipWaiting bool

	VersionPath    string
	AppVersion     string
	UpdateInterval time.Duration
	UpdateTimeout  time.Duration

	Push PushOptions

	Storage  cache.Storage
	Client   *http.Client
	Clients  ClientSet
	Notifier notify.Sender
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Manager is the offline cache manager. It implements Handler.
type Manager struct {
	gen      Generation
	origin   *url.URL
	upstream *url.URL
	assets   []*url.URL
	offline  *url.URL
	version  *url.URL

	strict         bool
	skipOnInstall  bool
	updateInterval time.Duration
	updateTimeout  time.Duration
	push           PushOptions

	storage cache.Storage
	client  *http.Client
	// originClient hands upstream redirects back to the page unfollowed
	originClient *http.Client
	clients      ClientSet
	notifier     notify.Sender
	metrics      *metrics.Metrics
	log          zerolog.Logger
	now          func() time.Time

	state     atomic.Int32
	lifecycle sync.Mutex
	checkMu   sync.Mutex

	mu            sync.Mutex
	skipRequested bool
	lastVersion   string
	lastCheck     time.Time
	notifications *gocache.Cache

	writes sync.WaitGroup
}

var _ Handler = (*Manager)(nil)

// New validates opts and builds an UNREGISTERED manager
func New(opts Options) (*Manager, error) {
	if opts.CacheVersion == "" {
		return nil, errors.New("offline: cache version is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("offline: storage is required")
	}
	if opts.Clients == nil {
		return nil, errors.New("offline: client set is required")
	}

	origin, err := parseOrigin("origin", opts.Origin)
	if err != nil {
		return nil, err
	}
	upstream := origin
	if opts.Upstream != "" {
		if upstream, err = parseOrigin("upstream", opts.Upstream); err != nil {
			return nil, err
		}
	}

	if opts.OfflinePage == "" {
		opts.OfflinePage = "/index.html"
	}
	if opts.VersionPath == "" {
		opts.VersionPath = "/version.json"
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 6 * time.Hour
	}
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = 10 * time.Second
	}
	if opts.Push.Title == "" {
		opts.Push.Title = "Buku Doa Kecil"
	}
	if opts.Push.DefaultBody == "" {
		opts.Push.DefaultBody = "Waktu sholat telah tiba"
	}
	if opts.Push.Icon == "" {
		opts.Push.Icon = "/favicon/android-chrome-192x192.png"
	}
	if opts.Push.TTL <= 0 {
		opts.Push.TTL = 24 * time.Hour
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogSender{Log: opts.Logger}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		gen:            Generation{Version: opts.CacheVersion, Namespace: opts.Namespace},
		origin:         origin,
		upstream:       upstream,
		strict:         opts.StrictPrecache,
		skipOnInstall:  opts.SkipWaiting,
		updateInterval: opts.UpdateInterval,
		updateTimeout:  opts.UpdateTimeout,
		push:           opts.Push,
		storage:        opts.Storage,
		client:         opts.Client,
		originClient:   noFollow(opts.Client),
		clients:        opts.Clients,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		log:            opts.Logger.With().Str("component", "offline").Str("cache_version", opts.CacheVersion).Logger(),
		now:            opts.Now,
		notifications:  gocache.New(opts.Push.TTL, 0),
	}

	if m.offline, err = m.resolve(opts.OfflinePage); err != nil {
		return nil, fmt.Errorf("offline: offline page: %w", err)
	}
	if m.version, err = m.resolve(opts.VersionPath); err != nil {
		return nil, fmt.Errorf("offline: version path: %w", err)
	}
	if m.assets, err = m.precacheList(opts.ShellAssets, opts.Precache); err != nil {
		return nil, err
	}

	m.lastVersion = opts.AppVersion
	if m.lastVersion == "" {
		m.lastVersion = strings.TrimPrefix(BaseVersion(opts.CacheVersion), opts.Namespace)
	}
	return m, nil
}

// noFollow copies c with redirect following turned off
func noFollow(c *http.Client) *http.Client {
	out := *c
	out.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &out
}

func parseOrigin(name, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("offline: %s must be an absolute URL, got %q", name, raw)
	}
	return u, nil
}

// resolve turns a root-relative path or absolute URL into an absolute URL on
// the worker origin
func (m *Manager) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return m.origin.ResolveReference(u), nil
}

// precacheList returns the de-duplicated union of shell assets and
// manifest entries, in first-seen order
func (m *Manager) precacheList(shell []string, manifest []release.ManifestEntry) ([]*url.URL, error) {
	refs := append([]string(nil), shell...)
	refs = append(refs, release.URLs(manifest)...)

	seen := make(map[string]bool, len(refs))
	var out []*url.URL
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref == "" {
			continue
		}
		u, err := m.resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("offline: precache url %q: %w", ref, err)
		}
		key := cache.KeyFor(u)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, u)
	}
	return out, nil
}

// Generation returns the partition names of this manager
func (m *Manager) Generation() Generation { return m.gen }

// State returns the current lifecycle state
func (m *Manager) State() State { return State(m.state.Load()) }

// move performs a lifecycle transition; callers hold m.lifecycle
func (m *Manager) move(to State) error {
	from := m.State()
	if !canMove(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadState, from, to)
	}
	m.state.Store(int32(to))
	m.log.Info().Stringer("from", from).Stringer("to", to).Msg("lifecycle")
	return nil
}

// Register installs the generation and, when skip-waiting is configured or
// was requested during install, activates it
func (m *Manager) Register(ctx context.Context) error {
	if err := m.Install(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	skip := m.skipOnInstall || m.skipRequested
	m.mu.Unlock()
	if !skip {
		return nil
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.State() != StateWaiting {
		return nil
	}
	return m.activateLocked(ctx)
}

// SkipWaiting moves a WAITING manager on to activation. Requested earlier,
// it takes effect as soon as install completes.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	m.mu.Lock()
	m.skipRequested = true
	m.mu.Unlock()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.State() != StateWaiting {
		return nil
	}
	return m.activateLocked(ctx)
}

// Retire marks the manager REDUNDANT. Fetches then pass straight through.
func (m *Manager) Retire() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	from := m.State()
	if from == StateRedundant {
		return
	}
	m.state.Store(int32(StateRedundant))
	m.log.Info().Stringer("from", from).Stringer("to", StateRedundant).Msg("lifecycle")
}

// Wait blocks until every background cache write has settled
func (m *Manager) Wait() {
	m.writes.Wait()
}

// LastVersion returns the most recently observed deploy version
func (m *Manager) LastVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVersion
}

// Status is a point-in-time view of the manager
type Status struct {
	State         State    `json:"state"`
	CacheVersion  string   `json:"cache_version"`
	LastVersion   string   `json:"last_version"`
	Partitions    []string `json:"partitions"`
	Notifications int      `json:"notifications"`
}

// Status reports lifecycle and cache details for diagnostics
func (m *Manager) Status(ctx context.Context) (Status, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list partitions: %w", err)
	}
	if names == nil {
		names = []string{}
	}

	m.notifications.DeleteExpired()

	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:         m.State(),
		CacheVersion:  m.gen.Version,
		LastVersion:   m.lastVersion,
		Partitions:    names,
		Notifications: m.notifications.ItemCount(),
	}, nil
}
