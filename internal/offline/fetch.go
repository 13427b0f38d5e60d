package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/briangreenhill/bukudoa/cache"
	"github.com/briangreenhill/bukudoa/internal/metrics"
)

// Fetch routes an intercepted request. req.URL is the URL the page asked
// for; relative URLs are taken to be on the worker origin. Before the
// manager is ACTIVE every request goes straight to the network.
func (m *Manager) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	u := req.URL
	if !u.IsAbs() {
		u = m.origin.ResolveReference(u)
		req = req.Clone(ctx)
		req.URL = u
	}

	if m.State() != StateActive {
		return m.passthrough(ctx, req)
	}
	if !m.sameOrigin(u) {
		return m.fetchCrossOrigin(ctx, req)
	}
	return m.fetchSameOrigin(ctx, req)
}

func (m *Manager) passthrough(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := m.network(ctx, req, m.networkURL(req.URL))
	if err != nil {
		m.count(metrics.RoutePassthrough, metrics.OutcomeError)
		return nil, err
	}
	m.count(metrics.RoutePassthrough, metrics.OutcomeUncached)
	return resp, nil
}

// fetchCrossOrigin is network first. Successful GETs are copied into the
// API partition; on network failure any partition may answer.
func (m *Manager) fetchCrossOrigin(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := cache.KeyFor(req.URL)

	resp, err := m.network(ctx, req, req.URL)
	if err != nil {
		entry, merr := m.storage.Match(ctx, key)
		if merr == nil {
			m.count(metrics.RouteCrossOrigin, metrics.OutcomeCacheFallback)
			m.log.Debug().Err(err).Str("url", key).Msg("network failed, serving cached response")
			return entry.Response(req), nil
		}
		m.count(metrics.RouteCrossOrigin, metrics.OutcomeError)
		return nil, fmt.Errorf("%w: %w", ErrNoFallback, err)
	}

	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK || redirected(resp, req.URL) {
		m.count(metrics.RouteCrossOrigin, metrics.OutcomeUncached)
		return resp, nil
	}
	m.count(metrics.RouteCrossOrigin, metrics.OutcomeNetwork)
	return m.respondAndStore(ctx, req, resp, key, RoleAPI, m.gen.API())
}

// fetchSameOrigin is cache first. Misses go to the upstream; only basic,
// non-redirected 200 responses are copied into the Dynamic partition. A
// failed navigation falls back to the cached offline page.
func (m *Manager) fetchSameOrigin(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := cache.KeyFor(req.URL)

	if req.Method == http.MethodGet {
		entry, err := m.storage.Match(ctx, key)
		if err == nil {
			m.count(metrics.RouteSameOrigin, metrics.OutcomeCacheHit)
			return entry.Response(req), nil
		}
		if !errors.Is(err, cache.ErrCacheNotFound) {
			m.log.Warn().Err(err).Str("url", key).Msg("cache lookup failed")
		}
	}

	target := m.networkURL(req.URL)
	resp, err := m.network(ctx, req, target)
	if err != nil {
		if isNavigation(req) {
			if entry, merr := m.storage.Match(ctx, cache.KeyFor(m.offline)); merr == nil {
				m.count(metrics.RouteSameOrigin, metrics.OutcomeOfflinePage)
				m.log.Debug().Err(err).Str("url", key).Msg("offline navigation, serving shell")
				return entry.Response(req), nil
			}
		}
		m.count(metrics.RouteSameOrigin, metrics.OutcomeError)
		return nil, fmt.Errorf("%w: %w", ErrNoFallback, err)
	}

	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK || redirected(resp, target) {
		m.count(metrics.RouteSameOrigin, metrics.OutcomeUncached)
		return resp, nil
	}
	m.count(metrics.RouteSameOrigin, metrics.OutcomeNetwork)
	return m.respondAndStore(ctx, req, resp, key, RoleDynamic, m.gen.Dynamic())
}

// respondAndStore buffers the body, builds the caller's response and only
// then schedules the cache write
func (m *Manager) respondAndStore(ctx context.Context, req *http.Request, resp *http.Response, key, role, partition string) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	entry, err := cache.NewEntry(req, resp, body)
	if err != nil {
		return resp, nil
	}
	entry.URL = key

	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		m.store(context.WithoutCancel(ctx), role, partition, key, entry)
	}()
	return resp, nil
}

func (m *Manager) store(ctx context.Context, role, partition, key string, entry *cache.Entry) {
	p, err := m.storage.Open(ctx, partition)
	if err == nil {
		err = p.Put(ctx, key, entry)
	}
	if err != nil {
		m.metrics.CacheWrites.WithLabelValues(role, "error").Inc()
		m.log.Warn().Err(err).Str("partition", partition).Str("url", key).Msg("cache write failed")
		return
	}
	m.metrics.CacheWrites.WithLabelValues(role, "ok").Inc()
}

// credentialHeaders belong to the worker origin and are never sent to
// another one
var credentialHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// network sends req to target with the caller's method, headers and body.
// Same-origin requests do not follow redirects, so the page sees the 3xx
// and navigates itself; cross-origin requests follow them and lose the
// origin's credentials.
func (m *Manager) network(ctx context.Context, req *http.Request, target *url.URL) (*http.Response, error) {
	out := req.Clone(ctx)
	out.URL = target
	out.Host = ""
	out.RequestURI = ""

	if !m.sameOrigin(req.URL) {
		for _, h := range credentialHeaders {
			out.Header.Del(h)
		}
		return m.client.Do(out)
	}

	resp, err := m.originClient.Do(out)
	if err != nil {
		return nil, err
	}
	m.originLocation(resp)
	return resp, nil
}

// originLocation maps an absolute redirect target on the upstream back onto
// the worker origin
func (m *Manager) originLocation(resp *http.Response) {
	loc := resp.Header.Get("Location")
	if loc == "" || m.upstream == m.origin {
		return
	}
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() || !strings.EqualFold(u.Host, m.upstream.Host) {
		return
	}

	out := *u
	out.Scheme = m.origin.Scheme
	out.Host = m.origin.Host
	if prefix := strings.TrimRight(m.upstream.Path, "/"); prefix != "" && strings.HasPrefix(u.Path, prefix) {
		out.Path = strings.TrimPrefix(u.Path, prefix)
		if out.Path == "" {
			out.Path = "/"
		}
		out.RawPath = ""
	}
	resp.Header.Set("Location", out.String())
}

func (m *Manager) count(route, outcome string) {
	m.metrics.Fetches.WithLabelValues(route, outcome).Inc()
}

func (m *Manager) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, m.origin.Scheme) && strings.EqualFold(u.Host, m.origin.Host)
}

// networkURL maps a worker-origin URL onto the upstream; other URLs are
// returned unchanged
func (m *Manager) networkURL(u *url.URL) *url.URL {
	if !m.sameOrigin(u) || m.upstream == m.origin {
		return u
	}
	out := *u
	out.Scheme = m.upstream.Scheme
	out.Host = m.upstream.Host
	if prefix := strings.TrimRight(m.upstream.Path, "/"); prefix != "" {
		out.Path = prefix + u.Path
		out.RawPath = ""
	}
	out.Fragment = ""
	out.RawFragment = ""
	return &out
}

// redirected reports whether the response came from a URL other than the
// one requested
func redirected(resp *http.Response, requested *url.URL) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	final := cache.KeyFor(resp.Request.URL)
	return final != cache.KeyFor(requested)
}

// isNavigation reports whether req asks for an HTML document
func isNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" || req.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
