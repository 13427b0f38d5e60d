package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/bukudoa/cache"
)

// precacheConcurrency bounds concurrent asset fetches during install
const precacheConcurrency = 8

// Install populates the Static partition with every precache asset. Asset
// failures are logged and skipped unless strict precaching is on, in which
// case install fails and the manager returns to UNREGISTERED.
func (m *Manager) Install(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.move(StateInstalling); err != nil {
		return err
	}

	if err := m.populate(ctx); err != nil {
		_ = m.move(StateUnregistered)
		return err
	}
	return m.move(StateWaiting)
}

func (m *Manager) populate(ctx context.Context) error {
	static, err := m.storage.Open(ctx, m.gen.Static())
	if err != nil {
		return fmt.Errorf("open static partition: %w", err)
	}

	// Every fetch runs to completion; a failing asset does not cancel the rest.
	var g errgroup.Group
	g.SetLimit(precacheConcurrency)
	for _, u := range m.assets {
		g.Go(func() error {
			if err := m.precacheOne(ctx, static, u); err != nil {
				m.metrics.PrecacheFailures.Inc()
				m.log.Warn().Err(err).Str("url", u.String()).Msg("precache failed")
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if m.strict {
			if _, derr := m.storage.Delete(ctx, m.gen.Static()); derr != nil {
				m.log.Error().Err(derr).Msg("dropping partial static partition failed")
			}
			return fmt.Errorf("precache: %w", err)
		}
		m.log.Warn().Err(err).Msg("install continuing with a partial precache")
	}

	return m.prune(ctx, static)
}

// precacheOne fetches u bypassing intermediate caches and stores it
func (m *Manager) precacheOne(ctx context.Context, static cache.Partition, u *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.networkURL(u).String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	entry, err := cache.NewEntry(req, resp, body)
	if err != nil {
		return err
	}

	key := cache.KeyFor(u)
	entry.URL = key
	if err := static.Put(ctx, key, entry); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// prune drops Static entries that are not part of the precache union, so
// reinstalling a version leaves exactly the union behind
func (m *Manager) prune(ctx context.Context, static cache.Partition) error {
	want := make(map[string]bool, len(m.assets))
	for _, u := range m.assets {
		want[cache.KeyFor(u)] = true
	}

	keys, err := static.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list static entries: %w", err)
	}
	for _, k := range keys {
		if want[k] {
			continue
		}
		if _, err := static.Delete(ctx, k); err != nil {
			return fmt.Errorf("prune %s: %w", k, err)
		}
		m.log.Debug().Str("key", k).Msg("pruned static entry")
	}
	return nil
}
