package offline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/briangreenhill/bukudoa/internal/metrics"
	"github.com/briangreenhill/bukudoa/internal/release"
)

// CheckForUpdate fetches the version descriptor, bypassing caches, and
// broadcasts UPDATE_AVAILABLE to controlled clients when the version differs
// from the last one observed. It reports whether a change was seen. On
// failure the last observed version is kept so the next check retries.
func (m *Manager) CheckForUpdate(ctx context.Context) (bool, error) {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.mu.Lock()
	m.lastCheck = m.now()
	m.mu.Unlock()

	d, err := m.fetchDescriptor(ctx)
	if err != nil {
		m.metrics.UpdateChecks.WithLabelValues(metrics.CheckFailed).Inc()
		m.log.Debug().Err(err).Msg("version check failed")
		return false, err
	}

	m.mu.Lock()
	previous := m.lastVersion
	changed := !release.SameVersion(previous, d.Version)
	if changed {
		m.lastVersion = d.Version
	}
	m.mu.Unlock()

	if !changed {
		m.metrics.UpdateChecks.WithLabelValues(metrics.CheckUnchanged).Inc()
		return false, nil
	}

	m.metrics.UpdateChecks.WithLabelValues(metrics.CheckChanged).Inc()
	delivered := m.clients.Broadcast(UpdateMessage{Type: MsgUpdateAvailable, Version: d.Version})
	m.metrics.Broadcasts.Add(float64(delivered))
	m.log.Info().
		Str("previous", previous).
		Str("version", d.Version).
		Int("clients", delivered).
		Msg("new version available")
	return true, nil
}

func (m *Manager) fetchDescriptor(ctx context.Context) (release.Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, m.updateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.networkURL(m.version).String(), nil)
	if err != nil {
		return release.Descriptor{}, err
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return release.Descriptor{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return release.Descriptor{}, fmt.Errorf("version descriptor: status %d", resp.StatusCode)
	}
	return release.DecodeDescriptor(resp.Body)
}

// CheckIfDue runs CheckForUpdate unless a check started within the last half
// interval. Scheduled ticks and on-demand checks share this throttle.
func (m *Manager) CheckIfDue(ctx context.Context) (bool, error) {
	m.mu.Lock()
	last := m.lastCheck
	m.mu.Unlock()

	if !last.IsZero() && m.now().Sub(last) < m.updateInterval/2 {
		return false, nil
	}
	return m.CheckForUpdate(ctx)
}

// UpdateInterval is the configured period between scheduled checks
func (m *Manager) UpdateInterval() time.Duration {
	return m.updateInterval
}
