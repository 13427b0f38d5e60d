package offline

import "context"

// Activate purges stale generations and claims every open client. Deletion
// finishes before any client is claimed.
func (m *Manager) Activate(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.activateLocked(ctx)
}

func (m *Manager) activateLocked(ctx context.Context) error {
	if err := m.move(StateActivating); err != nil {
		return err
	}

	names, err := m.storage.Keys(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("listing partitions failed; skipping cleanup")
	}
	for _, name := range names {
		if !m.gen.IsStale(name) {
			continue
		}
		deleted, err := m.storage.Delete(ctx, name)
		if err != nil {
			m.log.Error().Err(err).Str("partition", name).Msg("deleting stale partition failed")
			continue
		}
		if deleted {
			m.metrics.PartitionsDeleted.Inc()
			m.log.Info().Str("partition", name).Msg("deleted stale partition")
		}
	}

	claimed := m.clients.Claim()
	m.log.Info().Int("claimed", claimed).Msg("claimed clients")
	return m.move(StateActive)
}
