package offline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/briangreenhill/bukudoa/internal/notify"
)

const rootURL = "/"

var defaultVibrate = []int{200, 100, 200}

// Push shows a notification for a push event. An empty payload uses the
// default body. The notification stays active until clicked or until its
// TTL runs out; one that could not be shown is forgotten at once.
func (m *Manager) Push(ctx context.Context, payload []byte) (notify.Notification, error) {
	body := strings.TrimSpace(string(payload))
	if body == "" {
		body = m.push.DefaultBody
	}

	n := notify.Notification{
		ID:      uuid.NewString(),
		Title:   m.push.Title,
		Body:    body,
		Icon:    m.push.Icon,
		Badge:   m.push.Icon,
		Vibrate: append([]int(nil), defaultVibrate...),
		URL:     rootURL,
	}

	m.notifications.DeleteExpired()
	m.notifications.Set(n.ID, n, gocache.DefaultExpiration)

	if err := m.notifier.Send(ctx, n); err != nil {
		m.notifications.Delete(n.ID)
		m.log.Warn().Err(err).Str("notification", n.ID).Msg("notification delivery failed")
		return n, fmt.Errorf("show notification: %w", err)
	}
	m.metrics.Notifications.Inc()
	return n, nil
}

// NotificationClick closes the notification and opens or focuses the app
// root in a client window
func (m *Manager) NotificationClick(_ context.Context, id string) error {
	m.mu.Lock()
	v, ok := m.notifications.Get(id)
	m.notifications.Delete(id)
	m.mu.Unlock()

	n, _ := v.(notify.Notification)
	if !ok {
		return ErrUnknownNotification
	}

	target := n.URL
	if target == "" {
		target = rootURL
	}
	return m.clients.OpenWindow(target)
}
