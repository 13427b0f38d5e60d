package clients

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id   string
	fail bool

	mu   sync.Mutex
	msgs []any
}

func (f *fakeClient) ID() string { return f.id }

func (f *fakeClient) PostMessage(v any) error {
	if f.fail {
		return errors.New("gone")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, v)
	return nil
}

func (f *fakeClient) received() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.msgs...)
}

func TestHub_MatchAllOnlyControlled(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := &fakeClient{id: "a"}
	b := &fakeClient{id: "b"}
	h.Add(a, true)
	h.Add(b, false)

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []Client{a}, h.MatchAll())
	assert.False(t, h.Controlled("b"))

	assert.Equal(t, 1, h.Claim())
	assert.True(t, h.Controlled("b"))
	assert.Equal(t, []Client{a, b}, h.MatchAll())
	assert.Equal(t, 0, h.Claim())

	h.Remove("a")
	assert.Equal(t, []Client{b}, h.MatchAll())
	h.Remove("missing")
	assert.Equal(t, 1, h.Len())
}

func TestHub_BroadcastDropsFailedClients(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ok := &fakeClient{id: "ok"}
	bad := &fakeClient{id: "bad", fail: true}
	idle := &fakeClient{id: "idle"}
	h.Add(ok, true)
	h.Add(bad, true)
	h.Add(idle, false)

	n := h.Broadcast(map[string]string{"type": "UPDATE_AVAILABLE"})
	assert.Equal(t, 1, n)
	assert.Len(t, ok.received(), 1)
	assert.Empty(t, idle.received())
	assert.Equal(t, 2, h.Len())
	assert.False(t, h.Controlled("bad"))
}

func TestHub_OpenWindow(t *testing.T) {
	h := NewHub(zerolog.Nop())
	require.ErrorIs(t, h.OpenWindow("/"), ErrNoClients)

	bad := &fakeClient{id: "bad", fail: true}
	good := &fakeClient{id: "good"}
	h.Add(bad, true)
	h.Add(good, true)

	require.NoError(t, h.OpenWindow("/"))
	assert.Equal(t, []any{NavigateMessage{Type: MsgNavigate, URL: "/"}}, good.received())
}
