package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/bukudoa/internal/metrics"
)

const versionURL = testUpstream + "/version.json"

func TestCheckForUpdate_NewVersion(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AppVersion = "1.2.3" })
	h.mt.RegisterResponder(http.MethodGet, versionURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "no-store", req.Header.Get("Cache-Control"))
		return httpmock.NewStringResponse(200, `{"version":"1.2.4","buildDate":"2024-03-09T07:05:04Z","timestamp":1709967904000}`), nil
	})

	changed, err := h.m.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{UpdateMessage{Type: MsgUpdateAvailable, Version: "1.2.4"}}, h.clients.messages())
	assert.Equal(t, "1.2.4", h.m.LastVersion())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Broadcasts))
}

func TestCheckForUpdate_StringTimestamp(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AppVersion = "2.0.0" })
	h.mt.RegisterResponder(http.MethodGet, versionURL, httpmock.NewStringResponder(200,
		`{"version":"2.0.1","buildDate":"2024-01-01T00:00:00.000Z","timestamp":"1704067200000"}`))

	changed, err := h.m.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{UpdateMessage{Type: MsgUpdateAvailable, Version: "2.0.1"}}, h.clients.messages())
}

func TestCheckForUpdate_OneBroadcastPerChange(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AppVersion = "v1" })
	versions := []string{"v1", "v1", "v2", "v2", "v3"}
	var calls atomic.Int32
	h.mt.RegisterResponder(http.MethodGet, versionURL, func(*http.Request) (*http.Response, error) {
		v := versions[calls.Add(1)-1]
		return httpmock.NewStringResponse(200, fmt.Sprintf(`{"version":%q}`, v)), nil
	})

	for range versions {
		_, err := h.m.CheckForUpdate(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []any{
		UpdateMessage{Type: MsgUpdateAvailable, Version: "v2"},
		UpdateMessage{Type: MsgUpdateAvailable, Version: "v3"},
	}, h.clients.messages())
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.UpdateChecks.WithLabelValues(metrics.CheckUnchanged)))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.UpdateChecks.WithLabelValues(metrics.CheckChanged)))
}

func TestCheckForUpdate_IgnoresVPrefix(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AppVersion = "v1.2.3" })
	h.mt.RegisterResponder(http.MethodGet, versionURL, httpmock.NewStringResponder(200, `{"version":"1.2.3"}`))

	changed, err := h.m.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, h.clients.messages())
}

func TestCheckForUpdate_FailuresKeepVersion(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"network error", httpmock.NewErrorResponder(errors.New("offline"))},
		{"server error", httpmock.NewStringResponder(500, `{"version":"9.9.9"}`)},
		{"not json", httpmock.NewStringResponder(200, `<html>`)},
		{"no version", httpmock.NewStringResponder(200, `{"buildDate":"2024-03-09"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.AppVersion = "1.2.3" })
			h.mt.RegisterResponder(http.MethodGet, versionURL, tt.responder)

			changed, err := h.m.CheckForUpdate(context.Background())
			assert.Error(t, err)
			assert.False(t, changed)
			assert.Equal(t, "1.2.3", h.m.LastVersion())
			assert.Empty(t, h.clients.messages())
			assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.UpdateChecks.WithLabelValues(metrics.CheckFailed)))
		})
	}
}

func TestCheckForUpdate_Timeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.UpdateTimeout = 50 * time.Millisecond })
	h.mt.RegisterResponder(http.MethodGet, versionURL, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	start := time.Now()
	_, err := h.m.CheckForUpdate(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "2.0.0", h.m.LastVersion())
}

func TestCheckIfDue(t *testing.T) {
	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, func(o *Options) {
		o.UpdateInterval = time.Hour
		o.Now = func() time.Time { return now }
	})
	h.mt.RegisterResponder(http.MethodGet, versionURL, httpmock.NewStringResponder(200, `{"version":"2.0.0"}`))

	_, err := h.m.CheckIfDue(context.Background())
	require.NoError(t, err)
	_, err = h.m.CheckIfDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.calls(http.MethodGet, versionURL), "second tick is throttled")

	now = now.Add(time.Hour)
	_, err = h.m.CheckIfDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.calls(http.MethodGet, versionURL))
}

func TestInitialLastVersion(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AppVersion = "" })
	assert.Equal(t, "v2.0.0", h.m.LastVersion())
}
