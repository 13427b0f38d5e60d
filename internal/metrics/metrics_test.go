package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Fetches.WithLabelValues(RouteSameOrigin, OutcomeCacheHit).Inc()
	m.Clients.Set(2)

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP bukudoa_sw_clients Open client connections.
# TYPE bukudoa_sw_clients gauge
bukudoa_sw_clients 2
`), "bukudoa_sw_clients")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fetches.WithLabelValues(RouteSameOrigin, OutcomeCacheHit)))

	// a second set on the same registry collides
	assert.Panics(t, func() { New(reg) })
}

func TestNew_Unregistered(t *testing.T) {
	m := New(nil)
	m.PrecacheFailures.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PrecacheFailures))
}
