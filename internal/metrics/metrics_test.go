package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRegistry registers with the process-global Prometheus registerer, so a
// single shared instance backs both assertions below — constructing it twice
// in one test binary would panic on duplicate metric registration.
var testRegistry = NewRegistry()

func TestNewRegistryExposesAllMetrics(t *testing.T) {
	require.NotNil(t, testRegistry)
	assert.NotNil(t, testRegistry.TickDuration)
	assert.NotNil(t, testRegistry.RoundTransitions)
	assert.NotNil(t, testRegistry.WSReconnects)
	assert.NotNil(t, testRegistry.KlineFetchLatency)
	assert.NotNil(t, testRegistry.SweepRows)
}

func TestRegistryHandlerServesMetrics(t *testing.T) {
	testRegistry.TickDuration.Observe(0.5)
	testRegistry.RoundTransitions.WithLabelValues("settled").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	testRegistry.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "tournament_tick_duration_seconds")
	assert.Contains(t, rec.Body.String(), "tournament_round_transitions_total")
}
