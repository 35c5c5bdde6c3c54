package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(ImpactCacheTotal.WithLabelValues(ResultHit))
	ImpactCacheTotal.WithLabelValues(ResultHit).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ImpactCacheTotal.WithLabelValues(ResultHit)))
}

func TestHandlerExposesRiskgraphMetrics(t *testing.T) {
	RiskRunsTotal.WithLabelValues(ResultSuccess).Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "riskgraph_risk_runs_total")
}
