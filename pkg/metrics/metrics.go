// Package metrics holds the Prometheus collectors of ekaya-riskgraph.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultBusy    = "busy"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

var (
	RiskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgraph_risk_runs_total",
		Help: "Risk propagation runs by result",
	}, []string{"result"})

	RiskRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskgraph_risk_run_duration_seconds",
		Help:    "Wall time of a risk propagation run",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	RiskNodesChanged = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskgraph_risk_nodes_changed",
		Help:    "Nodes whose risk score changed in a run",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
	})

	DriverDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgraph_driver_dispatch_total",
		Help: "Driver hand-offs to downstream consumers by consumer and result",
	}, []string{"consumer", "result"})

	ImpactCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgraph_impact_cache_total",
		Help: "Impact radius cache lookups by result",
	}, []string{"result"})

	ImpactRadiusRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgraph_impact_radius_rejections_total",
		Help: "Impact radius queries rejected for exceeding a cap",
	}, []string{"cap"})

	TraverseTruncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskgraph_traverse_truncated_total",
		Help: "Traversals that stopped at a node or edge cap",
	})

	MCPToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgraph_mcp_tool_calls_total",
		Help: "MCP tool calls by tool and result",
	}, []string{"tool", "result"})

	MCPToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskgraph_mcp_tool_call_duration_seconds",
		Help:    "Wall time of MCP tool calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
