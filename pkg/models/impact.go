package models

import (
	"time"

	"github.com/google/uuid"
)

// ImpactRadiusOptions are caller-supplied traversal options.
type ImpactRadiusOptions struct {
	MaxDepth     int        `json:"max_depth"`
	Direction    Direction  `json:"direction"`
	EdgeTypes    []EdgeType `json:"edge_types,omitempty"`
	IncludeTypes []NodeType `json:"include_types,omitempty"`
}

// ImpactSummary aggregates business impact over an impact radius result.
type ImpactSummary struct {
	NodeCount        int              `json:"node_count"`
	EdgeCount        int              `json:"edge_count"`
	MoneyAtRiskCents int64            `json:"money_at_risk_cents"`
	OverdueInvoices  int              `json:"overdue_invoices"`
	OpenWorkItems    int              `json:"open_work_items"`
	OverdueWorkItems int              `json:"overdue_work_items"`
	DealsAtRiskCents int64            `json:"deals_at_risk_cents"`
	CompaniesTouched int              `json:"companies_touched"`
	IncidentsTouched int              `json:"incidents_touched"`
	HighestRiskNode  *GraphNode       `json:"highest_risk_node,omitempty"`
	EdgeCountsByType map[EdgeType]int `json:"edge_counts_by_type"`
}

// Hotspot is a risk-relevant node surfaced from an impact radius result.
type Hotspot struct {
	Node     *GraphNode `json:"node"`
	Deeplink Deeplink   `json:"deeplink"`
}

// ImpactRadiusResult is the full answer to "what breaks if this node fails".
type ImpactRadiusResult struct {
	OrgID       uuid.UUID           `json:"org_id"`
	StartNodeID uuid.UUID           `json:"start_node_id"`
	Options     ImpactRadiusOptions `json:"options"`
	Nodes       []*GraphNode        `json:"nodes"`
	Edges       []*GraphEdge        `json:"edges"`
	Summary     ImpactSummary       `json:"summary"`
	Hotspots    []Hotspot           `json:"hotspots"`
	ComputedAt  time.Time           `json:"computed_at"`
}
