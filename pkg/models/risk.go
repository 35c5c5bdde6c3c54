package models

import (
	"time"

	"github.com/google/uuid"
)

// ReasonCode explains why a node carries risk.
type ReasonCode string

const (
	ReasonInvoiceOverdue    ReasonCode = "INVOICE_OVERDUE"
	ReasonInvoiceHighAmount ReasonCode = "INVOICE_HIGH_AMOUNT"
	ReasonDealHighAmount    ReasonCode = "DEAL_HIGH_AMOUNT"
	ReasonWorkOverdue       ReasonCode = "WORK_OVERDUE"
	ReasonWorkBlocked       ReasonCode = "WORK_BLOCKED"
	ReasonIncidentOpen      ReasonCode = "INCIDENT_OPEN"
)

// PropagatedFrom returns the reason recorded when risk arrives over an edge
// from a node of type t.
func PropagatedFrom(t NodeType) ReasonCode {
	return ReasonCode("PROPAGATED_FROM_" + string(t))
}

// Deeplink points at the UI route for an entity.
type Deeplink struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

// Evidence is the data a driver's reasons were derived from.
type Evidence struct {
	DueAt       *time.Time `json:"due_at,omitempty"`
	AmountCents *int64     `json:"amount_cents,omitempty"`
	Status      *string    `json:"status,omitempty"`
	// Counts holds the total propagated magnitude received per source node type.
	Counts map[NodeType]int `json:"counts,omitempty"`
}

// Driver is a ranked, explained contributor to org-level risk.
type Driver struct {
	NodeID      uuid.UUID    `json:"node_id"`
	EntityID    string       `json:"entity_id"`
	Type        NodeType     `json:"type"`
	Title       string       `json:"title"`
	RiskScore   int          `json:"risk_score"`
	ReasonCodes []ReasonCode `json:"reason_codes"`
	Evidence    Evidence     `json:"evidence"`
	Deeplink    *Deeplink    `json:"deeplink,omitempty"`
}

// Drivers is the ordered driver list of a snapshot, stored as JSONB.
type Drivers []Driver

// SnapshotMeta records the size of a risk run.
type SnapshotMeta struct {
	NodesConsidered int `json:"nodes_considered"`
	EdgesConsidered int `json:"edges_considered"`
	NodesChanged    int `json:"nodes_changed"`
}

// RiskSnapshot is the org-level risk result for one UTC calendar day.
// Stored in engine_risk_snapshots, unique per (OrgID, AsOfDate).
type RiskSnapshot struct {
	OrgID     uuid.UUID    `json:"org_id"`
	AsOfDate  time.Time    `json:"as_of_date"`
	RiskScore int          `json:"risk_score"`
	Drivers   Drivers      `json:"drivers"`
	Meta      SnapshotMeta `json:"meta"`
	CreatedAt time.Time    `json:"created_at"`
}

// AsOfDate truncates t to UTC midnight.
func AsOfDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RiskOverview is the latest org risk with its day-over-day delta.
type RiskOverview struct {
	OrgID     uuid.UUID    `json:"org_id"`
	AsOfDate  time.Time    `json:"as_of_date"`
	RiskScore int          `json:"risk_score"`
	Delta     *int         `json:"delta"`
	Meta      SnapshotMeta `json:"meta"`
}

// RiskWhy is the latest org risk explained by its drivers.
type RiskWhy struct {
	RiskOverview
	Drivers Drivers `json:"drivers"`
}

// RiskComputeOptions tunes a single risk run.
type RiskComputeOptions struct {
	// MaxNodes bounds LOAD; zero means the configured default.
	MaxNodes int
}
