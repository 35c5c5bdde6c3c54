// Package models contains domain types for ekaya-riskgraph.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeType is the business-entity category a graph node mirrors.
type NodeType string

const (
	NodeTypeDeal     NodeType = "DEAL"
	NodeTypeWorkItem NodeType = "WORK_ITEM"
	NodeTypeInvoice  NodeType = "INVOICE"
	NodeTypeCompany  NodeType = "COMPANY"
	NodeTypeContact  NodeType = "CONTACT"
	NodeTypeIncident NodeType = "INCIDENT"
)

// AllNodeTypes lists node types in declaration order.
var AllNodeTypes = []NodeType{
	NodeTypeDeal, NodeTypeWorkItem, NodeTypeInvoice,
	NodeTypeCompany, NodeTypeContact, NodeTypeIncident,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	for _, known := range AllNodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EdgeType is the relation kind of a directed graph edge.
type EdgeType string

const (
	EdgeTypeBlocks      EdgeType = "BLOCKS"
	EdgeTypeDependsOn   EdgeType = "DEPENDS_ON"
	EdgeTypeBilledBy    EdgeType = "BILLED_BY"
	EdgeTypeCreatedFrom EdgeType = "CREATED_FROM"
	EdgeTypeRelatesTo   EdgeType = "RELATES_TO"
	EdgeTypeAssignedTo  EdgeType = "ASSIGNED_TO"
)

// AllEdgeTypes lists edge types in declaration order.
var AllEdgeTypes = []EdgeType{
	EdgeTypeBlocks, EdgeTypeDependsOn, EdgeTypeBilledBy,
	EdgeTypeCreatedFrom, EdgeTypeRelatesTo, EdgeTypeAssignedTo,
}

// Valid reports whether t is a known edge type.
func (t EdgeType) Valid() bool {
	for _, known := range AllEdgeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseNodeTypes parses a comma-separated list of node types.
// Empty input yields a nil slice.
func ParseNodeTypes(raw string) ([]NodeType, error) {
	var out []NodeType
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		t := NodeType(part)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown node type %q", part)
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseEdgeTypes parses a comma-separated list of edge types.
// Empty input yields a nil slice.
func ParseEdgeTypes(raw string) ([]EdgeType, error) {
	var out []EdgeType
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		t := EdgeType(part)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown edge type %q", part)
		}
		out = append(out, t)
	}
	return out, nil
}

// GraphNode mirrors one source entity of an org.
// Unique per (OrgID, Type, EntityID). RiskScore is only written by the risk engine.
type GraphNode struct {
	ID          uuid.UUID  `json:"id"`
	OrgID       uuid.UUID  `json:"org_id"`
	Type        NodeType   `json:"type"`
	EntityID    string     `json:"entity_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	AmountCents *int64     `json:"amount_cents,omitempty"`
	Currency    *string    `json:"currency,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
	RiskScore   int        `json:"risk_score"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NormalizedStatus returns the status upper-cased and trimmed.
func (n *GraphNode) NormalizedStatus() string {
	return strings.ToUpper(strings.TrimSpace(n.Status))
}

// IsOverdue reports whether the node has a due date strictly before now.
func (n *GraphNode) IsOverdue(now time.Time) bool {
	return n.DueAt != nil && n.DueAt.Before(now)
}

// GraphEdge is a directed relation between two nodes of the same org.
// Unique per (OrgID, FromNodeID, ToNodeID, Type).
type GraphEdge struct {
	ID         uuid.UUID `json:"id"`
	OrgID      uuid.UUID `json:"org_id"`
	FromNodeID uuid.UUID `json:"from_node_id"`
	ToNodeID   uuid.UUID `json:"to_node_id"`
	Type       EdgeType  `json:"type"`
	Weight     float64   `json:"weight"`
	CreatedAt  time.Time `json:"created_at"`
}

// Other returns the endpoint of e opposite to nodeID.
func (e *GraphEdge) Other(nodeID uuid.UUID) uuid.UUID {
	if e.FromNodeID == nodeID {
		return e.ToNodeID
	}
	return e.FromNodeID
}

// EdgeLess orders edges by (CreatedAt asc, ID asc).
func EdgeLess(a, b *GraphEdge) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) < 0
}

// Direction controls which edge orientation a traversal follows.
type Direction string

const (
	DirectionOut  Direction = "OUT"
	DirectionIn   Direction = "IN"
	DirectionBoth Direction = "BOTH"
)

// ParseDirection parses a direction, defaulting to BOTH for empty input.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(raw))); d {
	case "":
		return DirectionBoth, nil
	case DirectionOut, DirectionIn, DirectionBoth:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

// Page is a limit/offset window.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// NodeFilters narrows a node listing.
type NodeFilters struct {
	Types []NodeType
	// Query matches title or entity id, case-insensitively.
	Query string
	Page  Page
}

// EdgeFilters narrows an edge listing.
type EdgeFilters struct {
	Types      []EdgeType
	FromNodeID *uuid.UUID
	ToNodeID   *uuid.UUID
	// NodeID matches edges touching the node in either direction.
	NodeID *uuid.UUID
	Page   Page
}

// AdjacencyQuery selects edges touching a frontier of nodes.
type AdjacencyQuery struct {
	NodeIDs        []uuid.UUID
	Direction      Direction
	EdgeTypes      []EdgeType
	ExcludeEdgeIDs []uuid.UUID
	Limit          int
}

// NodeDetail is a node plus its most recent incident edges.
type NodeDetail struct {
	Node  *GraphNode   `json:"node"`
	Edges []*GraphEdge `json:"edges"`
}

// Subgraph is the result of a traversal.
type Subgraph struct {
	Nodes     []*GraphNode `json:"nodes"`
	Edges     []*GraphEdge `json:"edges"`
	Truncated bool         `json:"truncated"`
}

// AmountPercentile is a node's position among same-type positive-amount peers of its org.
// Rank is the 0-based position in ascending amount order (ties share the lowest rank).
type AmountPercentile struct {
	Rank  int
	Count int
}

// RiskScoreUpdate is one pending risk score write.
type RiskScoreUpdate struct {
	NodeID    uuid.UUID
	RiskScore int
}
