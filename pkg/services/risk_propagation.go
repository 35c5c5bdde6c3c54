package services

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

// RelaxRounds is the fixed number of propagation rounds per run.
const RelaxRounds = 3

// propagationNoiseFloor discards contributions too small to matter.
const propagationNoiseFloor = 0.5

// edgeFactors scale how much risk an edge type carries from its source.
var edgeFactors = map[models.EdgeType]float64{
	models.EdgeTypeBlocks:      0.25,
	models.EdgeTypeDependsOn:   0.25,
	models.EdgeTypeBilledBy:    0.2,
	models.EdgeTypeCreatedFrom: 0.15,
	models.EdgeTypeRelatesTo:   0.1,
	models.EdgeTypeAssignedTo:  0.05,
}

// nodeRisk is the working state of one node during a run.
type nodeRisk struct {
	node    *models.GraphNode
	risk    int
	reasons map[models.ReasonCode]struct{}
	// received totals propagated magnitude per source node type.
	received map[models.NodeType]float64
}

func (r *nodeRisk) addReason(code models.ReasonCode) {
	if r.reasons == nil {
		r.reasons = make(map[models.ReasonCode]struct{})
	}
	r.reasons[code] = struct{}{}
}

// sortedReasons returns the reason set in lexical order.
func (r *nodeRisk) sortedReasons() []models.ReasonCode {
	out := make([]models.ReasonCode, 0, len(r.reasons))
	for code := range r.reasons {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// riskGraph is an in-memory org graph being scored.
type riskGraph struct {
	nodes map[uuid.UUID]*nodeRisk
	// order is the node id order used for deterministic iteration.
	order []uuid.UUID
	edges []*models.GraphEdge
}

// newRiskGraph scores every node with its base rules. Edges are sorted by
// (created_at, id) and kept only when both endpoints were loaded.
func newRiskGraph(nodes []*models.GraphNode, edges []*models.GraphEdge, percentiles map[uuid.UUID]models.AmountPercentile, now time.Time) *riskGraph {
	g := &riskGraph{
		nodes: make(map[uuid.UUID]*nodeRisk, len(nodes)),
		order: make([]uuid.UUID, 0, len(nodes)),
	}

	for _, n := range nodes {
		if _, dup := g.nodes[n.ID]; dup {
			continue
		}
		risk, reasons := ScoreBase(n, percentiles, now)
		nr := &nodeRisk{node: n, risk: risk}
		for _, code := range reasons {
			nr.addReason(code)
		}
		g.nodes[n.ID] = nr
		g.order = append(g.order, n.ID)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i].String() < g.order[j].String() })

	seen := make(map[uuid.UUID]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		_, fromOK := g.nodes[e.FromNodeID]
		_, toOK := g.nodes[e.ToNodeID]
		if !fromOK || !toOK {
			continue
		}
		seen[e.ID] = struct{}{}
		g.edges = append(g.edges, e)
	}
	sort.SliceStable(g.edges, func(i, j int) bool { return models.EdgeLess(g.edges[i], g.edges[j]) })

	return g
}

// relax runs the fixed propagation rounds. Each round reads pre-round risks and
// applies summed increments at the end, so edge order inside a round is irrelevant.
func (g *riskGraph) relax(rounds int) {
	for round := 0; round < rounds; round++ {
		pre := make(map[uuid.UUID]int, len(g.nodes))
		for id, nr := range g.nodes {
			pre[id] = nr.risk
		}

		increments := make(map[uuid.UUID]float64)
		for _, e := range g.edges {
			sourceRisk := pre[e.FromNodeID]
			if sourceRisk <= 0 {
				continue
			}
			propagated := float64(sourceRisk) * edgeFactors[e.Type] * clampWeight(e.Weight)
			if propagated < propagationNoiseFloor {
				continue
			}
			increments[e.ToNodeID] += propagated

			source := g.nodes[e.FromNodeID].node
			target := g.nodes[e.ToNodeID]
			target.addReason(models.PropagatedFrom(source.Type))
			if target.received == nil {
				target.received = make(map[models.NodeType]float64)
			}
			target.received[source.Type] += propagated
		}

		if len(increments) == 0 {
			return
		}
		for id, inc := range increments {
			nr := g.nodes[id]
			nr.risk = clampRisk(int(math.Round(float64(nr.risk) + inc)))
		}
	}
}

func clampWeight(w float64) float64 {
	if w < 1 {
		return 1
	}
	if w > 5 {
		return 5
	}
	return w
}

// changed returns the nodes whose final risk differs from the stored score,
// ordered by node id.
func (g *riskGraph) changed() []models.RiskScoreUpdate {
	var updates []models.RiskScoreUpdate
	for _, id := range g.order {
		nr := g.nodes[id]
		if nr.risk != nr.node.RiskScore {
			updates = append(updates, models.RiskScoreUpdate{NodeID: id, RiskScore: nr.risk})
		}
	}
	return updates
}

// Org score bucket sizes and weights.
const (
	orgInvoiceTopN  = 20
	orgWorkTopN     = 20
	orgOtherTopN    = 10
	orgInvoiceShare = 0.45
	orgWorkShare    = 0.35
	orgOtherShare   = 0.2
)

// orgScore blends the mean of the riskiest invoices, work items and other nodes.
// Empty buckets contribute zero.
func (g *riskGraph) orgScore() int {
	var invoices, work, other []int
	for _, id := range g.order {
		nr := g.nodes[id]
		switch nr.node.Type {
		case models.NodeTypeInvoice:
			invoices = append(invoices, nr.risk)
		case models.NodeTypeWorkItem:
			work = append(work, nr.risk)
		default:
			other = append(other, nr.risk)
		}
	}

	score := orgInvoiceShare*topMean(invoices, orgInvoiceTopN) +
		orgWorkShare*topMean(work, orgWorkTopN) +
		orgOtherShare*topMean(other, orgOtherTopN)
	return clampRisk(int(math.Round(score)))
}

func topMean(values []int, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.IntSlice(values)))
	if len(values) > n {
		values = values[:n]
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// MaxDrivers bounds the driver list of a snapshot.
const MaxDrivers = 10

// drivers returns the riskiest nodes, ties broken by id ascending.
// Nodes without risk are never drivers.
func (g *riskGraph) drivers() models.Drivers {
	ranked := make([]*nodeRisk, 0, len(g.nodes))
	for _, id := range g.order {
		if nr := g.nodes[id]; nr.risk > 0 {
			ranked = append(ranked, nr)
		}
	}
	// g.order is already id-ascending; a stable sort keeps that as the tie-break.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].risk > ranked[j].risk })
	if len(ranked) > MaxDrivers {
		ranked = ranked[:MaxDrivers]
	}

	out := make(models.Drivers, 0, len(ranked))
	for _, nr := range ranked {
		out = append(out, buildDriver(nr))
	}
	return out
}

func buildDriver(nr *nodeRisk) models.Driver {
	n := nr.node
	d := models.Driver{
		NodeID:      n.ID,
		EntityID:    n.EntityID,
		Type:        n.Type,
		Title:       n.Title,
		RiskScore:   nr.risk,
		ReasonCodes: nr.sortedReasons(),
		Evidence: models.Evidence{
			DueAt:       n.DueAt,
			AmountCents: n.AmountCents,
		},
	}
	if n.Status != "" {
		status := n.Status
		d.Evidence.Status = &status
	}
	if len(nr.received) > 0 {
		d.Evidence.Counts = make(map[models.NodeType]int, len(nr.received))
		for t, v := range nr.received {
			d.Evidence.Counts[t] = int(math.Round(v))
		}
	}
	if link, ok := models.DeeplinkFor(n.Type, n.EntityID); ok {
		d.Deeplink = &link
	}
	return d
}
