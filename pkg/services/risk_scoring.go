package services

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

// Base rule weights.
const (
	invoiceOverdueRisk   = 60
	invoiceOpenRisk      = 20
	invoiceMaxAmountRisk = 20
	workOverdueRisk      = 50
	workBlockedRisk      = 25
	dealStaleRisk        = 20
	dealMaxAmountRisk    = 25
	incidentOpenRisk     = 70
)

// amountRankedTypes are the node types that receive a percentile amount boost.
var amountRankedTypes = []models.NodeType{models.NodeTypeInvoice, models.NodeTypeDeal}

func statusIn(status string, set ...string) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a node's status pins its base risk to zero.
func IsTerminal(n *models.GraphNode) bool {
	status := n.NormalizedStatus()
	switch n.Type {
	case models.NodeTypeInvoice:
		return status == "PAID"
	case models.NodeTypeWorkItem:
		return statusIn(status, "DONE", "COMPLETED", "CLOSED")
	case models.NodeTypeDeal:
		return statusIn(status, "WON", "CLOSED_WON")
	}
	return false
}

// percentileBoost is round(rank/(count-1) * maxBoost); a lone peer gets maxBoost.
func percentileBoost(p models.AmountPercentile, ok bool, maxBoost int) int {
	if !ok || p.Count <= 0 {
		return 0
	}
	if p.Count == 1 {
		return maxBoost
	}
	return int(math.Round(float64(p.Rank) / float64(p.Count-1) * float64(maxBoost)))
}

// ScoreBase applies the per-type base rules to one node.
// percentiles holds amount ranks for positive-amount invoices and deals of the org.
func ScoreBase(n *models.GraphNode, percentiles map[uuid.UUID]models.AmountPercentile, now time.Time) (int, []models.ReasonCode) {
	if IsTerminal(n) {
		return 0, nil
	}

	status := n.NormalizedStatus()
	risk := 0
	var reasons []models.ReasonCode

	switch n.Type {
	case models.NodeTypeInvoice:
		if n.IsOverdue(now) {
			risk += invoiceOverdueRisk
			reasons = append(reasons, models.ReasonInvoiceOverdue)
		}
		if statusIn(status, "SENT", "OVERDUE", "UNPAID") {
			risk += invoiceOpenRisk
		}
		p, ok := percentiles[n.ID]
		if boost := percentileBoost(p, ok, invoiceMaxAmountRisk); boost > 0 {
			risk += boost
			reasons = append(reasons, models.ReasonInvoiceHighAmount)
		}

	case models.NodeTypeWorkItem:
		if n.IsOverdue(now) {
			risk += workOverdueRisk
			reasons = append(reasons, models.ReasonWorkOverdue)
		}
		if status == "BLOCKED" {
			risk += workBlockedRisk
			reasons = append(reasons, models.ReasonWorkBlocked)
		}

	case models.NodeTypeDeal:
		if strings.Contains(status, "STALE") {
			risk += dealStaleRisk
		}
		p, ok := percentiles[n.ID]
		if boost := percentileBoost(p, ok, dealMaxAmountRisk); boost > 0 {
			risk += boost
			reasons = append(reasons, models.ReasonDealHighAmount)
		}

	case models.NodeTypeIncident:
		if statusIn(status, "OPEN", "ACKNOWLEDGED") {
			risk += incidentOpenRisk
			reasons = append(reasons, models.ReasonIncidentOpen)
		}
	}

	return clampRisk(risk), reasons
}

func clampRisk(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
