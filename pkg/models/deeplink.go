package models

import "net/url"

var deeplinkRoutes = map[NodeType]struct{ prefix, label string }{
	NodeTypeDeal:     {"/sales/deals/", "Open deal"},
	NodeTypeWorkItem: {"/ops/work/", "Open work item"},
	NodeTypeInvoice:  {"/finance/invoices/", "Open invoice"},
	NodeTypeCompany:  {"/sales/companies/", "Open company"},
	NodeTypeContact:  {"/sales/contacts/", "Open contact"},
	NodeTypeIncident: {"/incidents/", "Open incident"},
}

// DeeplinkFor returns the UI route of the source entity behind a node.
// The route is keyed by the source entity id, not the graph node id.
func DeeplinkFor(nodeType NodeType, entityID string) (Deeplink, bool) {
	route, ok := deeplinkRoutes[nodeType]
	if !ok || entityID == "" {
		return Deeplink{}, false
	}
	return Deeplink{
		URL:   route.prefix + url.PathEscape(entityID),
		Label: route.label,
	}, true
}
