// Package dispatch implements the pure dispatch-routing decision over a
// normalized order.
package dispatch

import "github.com/posgateway/posgateway/pkg/posmodel"

// Route is the dispatch classifier's output route.
type Route string

const (
	RouteAutoDispatch Route = "auto-dispatch"
	RouteReviewQueue  Route = "review-queue"
)

// Source names where the routing decision came from.
const (
	SourceMergeMetadata = "merge_metadata"
	SourceClassifier    = "classifier"
)

// Decision is the result of Classify.
type Decision struct {
	Route   Route    `json:"route"`
	Reasons []string `json:"reasons"`
	Source  string   `json:"source"`
}

// Classify implements spec.md §4.10: honors order.metadata.dispatch_decision
// when present, else routes to review-queue when any item/group
// needs_review, any item is missing an item_code, or any item has
// qty < 1; otherwise auto-dispatch.
func Classify(order posmodel.NormalizedOrder) Decision {
	if order.Metadata != nil {
		if v, ok := order.Metadata["dispatch_decision"].(string); ok && v != "" {
			return Decision{Route: Route(v), Reasons: []string{"honored merge_metadata.dispatch_decision"}, Source: SourceMergeMetadata}
		}
	}

	var reasons []string
	if order.OverallNeedsReview {
		reasons = append(reasons, "overall_needs_review")
	}
	for _, it := range order.Items {
		if it.NeedsReview {
			reasons = append(reasons, "item_needs_review")
		}
		if it.ItemCode == nil || *it.ItemCode == "" {
			reasons = append(reasons, "item_missing_item_code")
		}
		if it.Qty < 1 {
			reasons = append(reasons, "item_qty_below_one")
		}
	}
	for _, g := range order.Groups {
		if g.NeedsReview {
			reasons = append(reasons, "group_needs_review")
		}
	}

	if len(reasons) > 0 {
		return Decision{Route: RouteReviewQueue, Reasons: dedupe(reasons), Source: SourceClassifier}
	}
	return Decision{Route: RouteAutoDispatch, Reasons: nil, Source: SourceClassifier}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
