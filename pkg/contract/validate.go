package contract

import (
	"math"
	"strconv"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

// collector accumulates "path: reason" validation errors without
// short-circuiting on the first failure.
type collector struct {
	errs []string
}

func (c *collector) add(path, reason string) {
	c.errs = append(c.errs, path+": "+reason)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ValidateIngestRequest validates the ingest envelope, returning all
// violations found ("" / nil when valid).
func ValidateIngestRequest(req IngestRequest) []string {
	c := &collector{}
	if req.APIVersion != APIVersion {
		c.add("api_version", "must equal "+APIVersion)
	}
	if req.Source() == "" {
		c.add("source_text", "source_text or text is required")
	}
	for i, m := range req.MenuCatalog {
		if m.ItemID == "" && m.CanonicalName == "" {
			c.add("menu_catalog["+strconv.Itoa(i)+"]", "must carry item_id or canonical_name")
		}
	}
	return c.errs
}

// ValidateReviewDecisionRequest validates the body of POST /review/decision.
func ValidateReviewDecisionRequest(req ReviewDecisionRequest) []string {
	c := &collector{}
	if req.APIVersion != APIVersion {
		c.add("api_version", "must equal "+APIVersion)
	}
	if req.OrderID == "" {
		c.add("order_id", "required")
	}
	if !ReviewDecisions[req.Decision] {
		c.add("decision", "must be one of approve|reject|request_changes")
	}
	if req.ReviewQueueStatus != "" && !ReviewQueueStatuses[req.ReviewQueueStatus] {
		c.add("review_queue_status", "unknown status")
	}
	if req.PatchedOrder != nil && req.PatchedOrder.OrderID != "" && req.PatchedOrder.OrderID != req.OrderID {
		c.add("patched_order.order_id", "must equal order_id")
	}
	if req.PatchedOrder != nil {
		c.errs = append(c.errs, ValidateNormalizedOrder(*req.PatchedOrder)...)
	}
	return c.errs
}

// ValidateNormalizedOrder checks the structural invariants of a
// NormalizedOrder: unique/matching line indices, valid group membership,
// closed enum sets, finite numeric fields.
func ValidateNormalizedOrder(o posmodel.NormalizedOrder) []string {
	c := &collector{}

	lineSet := make(map[int]bool, len(o.Lines))
	for _, l := range o.Lines {
		lineSet[l.LineIndex] = true
	}

	seenItem := make(map[int]bool, len(o.Items))
	for i, it := range o.Items {
		path := "items[" + strconv.Itoa(i) + "]"
		if seenItem[it.LineIndex] {
			c.add(path+".line_index", "duplicate line_index")
		}
		seenItem[it.LineIndex] = true
		if len(o.Lines) > 0 && !lineSet[it.LineIndex] {
			c.add(path+".line_index", "not present in lines")
		}
		if it.ConfidenceItem != nil && (!finite(*it.ConfidenceItem) || *it.ConfidenceItem < 0 || *it.ConfidenceItem > 1) {
			c.add(path+".confidence_item", "must be within [0,1]")
		}
		if it.ConfidenceMods != nil && (!finite(*it.ConfidenceMods) || *it.ConfidenceMods < 0 || *it.ConfidenceMods > 1) {
			c.add(path+".confidence_mods", "must be within [0,1]")
		}
	}

	itemLineSet := make(map[int]bool, len(o.Items))
	for _, it := range o.Items {
		itemLineSet[it.LineIndex] = true
	}

	for i, g := range o.Groups {
		path := "groups[" + strconv.Itoa(i) + "]"
		if !GroupTypes[g.Type] {
			c.add(path+".type", "unknown group type")
		}
		if len(g.LineIndices) < 2 {
			c.add(path+".line_indices", "must contain at least two members")
		}
		seen := make(map[int]bool, len(g.LineIndices))
		for _, idx := range g.LineIndices {
			if seen[idx] {
				c.add(path+".line_indices", "must be distinct")
			}
			seen[idx] = true
			if !itemLineSet[idx] {
				c.add(path+".line_indices", "references a line_index not present in items")
			}
		}
		if !finite(g.ConfidenceGroup) || g.ConfidenceGroup < 0 || g.ConfidenceGroup > 1 {
			c.add(path+".confidence_group", "must be within [0,1]")
		}
	}

	var expected bool
	for _, it := range o.Items {
		if it.NeedsReview || it.ItemCode == nil || *it.ItemCode == "" || it.Qty < 1 {
			expected = true
			break
		}
	}
	if !expected {
		for _, g := range o.Groups {
			if g.NeedsReview {
				expected = true
				break
			}
		}
	}
	if o.OverallNeedsReview != expected {
		c.add("overall_needs_review", "must equal disjunction of item/group needs_review, empty item_code, or qty<1")
	}

	return c.errs
}

// ValidateOrderPayload validates the envelope around a normalized order,
// including the review_summary/order consistency invariant.
func ValidateOrderPayload(p posmodel.OrderPayload) []string {
	c := &collector{}
	c.errs = append(c.errs, ValidateNormalizedOrder(p.Order)...)

	expected := posmodel.SummarizeOrder(p.Order)
	if expected.OverallNeedsReview != p.ReviewSummary.OverallNeedsReview {
		c.add("review_summary.overall_needs_review", "must equal order.overall_needs_review")
	}
	if p.ReviewQueueStatus != "" && !ReviewQueueStatuses[p.ReviewQueueStatus] {
		c.add("review_queue_status", "unknown status")
	}
	return c.errs
}

