// Package contract validates the HTTP envelopes exchanged with the ingest
// and review endpoints. Validation is pure and idempotent: it never
// mutates its input and produces the same error list for the same input.
package contract

import "github.com/posgateway/posgateway/pkg/posmodel"

// APIVersion is the contract version every envelope must advertise.
const APIVersion = "1.0"

// GroupTypes is the closed set of valid Group.Type values.
var GroupTypes = map[posmodel.GroupType]bool{
	posmodel.GroupPackTogether: true,
	posmodel.GroupSeparate:     true,
	posmodel.GroupOther:        true,
}

// ReviewQueueStatuses is the closed set of valid review-queue statuses.
var ReviewQueueStatuses = map[posmodel.ReviewQueueStatus]bool{
	posmodel.StatusDispatchReady:  true,
	posmodel.StatusPendingReview:  true,
	posmodel.StatusInReview:       true,
	posmodel.StatusApproved:       true,
	posmodel.StatusRejected:       true,
	posmodel.StatusDispatched:     true,
	posmodel.StatusDispatchFailed: true,
}

// ReviewDecisions is the closed set of valid decision values accepted by
// POST /review/decision.
var ReviewDecisions = map[string]bool{
	"approve":         true,
	"reject":          true,
	"request_changes": true,
}

// DispatchStatuses is the closed set of valid dispatch classifier routes.
var DispatchStatuses = map[string]bool{
	"auto-dispatch": true,
	"review-queue":  true,
}

// Simulate carries test-only behavior overrides for ingest requests.
type Simulate struct {
	LLMTimeout bool `json:"llm_timeout,omitempty"`
}

// IngestRequest is the body of POST /ingest-pos-text.
type IngestRequest struct {
	APIVersion    string              `json:"api_version"`
	SourceText    string              `json:"source_text"`
	Text          string              `json:"text"`
	StoreID       string              `json:"store_id,omitempty"`
	OrderID       string              `json:"order_id,omitempty"`
	AuditTraceID  string              `json:"audit_trace_id,omitempty"`
	Metadata      posmodel.Metadata   `json:"metadata,omitempty"`
	MenuCatalog   []posmodel.MenuItem `json:"menu_catalog,omitempty"`
	AllowedMods   []string            `json:"allowed_mods,omitempty"`
	Simulate      *Simulate           `json:"simulate,omitempty"`
}

// Source returns the effective receipt text: source_text wins over the
// legacy text alias.
func (r IngestRequest) Source() string {
	if r.SourceText != "" {
		return r.SourceText
	}
	return r.Text
}

// ReviewDecisionRequest is the body of POST /review/decision.
type ReviewDecisionRequest struct {
	OrderID           string                    `json:"order_id"`
	APIVersion        string                    `json:"api_version"`
	AuditTraceID      string                    `json:"audit_trace_id"`
	ReviewQueueStatus posmodel.ReviewQueueStatus `json:"review_queue_status"`
	Decision          string                    `json:"decision"`
	ReviewerID        string                    `json:"reviewer_id"`
	Note              string                    `json:"note,omitempty"`
	PatchedOrder      *posmodel.NormalizedOrder `json:"patched_order,omitempty"`
	Metadata          posmodel.Metadata         `json:"metadata,omitempty"`
}

// ClearTestDataRequest is the body of POST /review/clear-test-data.
type ClearTestDataRequest struct {
	Scope string `json:"scope"`
}
