// Package posmodel defines the shared data model threaded through the
// ingest pipeline, review store, and audit log: stores, parsed lines,
// candidates, normalized orders, and their envelopes.
package posmodel

import "time"

// Metadata is an arbitrary JSON object. It is never modeled as a strongly
// typed pointer graph — callers treat it as an opaque bag of JSON values.
type Metadata map[string]any

// Clone returns a shallow copy of m. A nil receiver clones to an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MenuItem is one entry in a store's menu catalog.
type MenuItem struct {
	ItemID        string   `json:"item_id"`
	CanonicalName string   `json:"canonical_name"`
	Aliases       []string `json:"aliases,omitempty"`
	SoldOut       bool     `json:"sold_out,omitempty"`
}

// LLMConfig holds a store's language-model connection settings.
type LLMConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	TimeoutS  int    `json:"timeout_s"`
	Enabled   *bool  `json:"enabled"`
	APIKey    string `json:"api_key,omitempty"`
}

// StoreConfig is the normalized, in-memory form of one store's
// menu/mods/llm configuration plus its content-hash versions.
type StoreConfig struct {
	StoreID string `json:"store_id"`

	MenuCatalog        []MenuItem `json:"menu_catalog"`
	MenuCatalogVersion string     `json:"menu_catalog_version"`

	AllowedMods        []string `json:"allowed_mods"`
	AllowedModsVersion string   `json:"allowed_mods_version"`

	LLMConfig        LLMConfig `json:"llm_config"`
	LLMConfigVersion string    `json:"llm_config_version"`
}

// RawLine is one line extracted from receipt source text.
type RawLine struct {
	LineIndex int    `json:"line_index"`
	RawLine   string `json:"raw_line"`
	NameRaw   string `json:"name_raw"`
	Qty       int    `json:"qty"`
	NoteRaw   string `json:"note_raw,omitempty"`
	// QtyUnparsed flags a line whose quantity could not be parsed and
	// was defaulted to 1 — downstream merge uses this to force review.
	QtyUnparsed bool `json:"-"`
}

// Candidate is one ranked menu-item guess for a raw line.
type Candidate struct {
	ItemID        string  `json:"item_id"`
	CanonicalName string  `json:"canonical_name"`
	Score         float64 `json:"score"`
}

// CandidateSet is the ranked candidate list for a single line.
type CandidateSet struct {
	LineIndex  int         `json:"line_index"`
	Candidates []Candidate `json:"candidates"`
}

// NormalizedItem is one item line in a normalized order.
type NormalizedItem struct {
	LineIndex      int      `json:"line_index"`
	RawLine        string   `json:"raw_line"`
	NameRaw        string   `json:"name_raw"`
	NameNormalized string   `json:"name_normalized"`
	ItemCode       *string  `json:"item_code"`
	Qty            int      `json:"qty"`
	NoteRaw        *string  `json:"note_raw"`
	Mods           []string `json:"mods"`
	GroupID        *string  `json:"group_id"`
	ConfidenceItem *float64 `json:"confidence_item"`
	ConfidenceMods *float64 `json:"confidence_mods"`
	NeedsReview    bool     `json:"needs_review"`
	Metadata       Metadata `json:"metadata,omitempty"`
	Version        int      `json:"version"`
}

// GroupType enumerates the closed set of cross-line grouping kinds.
type GroupType string

const (
	GroupPackTogether GroupType = "pack_together"
	GroupSeparate     GroupType = "separate"
	GroupOther        GroupType = "other"
)

// Group is a cross-line grouping instruction.
type Group struct {
	GroupID         string    `json:"group_id"`
	Type            GroupType `json:"type"`
	Label           string    `json:"label"`
	LineIndices     []int     `json:"line_indices"`
	ConfidenceGroup float64   `json:"confidence_group"`
	NeedsReview     bool      `json:"needs_review"`
	Metadata        Metadata  `json:"metadata,omitempty"`
	Version         int       `json:"version"`
}

// NormalizedOrder is the fully merged, validated order produced by the
// pipeline.
type NormalizedOrder struct {
	SourceText         string           `json:"source_text"`
	OrderID            string           `json:"order_id"`
	Items              []NormalizedItem `json:"items"`
	Groups             []Group          `json:"groups"`
	Lines              []RawLine        `json:"lines"`
	AuditEvents        []string         `json:"audit_events"`
	OverallNeedsReview bool             `json:"overall_needs_review"`
	Metadata           Metadata         `json:"metadata,omitempty"`
	Version            int              `json:"version"`
}

// Recompute derives OverallNeedsReview from the items/groups per the
// invariant: true iff any item or group needs_review, any item has an
// empty item_code, or any item has qty < 1.
func (o *NormalizedOrder) Recompute() {
	needs := false
	for _, it := range o.Items {
		if it.NeedsReview || it.ItemCode == nil || *it.ItemCode == "" || it.Qty < 1 {
			needs = true
			break
		}
	}
	if !needs {
		for _, g := range o.Groups {
			if g.NeedsReview {
				needs = true
				break
			}
		}
	}
	o.OverallNeedsReview = needs
}

// ReviewQueueStatus enumerates the closed set of review-queue states.
type ReviewQueueStatus string

const (
	StatusDispatchReady ReviewQueueStatus = "dispatch_ready"
	StatusPendingReview ReviewQueueStatus = "pending_review"
	StatusInReview       ReviewQueueStatus = "in_review"
	StatusApproved       ReviewQueueStatus = "approved"
	StatusRejected       ReviewQueueStatus = "rejected"
	StatusDispatched     ReviewQueueStatus = "dispatched"
	StatusDispatchFailed ReviewQueueStatus = "dispatch_failed"
)

// TrackingStatuses lists the statuses considered "tracking" rather than
// "pending review" for /review listing.
var TrackingStatuses = map[ReviewQueueStatus]bool{
	StatusApproved:       true,
	StatusRejected:       true,
	StatusDispatchReady:  true,
	StatusDispatched:     true,
	StatusDispatchFailed: true,
}

// ReviewSummary is the derived, denormalized summary carried alongside an
// order in its envelope.
type ReviewSummary struct {
	OverallNeedsReview        bool     `json:"overall_needs_review"`
	NeedsReviewItemLineIndices []int   `json:"needs_review_item_line_indices"`
	NeedsReviewGroupIDs       []string `json:"needs_review_group_ids"`
}

// SummarizeOrder derives a ReviewSummary from o.
func SummarizeOrder(o NormalizedOrder) ReviewSummary {
	s := ReviewSummary{OverallNeedsReview: o.OverallNeedsReview}
	for _, it := range o.Items {
		if it.NeedsReview {
			s.NeedsReviewItemLineIndices = append(s.NeedsReviewItemLineIndices, it.LineIndex)
		}
	}
	for _, g := range o.Groups {
		if g.NeedsReview {
			s.NeedsReviewGroupIDs = append(s.NeedsReviewGroupIDs, g.GroupID)
		}
	}
	return s
}

// OrderPayload is the envelope around a normalized order exchanged over
// HTTP and persisted in the review store.
type OrderPayload struct {
	Order             NormalizedOrder   `json:"order"`
	ReviewSummary     ReviewSummary     `json:"review_summary"`
	ReviewQueueStatus ReviewQueueStatus `json:"review_queue_status"`
	AuditTraceID      string            `json:"audit_trace_id"`
	Metadata          Metadata          `json:"metadata,omitempty"`
	Version           int               `json:"version"`
}

// ReviewRecord is the persisted, keyed registry entry for one order.
type ReviewRecord struct {
	OrderID      string       `json:"order_id"`
	AuditTraceID string       `json:"audit_trace_id"`
	OrderPayload OrderPayload `json:"order_payload"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// AuditEventType enumerates the closed set of audit event kinds.
type AuditEventType string

const (
	EventIngestPipeline   AuditEventType = "ingest_pipeline"
	EventDispatchDecision AuditEventType = "dispatch_decision"
	EventReviewDecision   AuditEventType = "review_decision"
	EventCacheHit         AuditEventType = "cache_hit"
	EventCacheMiss        AuditEventType = "cache_miss"
	EventCacheWrite       AuditEventType = "cache_write"
	EventManualCorrection AuditEventType = "manual_correction"
)

// AuditEvent is one append-only record in the audit log.
type AuditEvent struct {
	OrderID         string         `json:"order_id"`
	EventType       AuditEventType `json:"event_type"`
	Timestamp       time.Time      `json:"timestamp"`
	RawText         *string        `json:"raw_text,omitempty"`
	ParseResult     any            `json:"parse_result,omitempty"`
	Candidates      any            `json:"candidates,omitempty"`
	LLMRequest      any            `json:"llm_request,omitempty"`
	LLMResponse     any            `json:"llm_response,omitempty"`
	FallbackReason  *string        `json:"fallback_reason,omitempty"`
	MergeResult     any            `json:"merge_result,omitempty"`
	FinalOutput     any            `json:"final_output,omitempty"`
	Metadata        Metadata       `json:"metadata,omitempty"`
	NeedsReview     bool           `json:"needs_review"`
	HumanCorrection any            `json:"human_correction,omitempty"`
	Version         int            `json:"version"`
}

// CacheEntry is one value stored in the pipeline cache.
type CacheEntry struct {
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	Meta       Metadata   `json:"meta,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}
