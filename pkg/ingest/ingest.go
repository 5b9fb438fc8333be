// Package ingest implements the orchestrator that turns one ingest_pos_text
// request into a validated, persisted OrderPayload: store config
// resolution, candidate generation, LLM invocation with rule fallback,
// dispatch classification, and audit recording.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/posgateway/posgateway/pkg/apierr"
	"github.com/posgateway/posgateway/pkg/audit"
	"github.com/posgateway/posgateway/pkg/cache"
	"github.com/posgateway/posgateway/pkg/candidate"
	"github.com/posgateway/posgateway/pkg/contract"
	"github.com/posgateway/posgateway/pkg/dispatch"
	"github.com/posgateway/posgateway/pkg/llmadapter"
	"github.com/posgateway/posgateway/pkg/merge"
	"github.com/posgateway/posgateway/pkg/parser"
	"github.com/posgateway/posgateway/pkg/posmodel"
	"github.com/posgateway/posgateway/pkg/review"
	"github.com/posgateway/posgateway/pkg/storeconfig"
)

// Result is the outcome of one ingest call, matching the response shape
// documented in spec.md §4.12 step 11.
type Result struct {
	Accepted     bool                 `json:"accepted"`
	Version      int                  `json:"version"`
	APIVersion   string               `json:"api_version"`
	OrderPayload posmodel.OrderPayload `json:"order_payload"`
	Status       posmodel.ReviewQueueStatus `json:"status"`
	TraceID      string               `json:"trace_id"`
}

// LLMInvoker is the subset of llmadapter.Adapter this service depends on,
// so tests can substitute a stub.
type LLMInvoker interface {
	Invoke(ctx context.Context, lines []posmodel.RawLine, candidates []posmodel.CandidateSet, allowedMods []string, llmConfig posmodel.LLMConfig) llmadapter.Result
}

// defaultPipelineTimeoutFloor is the minimum total LLM-invocation timeout
// (spec.md §4.13: "max(25s, llm_timeout_s+5s)"), overridable via
// POS_PIPELINE_TIMEOUT_MS at process start.
const defaultPipelineTimeoutFloor = 25 * time.Second

// Service is the ingest orchestrator.
type Service struct {
	Stores  *storeconfig.Store
	Reviews *review.Store
	Audit   *audit.Log
	LLM     LLMInvoker
	Log     *slog.Logger

	// Cache is the pipeline cache backing item-mapping (candidate
	// generation), note-mods, and group-pattern lookups. Never nil after
	// New; callers may replace it with a fresh *cache.Cache in tests that
	// want a clean slate.
	Cache *cache.Cache

	// PipelineTimeoutFloor is the minimum total duration budgeted for an
	// LLM invocation attempt, regardless of the store's llm_config
	// timeout_s. Defaults to defaultPipelineTimeoutFloor.
	PipelineTimeoutFloor time.Duration
}

// New builds a Service from its collaborators.
func New(stores *storeconfig.Store, reviews *review.Store, auditLog *audit.Log, llm LLMInvoker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Stores:               stores,
		Reviews:              reviews,
		Audit:                auditLog,
		LLM:                  llm,
		Log:                  log,
		Cache:                cache.New(),
		PipelineTimeoutFloor: defaultPipelineTimeoutFloor,
	}
}

// cacheTally counts cache hits/misses (a miss is always immediately
// followed by a write-back) per namespace over the course of one
// Ingest call, so the pipeline can emit one consolidated cache_hit/
// cache_miss/cache_write audit event per namespace touched instead of
// one event per lookup.
type cacheTally struct {
	hits   map[cache.Namespace]int
	misses map[cache.Namespace]int
}

func newCacheTally() *cacheTally {
	return &cacheTally{hits: map[cache.Namespace]int{}, misses: map[cache.Namespace]int{}}
}

func (t *cacheTally) record(ns cache.Namespace, hit bool) {
	if hit {
		t.hits[ns]++
	} else {
		t.misses[ns]++
	}
}

// auditEvents renders the tally into cache_hit/cache_miss/cache_write
// audit events, one per namespace with any activity, skipped entirely
// when nothing was looked up (e.g. the cache saw no note/group lines).
func (t *cacheTally) auditEvents(orderID string, now time.Time) []posmodel.AuditEvent {
	var events []posmodel.AuditEvent
	for ns, n := range t.hits {
		events = append(events, posmodel.AuditEvent{
			OrderID: orderID, EventType: posmodel.EventCacheHit, Timestamp: now,
			Metadata: posmodel.Metadata{"namespace": string(ns), "count": n},
		})
	}
	for ns, n := range t.misses {
		events = append(events, posmodel.AuditEvent{
			OrderID: orderID, EventType: posmodel.EventCacheMiss, Timestamp: now,
			Metadata: posmodel.Metadata{"namespace": string(ns), "count": n},
		})
		events = append(events, posmodel.AuditEvent{
			OrderID: orderID, EventType: posmodel.EventCacheWrite, Timestamp: now,
			Metadata: posmodel.Metadata{"namespace": string(ns), "count": n},
		})
	}
	return events
}

// generateCandidates wraps candidate.Generate with the pipeline's
// item-mapping cache, keyed on each line's name_raw plus the store's
// menu_catalog_version so a stale cached mapping never survives a menu
// edit. Per-line rather than batch so repeat item names across orders in
// the same store reuse one entry.
func (s *Service) generateCandidates(lines []posmodel.RawLine, catalog []posmodel.MenuItem, menuCatalogVersion string, tally *cacheTally) []posmodel.CandidateSet {
	now := time.Now()
	out := make([]posmodel.CandidateSet, 0, len(lines))
	for _, line := range lines {
		fields := map[string]any{"name_raw": line.NameRaw, "menu_catalog_version": menuCatalogVersion}
		if entry, ok, err := s.Cache.Get(cache.ItemMapping, fields, now); err == nil && ok {
			if cands, ok := entry.Value.([]posmodel.Candidate); ok {
				tally.record(cache.ItemMapping, true)
				out = append(out, posmodel.CandidateSet{LineIndex: line.LineIndex, Candidates: cands})
				continue
			}
		}
		tally.record(cache.ItemMapping, false)
		var cands []posmodel.Candidate
		if fresh := candidate.Generate([]posmodel.RawLine{line}, catalog); len(fresh) > 0 {
			cands = fresh[0].Candidates
		}
		_ = s.Cache.Set(cache.ItemMapping, fields, cands, 1, nil, 0, now)
		out = append(out, posmodel.CandidateSet{LineIndex: line.LineIndex, Candidates: cands})
	}
	return out
}

// Ingest implements spec.md §4.12.
func (s *Service) Ingest(ctx context.Context, req contract.IngestRequest) (Result, error) {
	storeID := req.StoreID
	if storeID == "" {
		if v, ok := req.Metadata["store_id"].(string); ok && v != "" {
			storeID = v
		}
	}
	storeID = storeconfig.NormalizeStoreID(storeID)

	menuCatalog, allowedMods, llmConfig, menuVersion, modsVersion, configErr := s.resolveConfig(storeID, req)

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	traceID := req.AuditTraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	tally := newCacheTally()

	sourceText := req.Source()
	lines := parser.Parse(sourceText)
	candidates := s.generateCandidates(lines, menuCatalog, menuVersion, tally)

	merger := merge.Merger{
		Cache:              s.Cache,
		MenuCatalogVersion: menuVersion,
		AllowedModsVersion: modsVersion,
		OnCacheEvent:       tally.record,
	}

	var order posmodel.NormalizedOrder
	var fallbackReason llmadapter.FallbackReason
	llmAttempted := false
	llmUsed := false
	engine := "rule_fallback"
	var llmRequest, llmResponse json.RawMessage

	simulateTimeout := req.Simulate != nil && req.Simulate.LLMTimeout
	enabled := storeconfig.EffectiveEnabled(llmConfig)

	switch {
	case simulateTimeout:
		fallbackReason = llmadapter.ReasonLLMTimeout
		order = merge.RuleFallback(sourceText, lines, candidates)
	case !enabled:
		fallbackReason = llmadapter.ReasonEnvDisabled
		order = merge.RuleFallback(sourceText, lines, candidates)
	default:
		llmAttempted = true
		floor := s.PipelineTimeoutFloor
		if floor <= 0 {
			floor = defaultPipelineTimeoutFloor
		}
		total := time.Duration(llmConfig.TimeoutS)*time.Second + 5*time.Second
		if total < floor {
			total = floor
		}
		llmCtx, cancel := context.WithTimeout(ctx, total)
		result := s.LLM.Invoke(llmCtx, lines, candidates, allowedMods, llmConfig)
		cancel()
		llmRequest = result.Request
		llmResponse = result.Response

		if result.Output != nil {
			llmUsed = true
			engine = "python_pipeline"
			order = merger.Merge(sourceText, lines, candidates, result.Output, allowedMods)
		} else {
			fallbackReason = result.Reason
			order = merger.Merge(sourceText, lines, candidates, nil, allowedMods)
		}
	}

	order.OrderID = orderID
	if order.Metadata == nil {
		order.Metadata = posmodel.Metadata{}
	}
	order.Metadata["ingest_engine"] = engine
	if fallbackReason != "" {
		order.Metadata["fallback_reason"] = string(fallbackReason)
	}
	if configErr != "" {
		order.Metadata["config_error"] = configErr
	}
	for k, v := range req.Metadata {
		order.Metadata[k] = v
	}

	decision := dispatch.Classify(order)
	status := posmodel.StatusPendingReview
	if decision.Route == dispatch.RouteAutoDispatch {
		status = posmodel.StatusDispatchReady
	}

	payload := posmodel.OrderPayload{
		Order:             order,
		ReviewSummary:     posmodel.SummarizeOrder(order),
		ReviewQueueStatus: status,
		AuditTraceID:      traceID,
		Version:           1,
	}

	if violations := contract.ValidateOrderPayload(payload); len(violations) > 0 {
		return Result{}, apierr.Validation(violations)
	}

	if _, err := s.Reviews.Upsert(orderID, traceID, payload); err != nil {
		return Result{}, fmt.Errorf("ingest: upsert review record: %w", err)
	}

	now := time.Now().UTC()
	var reasonPtr *string
	if fallbackReason != "" {
		r := string(fallbackReason)
		reasonPtr = &r
	}
	ingestEvent := posmodel.AuditEvent{
		OrderID:        orderID,
		EventType:      posmodel.EventIngestPipeline,
		Timestamp:      now,
		RawText:        &sourceText,
		ParseResult:    lines,
		Candidates:     candidates,
		FallbackReason: reasonPtr,
		MergeResult:    order,
		FinalOutput:    payload,
		NeedsReview:    order.OverallNeedsReview,
		Metadata:       posmodel.Metadata{"llm_attempted": llmAttempted, "llm_used": llmUsed},
	}
	if llmAttempted {
		if len(llmRequest) > 0 {
			ingestEvent.LLMRequest = llmRequest
		}
		if len(llmResponse) > 0 {
			ingestEvent.LLMResponse = llmResponse
		}
	}
	_ = s.Audit.Append(ingestEvent)
	for _, ev := range tally.auditEvents(orderID, now) {
		_ = s.Audit.Append(ev)
	}
	_ = s.Audit.Append(posmodel.AuditEvent{
		OrderID:   orderID,
		EventType: posmodel.EventDispatchDecision,
		Timestamp: now,
		FinalOutput: map[string]any{
			"route":   decision.Route,
			"reasons": decision.Reasons,
			"source":  decision.Source,
		},
		NeedsReview: order.OverallNeedsReview,
	})

	return Result{
		Accepted:     true,
		Version:      1,
		APIVersion:   contract.APIVersion,
		OrderPayload: payload,
		Status:       status,
		TraceID:      traceID,
	}, nil
}

// resolveConfig implements step 2: an inline menu_catalog/allowed_mods
// override bypasses the store config read for those fields; the LLM
// config always comes from the store. menuVersion/modsVersion key the
// pipeline cache and fall back to the sentinel "inline" when the
// request supplied its own catalog/mods, since those bypass the store's
// content-hash versioning entirely.
func (s *Service) resolveConfig(storeID string, req contract.IngestRequest) (menu []posmodel.MenuItem, mods []string, llmConfig posmodel.LLMConfig, menuVersion, modsVersion, configErr string) {
	cfg, err := s.Stores.GetConfig(storeID)
	if err != nil {
		configErr = err.Error()
	} else {
		menu = cfg.MenuCatalog
		mods = cfg.AllowedMods
		llmConfig = cfg.LLMConfig
		menuVersion = cfg.MenuCatalogVersion
		modsVersion = cfg.AllowedModsVersion
	}
	if len(req.MenuCatalog) > 0 {
		menu = req.MenuCatalog
		menuVersion = "inline"
	}
	if len(req.AllowedMods) > 0 {
		mods = req.AllowedMods
		modsVersion = "inline"
	}
	return menu, mods, llmConfig, menuVersion, modsVersion, configErr
}
