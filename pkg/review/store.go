// Package review implements the file-backed review-record registry and
// its apply-decision state machine.
package review

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/posgateway/posgateway/pkg/apierr"
	"github.com/posgateway/posgateway/pkg/atomicfile"
	"github.com/posgateway/posgateway/pkg/dispatch"
	"github.com/posgateway/posgateway/pkg/lock"
	"github.com/posgateway/posgateway/pkg/posmodel"
)

// nowFunc is overridable in tests.
var nowFunc = timeNow

// Store is the file-backed `{order_id -> ReviewRecord}` registry,
// persisted as one JSON document with atomic temp-file-rename on every
// mutation. Per-order operations are serialized by a keyed lock; the
// flush itself is further serialized so concurrent orders never race on
// the single backing file.
type Store struct {
	path string

	mu      sync.RWMutex
	records map[string]posmodel.ReviewRecord

	orderLocks *lock.Keyed
	flushMu    sync.Mutex
}

// New loads (or creates) the review store document at path.
func New(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[string]posmodel.ReviewRecord), orderLocks: lock.NewKeyed()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("review: read store: %w", err)
	}
	var records map[string]posmodel.ReviewRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("review: parse store: %w", err)
	}
	s.records = records
	return nil
}

// flush persists the full record map atomically. It takes s.mu's read
// lock itself, so callers release s.mu before calling it.
func (s *Store) flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	raw, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("review: marshal store: %w", err)
	}
	return atomicfile.Write(s.path, raw)
}

// Get returns the review record for orderID, or apierr.NotFound.
func (s *Store) Get(orderID string) (posmodel.ReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[orderID]
	if !ok {
		return posmodel.ReviewRecord{}, apierr.NotFound(orderID)
	}
	return rec, nil
}

// Upsert inserts or replaces the order's payload. created_at is
// preserved across updates; updated_at always advances.
func (s *Store) Upsert(orderID, auditTraceID string, payload posmodel.OrderPayload) (posmodel.ReviewRecord, error) {
	var rec posmodel.ReviewRecord
	var err error
	s.orderLocks.With(orderID, func() {
		now := nowFunc()
		s.mu.Lock()
		existing, had := s.records[orderID]
		createdAt := now
		if had {
			createdAt = existing.CreatedAt
		}
		rec = posmodel.ReviewRecord{
			OrderID:      orderID,
			AuditTraceID: auditTraceID,
			OrderPayload: payload,
			CreatedAt:    createdAt,
			UpdatedAt:    now,
		}
		s.records[orderID] = rec
		s.mu.Unlock()
		err = s.flush()
	})
	return rec, err
}

// Delete purges orderID without recording an audit event (used for
// reject-and-remove).
func (s *Store) Delete(orderID string) error {
	found := false
	var err error
	s.orderLocks.With(orderID, func() {
		s.mu.Lock()
		if _, ok := s.records[orderID]; ok {
			delete(s.records, orderID)
			found = true
		}
		s.mu.Unlock()
		if found {
			err = s.flush()
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return apierr.NotFound(orderID)
	}
	return nil
}

// Clear removes every record for which predicate returns true, returning
// the count removed.
func (s *Store) Clear(predicate func(posmodel.ReviewRecord) bool) (int, error) {
	s.mu.Lock()
	var removed int
	for id, rec := range s.records {
		if predicate(rec) {
			delete(s.records, id)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		if err := s.flush(); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// Count returns the number of currently persisted records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// List returns every record, split into pending_review (statuses not in
// posmodel.TrackingStatuses) and tracking, each paged by updated_at
// descending.
func (s *Store) List(page, pageSize int) (pendingReview, tracking []posmodel.ReviewRecord, total int) {
	s.mu.RLock()
	all := make([]posmodel.ReviewRecord, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	var pending, track []posmodel.ReviewRecord
	for _, rec := range all {
		if posmodel.TrackingStatuses[rec.OrderPayload.ReviewQueueStatus] {
			track = append(track, rec)
		} else {
			pending = append(pending, rec)
		}
	}

	total = len(all)
	return pageSlice(pending, page, pageSize), pageSlice(track, page, pageSize), total
}

func pageSlice(records []posmodel.ReviewRecord, page, pageSize int) []posmodel.ReviewRecord {
	if pageSize <= 0 {
		return records
	}
	start := page * pageSize
	if start >= len(records) {
		return nil
	}
	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}

// Decision is the input to ApplyDecision.
type Decision struct {
	OrderID      string
	Decision     string // approve | reject | request_changes
	ReviewerID   string
	Note         string
	PatchedOrder *posmodel.NormalizedOrder
}

// ApplyDecisionResult is the outcome of ApplyDecision.
type ApplyDecisionResult struct {
	Record           posmodel.ReviewRecord
	DispatchDecision dispatch.Decision
	ManualCorrection *ManualCorrection
}

// ManualCorrection captures the before/after order when a patched_order
// is applied, for the caller to append as an audit manual_correction
// event.
type ManualCorrection struct {
	Before posmodel.NormalizedOrder
	After  posmodel.NormalizedOrder
}

// ApplyDecision implements the state machine in spec.md §4.11: reject ->
// rejected; request_changes -> in_review; approve -> dispatch_ready or
// in_review depending on re-classification. A supplied PatchedOrder must
// carry the same order_id (checked by the caller before this is invoked)
// and replaces the stored order, recomputing review_summary and
// capturing the prior order as a manual_correction.
func (s *Store) ApplyDecision(d Decision) (ApplyDecisionResult, error) {
	var result ApplyDecisionResult
	var err error

	s.orderLocks.With(d.OrderID, func() {
		s.mu.RLock()
		rec, ok := s.records[d.OrderID]
		s.mu.RUnlock()
		if !ok {
			err = apierr.NotFound(d.OrderID)
			return
		}

		before := rec.OrderPayload.Order
		order := rec.OrderPayload.Order
		var correction *ManualCorrection
		if d.PatchedOrder != nil {
			order = *d.PatchedOrder
			correction = &ManualCorrection{Before: before, After: order}
		}

		var decision dispatch.Decision
		switch d.Decision {
		case "reject":
			rec.OrderPayload.ReviewQueueStatus = posmodel.StatusRejected
		case "request_changes":
			rec.OrderPayload.ReviewQueueStatus = posmodel.StatusInReview
		case "approve":
			decision = dispatch.Classify(order)
			if decision.Route == dispatch.RouteAutoDispatch {
				rec.OrderPayload.ReviewQueueStatus = posmodel.StatusDispatchReady
			} else {
				rec.OrderPayload.ReviewQueueStatus = posmodel.StatusInReview
			}
		}

		rec.OrderPayload.Order = order
		rec.OrderPayload.ReviewSummary = posmodel.SummarizeOrder(order)

		now := nowFunc()
		rec.UpdatedAt = now

		s.mu.Lock()
		s.records[d.OrderID] = rec
		s.mu.Unlock()

		if flushErr := s.flush(); flushErr != nil {
			err = flushErr
			return
		}

		result = ApplyDecisionResult{Record: rec, DispatchDecision: decision, ManualCorrection: correction}
	})

	return result, err
}
