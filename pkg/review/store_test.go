package review

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posgateway/posgateway/pkg/apierr"
	"github.com/posgateway/posgateway/pkg/dispatch"
	"github.com/posgateway/posgateway/pkg/posmodel"
)

func code(s string) *string { return &s }

func sampleOrder(orderID string, needsReview bool) posmodel.NormalizedOrder {
	var itemCode *string
	if !needsReview {
		itemCode = code("I1")
	}
	order := posmodel.NormalizedOrder{
		OrderID: orderID,
		Items: []posmodel.NormalizedItem{
			{LineIndex: 0, NameRaw: "牛肉麵", ItemCode: itemCode, Qty: 1, NeedsReview: needsReview},
		},
	}
	order.Recompute()
	return order
}

func samplePayload(orderID string, needsReview bool) posmodel.OrderPayload {
	order := sampleOrder(orderID, needsReview)
	return posmodel.OrderPayload{
		Order:             order,
		ReviewSummary:     posmodel.SummarizeOrder(order),
		ReviewQueueStatus: posmodel.StatusPendingReview,
		AuditTraceID:      "trace-1",
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "review_store.json"))
	require.NoError(t, err)
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	payload := samplePayload("order-1", true)

	rec, err := s.Upsert("order-1", "trace-1", payload)
	require.NoError(t, err)
	require.Equal(t, "order-1", rec.OrderID)
	require.False(t, rec.CreatedAt.IsZero())

	got, err := s.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, rec.OrderID, got.OrderID)
}

func TestGetUnknownOrderReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.CodeOrderNotFound, apiErr.Code)
}

func TestApplyDecisionReject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert("order-1", "trace-1", samplePayload("order-1", true))
	require.NoError(t, err)

	result, err := s.ApplyDecision(Decision{OrderID: "order-1", Decision: "reject", ReviewerID: "r1"})
	require.NoError(t, err)
	require.Equal(t, posmodel.StatusRejected, result.Record.OrderPayload.ReviewQueueStatus)
}

func TestApplyDecisionApproveAutoDispatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert("order-1", "trace-1", samplePayload("order-1", false))
	require.NoError(t, err)

	result, err := s.ApplyDecision(Decision{OrderID: "order-1", Decision: "approve", ReviewerID: "r1"})
	require.NoError(t, err)
	require.Equal(t, dispatch.RouteAutoDispatch, result.DispatchDecision.Route)
	require.Equal(t, posmodel.StatusDispatchReady, result.Record.OrderPayload.ReviewQueueStatus)
}

func TestApplyDecisionApproveStillNeedsReviewStaysInReview(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert("order-1", "trace-1", samplePayload("order-1", true))
	require.NoError(t, err)

	result, err := s.ApplyDecision(Decision{OrderID: "order-1", Decision: "approve", ReviewerID: "r1"})
	require.NoError(t, err)
	require.Equal(t, dispatch.RouteReviewQueue, result.DispatchDecision.Route)
	require.Equal(t, posmodel.StatusInReview, result.Record.OrderPayload.ReviewQueueStatus)
}

// TestApplyDecisionWithPatchedOrder covers the approve-with-patch scenario:
// a reviewer fixes a missing item_code before approving, and the store
// recomputes review_summary and re-classifies against the patched order.
func TestApplyDecisionWithPatchedOrder(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert("order-1", "trace-1", samplePayload("order-1", true))
	require.NoError(t, err)

	patched := sampleOrder("order-1", false)
	result, err := s.ApplyDecision(Decision{
		OrderID:      "order-1",
		Decision:     "approve",
		ReviewerID:   "r1",
		PatchedOrder: &patched,
	})
	require.NoError(t, err)
	require.NotNil(t, result.ManualCorrection)
	require.True(t, result.ManualCorrection.Before.OverallNeedsReview)
	require.False(t, result.ManualCorrection.After.OverallNeedsReview)
	require.Equal(t, dispatch.RouteAutoDispatch, result.DispatchDecision.Route)
	require.False(t, result.Record.OrderPayload.ReviewSummary.OverallNeedsReview)
}

func TestApplyDecisionUnknownOrder(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ApplyDecision(Decision{OrderID: "missing", Decision: "approve"})
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.CodeOrderNotFound, apiErr.Code)
}

func TestListSplitsPendingAndTracking(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert("order-1", "trace-1", samplePayload("order-1", true))
	require.NoError(t, err)
	_, err = s.ApplyDecision(Decision{OrderID: "order-1", Decision: "reject"})
	require.NoError(t, err)
	_, err = s.Upsert("order-2", "trace-2", samplePayload("order-2", true))
	require.NoError(t, err)

	pending, tracking, total := s.List(0, 10)
	require.Equal(t, 2, total)
	require.Len(t, pending, 1)
	require.Len(t, tracking, 1)
	require.Equal(t, "order-2", pending[0].OrderID)
	require.Equal(t, "order-1", tracking[0].OrderID)
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert("order-1", "trace-1", samplePayload("order-1", true))
	require.NoError(t, err)

	require.NoError(t, s.Delete("order-1"))
	_, err = s.Get("order-1")
	require.Error(t, err)
}

func TestClearRemovesMatching(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert("test-order-1", "trace-1", samplePayload("test-order-1", true))
	require.NoError(t, err)
	_, err = s.Upsert("order-2", "trace-2", samplePayload("order-2", true))
	require.NoError(t, err)

	n, err := s.Clear(func(rec posmodel.ReviewRecord) bool {
		return len(rec.OrderID) >= 11 && rec.OrderID[:11] == "test-order-"
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, s.Count())
}

func TestReopenLoadsPersistedRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "review_store.json")
	s1, err := New(path)
	require.NoError(t, err)
	_, err = s1.Upsert("order-1", "trace-1", samplePayload("order-1", true))
	require.NoError(t, err)

	s2, err := New(path)
	require.NoError(t, err)
	rec, err := s2.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, "order-1", rec.OrderID)
}
