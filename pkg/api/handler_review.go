package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/posgateway/posgateway/pkg/apierr"
	"github.com/posgateway/posgateway/pkg/contract"
	"github.com/posgateway/posgateway/pkg/posmodel"
	"github.com/posgateway/posgateway/pkg/review"
)

const defaultPageSize = 25

func pagingParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, err := strconv.Atoi(c.Query("page_size"))
	if err != nil || pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return page, pageSize
}

func (s *Server) listReviewHandler(c *gin.Context) {
	page, pageSize := pagingParams(c)
	pending, tracking, total := s.reviews.List(page, pageSize)

	items := make([]posmodel.ReviewRecord, 0, len(pending)+len(tracking))
	items = append(items, pending...)
	items = append(items, tracking...)

	var nextCursor *int
	if (page+1)*pageSize < total {
		n := page + 1
		nextCursor = &n
	}

	c.JSON(http.StatusOK, gin.H{
		"items":         items,
		"pendingReview": pending,
		"tracking":      tracking,
		"total":         total,
		"next_cursor":   nextCursor,
	})
}

func (s *Server) reviewDetailsHandler(c *gin.Context) {
	page, pageSize := pagingParams(c)
	pending, tracking, total := s.reviews.List(page, pageSize)

	details := make([]gin.H, 0, len(pending)+len(tracking))
	for _, rec := range append(append([]posmodel.ReviewRecord{}, pending...), tracking...) {
		details = append(details, gin.H{
			"order_payload":               rec.OrderPayload,
			"needs_review_item_line_indices": rec.OrderPayload.ReviewSummary.NeedsReviewItemLineIndices,
			"needs_review_group_ids":      rec.OrderPayload.ReviewSummary.NeedsReviewGroupIDs,
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": details, "total": total})
}

func (s *Server) getReviewHandler(c *gin.Context) {
	rec, err := s.reviews.Get(c.Param("orderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteReviewHandler(c *gin.Context) {
	orderID := c.Param("orderId")
	if err := s.reviews.Delete(orderID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "order_id": orderID})
}

func (s *Server) reviewDecisionHandler(c *gin.Context) {
	var req contract.ReviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, []string{"body: " + err.Error()})
		return
	}
	if req.PatchedOrder != nil && req.PatchedOrder.OrderID != "" && req.PatchedOrder.OrderID != req.OrderID {
		writeError(c, apierr.InvalidPatchedOrderID())
		return
	}
	if violations := contract.ValidateReviewDecisionRequest(req); len(violations) > 0 {
		validationError(c, violations)
		return
	}

	result, err := s.reviews.ApplyDecision(review.Decision{
		OrderID:      req.OrderID,
		Decision:     req.Decision,
		ReviewerID:   req.ReviewerID,
		Note:         req.Note,
		PatchedOrder: req.PatchedOrder,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	s.recordDecisionAudit(req, result)
	s.hub.Publish("order:"+req.OrderID, "review_decision", result.Record.OrderPayload)
	s.hub.Publish("review", "order_updated", result.Record.OrderPayload)

	c.JSON(http.StatusOK, gin.H{
		"order_id":          req.OrderID,
		"review_queue_status": result.Record.OrderPayload.ReviewQueueStatus,
		"dispatch_decision": result.DispatchDecision,
		"order_payload":     result.Record.OrderPayload,
	})
}

func (s *Server) recordDecisionAudit(req contract.ReviewDecisionRequest, result review.ApplyDecisionResult) {
	_ = s.auditLog.Append(posmodel.AuditEvent{
		OrderID:     req.OrderID,
		EventType:   posmodel.EventReviewDecision,
		FinalOutput: result.Record.OrderPayload,
		NeedsReview: result.Record.OrderPayload.ReviewSummary.OverallNeedsReview,
	})
	if result.ManualCorrection != nil {
		_ = s.auditLog.Append(posmodel.AuditEvent{
			OrderID:   req.OrderID,
			EventType: posmodel.EventManualCorrection,
			HumanCorrection: gin.H{
				"before":      result.ManualCorrection.Before,
				"after":       result.ManualCorrection.After,
				"reviewer_id": req.ReviewerID,
				"note":        req.Note,
			},
		})
	}
}

func (s *Server) clearTestDataHandler(c *gin.Context) {
	var req contract.ClearTestDataRequest
	_ = c.ShouldBindJSON(&req)

	predicate := func(rec posmodel.ReviewRecord) bool {
		if req.Scope == "all" {
			return true
		}
		return looksLikeTestData(rec)
	}

	deleted, err := s.reviews.Clear(predicate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_count": deleted, "remaining_count": s.reviews.Count()})
}

// looksLikeTestData implements the heuristic in spec.md §4.11: metadata
// or source_text matching test|smoke|fixture|demo.
func looksLikeTestData(rec posmodel.ReviewRecord) bool {
	needles := []string{"test", "smoke", "fixture", "demo"}
	haystacks := []string{strings.ToLower(rec.OrderPayload.Order.SourceText), strings.ToLower(rec.OrderID)}
	if src, ok := rec.OrderPayload.Order.Metadata["source"].(string); ok {
		haystacks = append(haystacks, strings.ToLower(src))
	}
	for _, h := range haystacks {
		for _, n := range needles {
			if strings.Contains(h, n) {
				return true
			}
		}
	}
	return false
}
