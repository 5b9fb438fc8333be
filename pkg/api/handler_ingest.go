package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/posgateway/posgateway/pkg/contract"
)

func (s *Server) ingestHandler(c *gin.Context) {
	s.doIngest(c, "")
}

func (s *Server) ingestWithStoreHandler(c *gin.Context) {
	s.doIngest(c, c.Param("storeId"))
}

func (s *Server) doIngest(c *gin.Context, forcedStoreID string) {
	var req contract.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, []string{"body: " + err.Error()})
		return
	}
	if forcedStoreID != "" {
		req.StoreID = forcedStoreID
	}

	if violations := contract.ValidateIngestRequest(req); len(violations) > 0 {
		validationError(c, violations)
		return
	}

	result, err := s.ingester.Ingest(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	s.hub.Publish("order:"+result.OrderPayload.Order.OrderID, "ingest_pipeline", result.OrderPayload)
	s.hub.Publish("review", "order_updated", result.OrderPayload)

	c.JSON(http.StatusOK, result)
}
