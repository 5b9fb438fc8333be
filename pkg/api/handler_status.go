package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/posgateway/posgateway/pkg/version"
)

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
}

func (s *Server) ingestEngineStatusHandler(c *gin.Context) {
	storeID := c.Query("store_id")

	cfg, err := s.stores.GetConfig(storeID)
	if err != nil {
		writeError(c, err)
		return
	}

	pending, tracking, total := s.reviews.List(0, 0)

	resp := gin.H{
		"store_id": cfg.StoreID,
		"llm_config": gin.H{
			"provider":  cfg.LLMConfig.Provider,
			"model":     cfg.LLMConfig.Model,
			"timeout_s": cfg.LLMConfig.TimeoutS,
			"enabled":   cfg.LLMConfig.Enabled,
		},
		"queue_summary": gin.H{
			"pending_review": len(pending),
			"tracking":       len(tracking),
			"total":          total,
		},
	}

	if s.poller != nil {
		resp["legacy_bridge"] = s.poller.Status()
	}

	c.JSON(http.StatusOK, resp)
}
