package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/posgateway/posgateway/pkg/posmodel"
	"github.com/posgateway/posgateway/pkg/storeconfig"
)

func (s *Server) getPipelineConfigHandler(c *gin.Context) {
	storeID := c.Query("store_id")
	cfg, err := s.stores.GetConfig(storeID)
	if err != nil {
		writeError(c, err)
		return
	}
	cfg.LLMConfig.APIKey = storeconfig.RedactAPIKey(cfg.LLMConfig.APIKey)
	c.JSON(http.StatusOK, cfg)
}

type pipelineConfigPatchRequest struct {
	StoreID     string              `json:"store_id"`
	MenuCatalog []posmodel.MenuItem `json:"menu_catalog"`
	AllowedMods []string            `json:"allowed_mods"`
}

func (s *Server) putPipelineConfigHandler(c *gin.Context) {
	var req pipelineConfigPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, []string{"body: " + err.Error()})
		return
	}

	patch := storeconfig.ConfigPatch{
		MenuCatalog: req.MenuCatalog,
		AllowedMods: req.AllowedMods,
		HasMenu:     req.MenuCatalog != nil,
		HasMods:     req.AllowedMods != nil,
	}
	cfg, err := s.stores.UpdateConfig(req.StoreID, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	cfg.LLMConfig.APIKey = storeconfig.RedactAPIKey(cfg.LLMConfig.APIKey)
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) getLLMConfigHandler(c *gin.Context) {
	storeID := c.Query("store_id")
	cfg, err := s.stores.GetLLMConfig(storeID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type llmConfigPatchRequest struct {
	StoreID  string  `json:"store_id"`
	Provider *string `json:"provider"`
	Model    *string `json:"model"`
	TimeoutS *int    `json:"timeout_s"`
	Enabled  *bool   `json:"enabled"`
	APIKey   *string `json:"api_key"`
}

func (s *Server) putLLMConfigHandler(c *gin.Context) {
	var req llmConfigPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, []string{"body: " + err.Error()})
		return
	}

	cfg, err := s.stores.UpdateLLMConfig(req.StoreID, storeconfig.LLMConfigPatch{
		Provider: req.Provider,
		Model:    req.Model,
		TimeoutS: req.TimeoutS,
		Enabled:  req.Enabled,
		APIKey:   req.APIKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
