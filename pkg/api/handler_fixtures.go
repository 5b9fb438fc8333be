package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/posgateway/posgateway/pkg/contract"
)

// ingestFixturesHandler serves GET /api/orders/ingest-fixtures: the raw
// bundled fixture list, for a caller that wants to drive its own ingest
// calls rather than use the test-suite runner below.
func (s *Server) ingestFixturesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fixtures": s.fixtures})
}

type ingestTestSuiteRequest struct {
	StoreID     string `json:"store_id"`
	Scenario    string `json:"scenario"`
	MaxCases    int    `json:"max_cases"`
	InjectDirty bool   `json:"inject_dirty"`
}

type testSuiteCaseResult struct {
	Name              string `json:"name"`
	Accepted          bool   `json:"accepted"`
	ReviewQueueStatus string `json:"review_queue_status,omitempty"`
	Error             string `json:"error,omitempty"`
}

// ingestTestSuiteHandler serves POST /api/orders/ingest-test-suite: runs
// every bundled fixture (optionally filtered/capped) through the ingest
// pipeline and reports a per-case outcome summary.
func (s *Server) ingestTestSuiteHandler(c *gin.Context) {
	var req ingestTestSuiteRequest
	_ = c.ShouldBindJSON(&req)

	cases := s.fixtures
	if req.Scenario != "" {
		filtered := make([]Fixture, 0, len(cases))
		for _, f := range cases {
			if f.Name == req.Scenario {
				filtered = append(filtered, f)
			}
		}
		cases = filtered
	}
	if req.MaxCases > 0 && len(cases) > req.MaxCases {
		cases = cases[:req.MaxCases]
	}

	results := make([]testSuiteCaseResult, 0, len(cases))
	passed := 0
	for _, f := range cases {
		storeID := f.StoreID
		if req.StoreID != "" {
			storeID = req.StoreID
		}
		sourceText := f.SourceText
		if req.InjectDirty {
			sourceText += "\n???garbled???"
		}

		ingestReq := contract.IngestRequest{
			APIVersion: contract.APIVersion,
			SourceText: sourceText,
			StoreID:    storeID,
			Metadata:   f.Metadata,
		}

		result, err := s.ingester.Ingest(c.Request.Context(), ingestReq)
		if err != nil {
			results = append(results, testSuiteCaseResult{Name: f.Name, Error: err.Error()})
			continue
		}
		passed++
		results = append(results, testSuiteCaseResult{
			Name:              f.Name,
			Accepted:          result.Accepted,
			ReviewQueueStatus: string(result.Status),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   len(cases),
		"passed":  passed,
		"failed":  len(cases) - passed,
		"results": results,
	})
}
