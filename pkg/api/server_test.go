package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posgateway/posgateway/pkg/audit"
	"github.com/posgateway/posgateway/pkg/contract"
	"github.com/posgateway/posgateway/pkg/events"
	"github.com/posgateway/posgateway/pkg/ingest"
	"github.com/posgateway/posgateway/pkg/llmadapter"
	"github.com/posgateway/posgateway/pkg/posmodel"
	"github.com/posgateway/posgateway/pkg/review"
	"github.com/posgateway/posgateway/pkg/storeconfig"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	stores, err := storeconfig.New(filepath.Join(dir, "stores"), slog.Default())
	require.NoError(t, err)

	reviews, err := review.New(filepath.Join(dir, "review_store.json"))
	require.NoError(t, err)

	auditLog, err := audit.New(filepath.Join(dir, "audit.jsonl"), slog.Default())
	require.NoError(t, err)

	llm := stubLLM{}
	ingester := ingest.New(stores, reviews, auditLog, llm, slog.Default())

	hub := events.NewHub()

	fixtures := []Fixture{{Name: "case1", SourceText: "招牌鍋貼 x5", StoreID: "demo-store-01"}}

	return NewServer(ingester, reviews, stores, auditLog, hub, nil, fixtures, slog.Default())
}

// stubLLM never returns an Output, exercising the rule-fallback path for
// every request so tests don't depend on a live completion endpoint.
type stubLLM struct{}

func (stubLLM) Invoke(ctx context.Context, lines []posmodel.RawLine, candidates []posmodel.CandidateSet, allowedMods []string, llmConfig posmodel.LLMConfig) llmadapter.Result {
	return llmadapter.Result{Reason: llmadapter.ReasonEnvDisabled}
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestAndGetReview(t *testing.T) {
	s := newTestServer(t)

	ingestReq := contract.IngestRequest{
		APIVersion: contract.APIVersion,
		SourceText: "招牌鍋貼 x5\n酸辣湯 x1",
		StoreID:    "demo-store-01",
	}
	rec := doJSON(t, s, http.MethodPost, "/api/orders/ingest-pos-text", ingestReq)
	require.Equal(t, http.StatusOK, rec.Code)

	var ingestResult ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ingestResult))
	require.True(t, ingestResult.Accepted)

	orderID := ingestResult.OrderPayload.Order.OrderID
	rec = doJSON(t, s, http.MethodGet, "/api/orders/review/"+orderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rec2 posmodel.ReviewRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rec2))
	require.Equal(t, orderID, rec2.OrderID)
}

func TestIngestValidationFailureReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/orders/ingest-pos-text", contract.IngestRequest{
		APIVersion: contract.APIVersion,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetReviewUnknownOrderReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/orders/review/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewDecisionPatchedOrderIDMismatchReturns400(t *testing.T) {
	s := newTestServer(t)

	ingestRec := doJSON(t, s, http.MethodPost, "/api/orders/ingest-pos-text", contract.IngestRequest{
		APIVersion: contract.APIVersion,
		SourceText: "招牌鍋貼 x5",
		StoreID:    "demo-store-01",
	})
	require.Equal(t, http.StatusOK, ingestRec.Code)
	var ingestResult ingest.Result
	require.NoError(t, json.Unmarshal(ingestRec.Body.Bytes(), &ingestResult))
	orderID := ingestResult.OrderPayload.Order.OrderID

	patched := ingestResult.OrderPayload.Order
	patched.OrderID = "mismatched-id"

	rec := doJSON(t, s, http.MethodPost, "/api/orders/review/decision", contract.ReviewDecisionRequest{
		APIVersion:   contract.APIVersion,
		OrderID:      orderID,
		Decision:     "approve",
		ReviewerID:   "r1",
		PatchedOrder: &patched,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewDecisionApprove(t *testing.T) {
	s := newTestServer(t)

	ingestRec := doJSON(t, s, http.MethodPost, "/api/orders/ingest-pos-text", contract.IngestRequest{
		APIVersion: contract.APIVersion,
		SourceText: "招牌鍋貼 x5",
		StoreID:    "demo-store-01",
	})
	var ingestResult ingest.Result
	require.NoError(t, json.Unmarshal(ingestRec.Body.Bytes(), &ingestResult))
	orderID := ingestResult.OrderPayload.Order.OrderID

	rec := doJSON(t, s, http.MethodPost, "/api/orders/review/decision", contract.ReviewDecisionRequest{
		APIVersion: contract.APIVersion,
		OrderID:    orderID,
		Decision:   "approve",
		ReviewerID: "r1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPipelineConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)

	putRec := doJSON(t, s, http.MethodPut, "/api/orders/pipeline-config", pipelineConfigPatchRequest{
		StoreID:     "demo-store-01",
		MenuCatalog: []posmodel.MenuItem{{ItemID: "I1", CanonicalName: "招牌鍋貼"}},
		AllowedMods: []string{"no_onion"},
	})
	require.Equal(t, http.StatusOK, putRec.Code)

	getRec := doJSON(t, s, http.MethodGet, "/api/orders/pipeline-config?store_id=demo-store-01", nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	var cfg posmodel.StoreConfig
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &cfg))
	require.Len(t, cfg.MenuCatalog, 1)
	require.Equal(t, storeconfig.RedactAPIKey(cfg.LLMConfig.APIKey), cfg.LLMConfig.APIKey)
}

func TestLLMConfigAPIKeyRedactedOnRead(t *testing.T) {
	s := newTestServer(t)

	key := "sk-test-secret-value"
	putRec := doJSON(t, s, http.MethodPut, "/api/orders/llm-config", llmConfigPatchRequest{
		StoreID: "demo-store-01",
		APIKey:  &key,
	})
	require.Equal(t, http.StatusOK, putRec.Code)

	getRec := doJSON(t, s, http.MethodGet, "/api/orders/llm-config?store_id=demo-store-01", nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	var cfg posmodel.LLMConfig
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &cfg))
	require.NotEqual(t, key, cfg.APIKey)
}

func TestClearTestDataHeuristicScope(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/api/orders/ingest-pos-text", contract.IngestRequest{
		APIVersion: contract.APIVersion,
		SourceText: "招牌鍋貼 x5",
		StoreID:    "demo-store-01",
		Metadata:   posmodel.Metadata{"source": "smoke-test"},
	})

	rec := doJSON(t, s, http.MethodPost, "/api/orders/review/clear-test-data", contract.ClearTestDataRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DeletedCount int `json:"deleted_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.DeletedCount)
}

func TestIngestFixturesAndTestSuite(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/orders/ingest-fixtures", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/orders/ingest-test-suite", ingestTestSuiteRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total  int `json:"total"`
		Passed int `json:"passed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, 1, resp.Passed)
}
