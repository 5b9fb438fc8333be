package legacybridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/posgateway/posgateway/pkg/audit"
	"github.com/posgateway/posgateway/pkg/ingest"
	"github.com/posgateway/posgateway/pkg/llmadapter"
	"github.com/posgateway/posgateway/pkg/posmodel"
	"github.com/posgateway/posgateway/pkg/review"
	"github.com/posgateway/posgateway/pkg/storeconfig"
)

// disabledLLM never has a configured API key, so every ingest call takes
// the env_disabled fallback path without making a network request.
type disabledLLM struct{}

func (disabledLLM) Invoke(ctx context.Context, lines []posmodel.RawLine, candidates []posmodel.CandidateSet, allowedMods []string, llmConfig posmodel.LLMConfig) llmadapter.Result {
	return llmadapter.Result{Reason: llmadapter.ReasonMissingAPIKey}
}

func newTestIngester(t *testing.T) *ingest.Service {
	t.Helper()
	dir := t.TempDir()
	stores, err := storeconfig.New(filepath.Join(dir, "stores"), nil)
	require.NoError(t, err)
	reviews, err := review.New(filepath.Join(dir, "review_store.json"))
	require.NoError(t, err)
	auditLog, err := audit.New(filepath.Join(dir, "audit.log.jsonl"), nil)
	require.NoError(t, err)
	return ingest.New(stores, reviews, auditLog, disabledLLM{}, nil)
}

func TestPollerFetchesParsesAndIngests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleWire()))
	}))
	defer server.Close()

	ingester := newTestIngester(t)
	p := New(Config{
		Enabled:          true,
		Endpoint:         server.URL,
		StoreID:          "default",
		PollIntervalMS:   10000,
		RequestTimeoutMS: 5000,
		MaxOrdersPerPull: 10,
		DedupeWindowMS:   60000,
	}, http.DefaultClient, ingester, nil)

	previews, err := p.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, previews, 1)
	require.Equal(t, "ORD1", previews[0].OrderNo)
}

func TestPollerTickDedupesAcrossCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleWire()))
	}))
	defer server.Close()

	ingester := newTestIngester(t)
	p := New(Config{
		Enabled:          true,
		Endpoint:         server.URL,
		StoreID:          "default",
		PollIntervalMS:   10000,
		RequestTimeoutMS: 5000,
		MaxOrdersPerPull: 10,
		DedupeWindowMS:   60000,
	}, http.DefaultClient, ingester, nil)

	p.tick(context.Background())
	status1 := p.Status()
	require.Contains(t, status1.LastSummary, "ingested=1")

	p.tick(context.Background())
	status2 := p.Status()
	require.Contains(t, status2.LastSummary, "skipped_duplicate=1")
}

func TestPollerStartStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleWire()))
	}))
	defer server.Close()

	ingester := newTestIngester(t)
	p := New(Config{
		Enabled:          true,
		Endpoint:         server.URL,
		StoreID:          "default",
		PollIntervalMS:   2000,
		RequestTimeoutMS: 5000,
		MaxOrdersPerPull: 10,
		DedupeWindowMS:   60000,
	}, http.DefaultClient, ingester, nil)

	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	require.False(t, p.Status().LastPullAt.IsZero())
}
