// Command posgateway runs the point-of-sale ingest and review gateway:
// HTTP API, store-config registry, review store, audit log, SSE event
// hub, and an optional legacy-bridge poll loop.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/posgateway/posgateway/pkg/api"
	"github.com/posgateway/posgateway/pkg/audit"
	"github.com/posgateway/posgateway/pkg/events"
	"github.com/posgateway/posgateway/pkg/ingest"
	"github.com/posgateway/posgateway/pkg/legacybridge"
	"github.com/posgateway/posgateway/pkg/llmadapter"
	"github.com/posgateway/posgateway/pkg/posmodel"
	"github.com/posgateway/posgateway/pkg/review"
	"github.com/posgateway/posgateway/pkg/storeconfig"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func main() {
	dataDir := flag.String("data-dir", getEnv("POS_DATA_DIR", "./data/pos_pipeline"), "Path to the pipeline data directory")
	envFile := flag.String("env-file", getEnv("POS_ENV_FILE", ".env"), "Path to a .env file to load")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("warning: could not load %s: %v", *envFile, err)
	}

	logLevel := slog.LevelInfo
	if getEnv("LOG_LEVEL", "") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	httpPort := getEnv("HTTP_PORT", "8080")

	logger.Info("starting posgateway", "data_dir", *dataDir, "http_port", httpPort)

	storeConfigRoot := getEnv("POS_STORE_CONFIG_ROOT", filepath.Join(*dataDir, "stores"))
	stores, err := storeconfig.New(storeConfigRoot, logger)
	if err != nil {
		log.Fatalf("failed to initialize store config registry: %v", err)
	}

	reviews, err := review.New(filepath.Join(*dataDir, "review_store.json"))
	if err != nil {
		log.Fatalf("failed to initialize review store: %v", err)
	}

	auditLog, err := audit.New(filepath.Join(*dataDir, "audit.jsonl"), logger)
	if err != nil {
		log.Fatalf("failed to initialize audit log: %v", err)
	}

	hub := events.NewHub()

	var llm ingest.LLMInvoker
	if getEnvBool("POS_PIPELINE_PYTHON_DISABLED", false) {
		llm = disabledLLM{}
	} else {
		llm = llmadapter.New()
	}

	ingester := ingest.New(stores, reviews, auditLog, llm, logger)
	if ms := getEnvInt("POS_PIPELINE_TIMEOUT_MS", 0); ms > 0 {
		ingester.PipelineTimeoutFloor = time.Duration(ms) * time.Millisecond
	}

	var poller *legacybridge.Poller
	if getEnvBool("POS_LEGACY_ENABLED", false) {
		cfg := legacybridge.Config{
			Enabled:          true,
			Endpoint:         getEnv("POS_LEGACY_ENDPOINT", ""),
			StoreID:          getEnv("POS_LEGACY_STORE_ID", ""),
			PollIntervalMS:   getEnvInt("POS_LEGACY_POLL_INTERVAL_MS", 5000),
			RequestTimeoutMS: getEnvInt("POS_LEGACY_REQUEST_TIMEOUT_MS", 5000),
			MaxOrdersPerPull: getEnvInt("POS_LEGACY_MAX_ORDERS_PER_PULL", 50),
			DedupeWindowMS:   getEnvInt("POS_LEGACY_DEDUPE_WINDOW_MS", int(10*time.Minute/time.Millisecond)),
			DryRun:           getEnvBool("POS_LEGACY_DRY_RUN", false),
		}
		poller = legacybridge.New(cfg, http.DefaultClient, ingester, logger)
	}

	fixtures, err := api.LoadFixtures(getEnv("POS_FIXTURES_PATH", "testdata/fixtures.yaml"))
	if err != nil {
		logger.Warn("failed to load fixtures", "error", err)
	}

	server := api.NewServer(ingester, reviews, stores, auditLog, hub, poller, fixtures, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if poller != nil {
		poller.Start(ctx)
		logger.Info("legacy bridge poller started")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + httpPort)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if poller != nil {
		poller.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

// disabledLLM is the LLMInvoker used when POS_PIPELINE_PYTHON_DISABLED is
// set: every ingest call takes the env_disabled fallback path.
type disabledLLM struct{}

func (disabledLLM) Invoke(ctx context.Context, lines []posmodel.RawLine, candidates []posmodel.CandidateSet, allowedMods []string, llmConfig posmodel.LLMConfig) llmadapter.Result {
	return llmadapter.Result{Reason: llmadapter.ReasonEnvDisabled}
}
